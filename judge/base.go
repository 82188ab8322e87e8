package judge

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CaptchaSolver turns a captcha image into its text. An empty answer means
// the user gave up.
type CaptchaSolver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// CaptchaFunc adapts a function to CaptchaSolver.
type CaptchaFunc func(ctx context.Context, image []byte) (string, error)

func (f CaptchaFunc) Solve(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// Env carries the process-wide collaborators handed to every backend
// constructor.
type Env struct {
	Logger      *zap.Logger
	HTTPTimeout time.Duration
	Captcha     CaptchaSolver
}

// Log returns the configured logger or a no-op one.
func (e Env) Log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// HTTPOptions translates Env into HTTPSession options.
func (e Env) HTTPOptions(name string) []HTTPOption {
	return []HTTPOption{
		WithHTTPTimeout(e.HTTPTimeout),
		WithHTTPLogger(e.Log().With(zap.String("backend", name))),
	}
}

// Base implements the session plumbing and capability flags shared by most
// backends. Adapters embed it and override what differs.
type Base struct {
	Session *HTTPSession
}

func (b *Base) Bootstrap(context.Context) error { return nil }

func (b *Base) RequireSubmitLogin() bool { return true }

func (b *Base) RequireViewLogin() bool { return false }

func (b *Base) SearchProblem(string) (string, bool) { return "", false }

func (b *Base) DumpSession() SessionState {
	return SessionState{Cookies: b.Session.Dump()}
}

func (b *Base) LoadSession(state SessionState) error {
	return b.Session.Load(state.Cookies)
}
