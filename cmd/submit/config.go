package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/david-why/submit/internal/config"
	"github.com/david-why/submit/internal/logger"
	"github.com/david-why/submit/judge"
	"github.com/david-why/submit/judge/backends"
	"github.com/david-why/submit/judge/sessionstore"
)

// app is the state shared by every command of one invocation.
type app struct {
	cfg    config.Config
	router *judge.Router
	store  judge.Store
	closer io.Closer
	poller judge.Poller
	// cleared is set once the session store was wiped; nothing is saved back.
	cleared bool

	in  *bufio.Reader
	out io.Writer
	err io.Writer
}

// setup loads the configuration, restores saved sessions and builds the
// router. Flags given on the command line override the config file.
func (a *app) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if a.in == nil {
		a.in = bufio.NewReader(os.Stdin)
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	if a.err == nil {
		a.err = os.Stderr
	}

	reg := backends.Default()
	cfg, err := config.Load(cmd.String("config"), reg.Names())
	if err != nil {
		return ctx, err
	}
	if cmd.IsSet("save-file") {
		cfg.Sessions.Store = "file"
		cfg.Sessions.File = cmd.String("save-file")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("timeout") {
		cfg.Poll.Timeout = config.Duration(cmd.Duration("timeout"))
	}
	if cmd.IsSet("interval") {
		cfg.Poll.Interval = config.Duration(cmd.Duration("interval"))
	}
	a.cfg = cfg

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	}); err != nil {
		return ctx, err
	}
	ctx = logger.WithTraceID(ctx, uuid.NewString())

	if err := a.openStore(ctx); err != nil {
		return ctx, err
	}

	a.router = judge.NewRouter(reg,
		judge.WithSettings(cfg.Backends),
		judge.WithEnv(judge.Env{
			Logger:      logger.FromContext(ctx),
			HTTPTimeout: time.Duration(cfg.HTTP.Timeout),
			Captcha:     &terminalCaptcha{a: a},
		}),
	)
	a.poller = judge.Poller{
		Interval: time.Duration(cfg.Poll.Interval),
		Timeout:  time.Duration(cfg.Poll.Timeout),
		Logger:   logger.FromContext(ctx),
	}
	if err := a.router.LoadSessions(ctx, a.store); err != nil {
		return ctx, err
	}
	logger.Debug(ctx, "sessions restored", zap.Strings("backends", a.router.Sessions()))
	return ctx, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Sessions.Store {
	case "file":
		f := sessionstore.NewFile(a.cfg.Sessions.File)
		logger.Debug(ctx, "session file", zap.String("path", f.Path()))
		a.store = f
	case "redis":
		r, err := sessionstore.NewRedis(sessionstore.RedisConfig{
			Addr:     a.cfg.Sessions.Redis.Addr,
			Password: a.cfg.Sessions.Redis.Password,
			DB:       a.cfg.Sessions.Redis.DB,
			Key:      a.cfg.Sessions.Redis.Key,
		})
		if err != nil {
			return fmt.Errorf("open redis session store: %w", err)
		}
		a.store, a.closer = r, r
	default:
		return fmt.Errorf("unknown session store %q", a.cfg.Sessions.Store)
	}
	return nil
}

// teardown saves every session touched by the command, even after an
// interrupt.
func (a *app) teardown(ctx context.Context, _ *cli.Command) error {
	if a.router == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	var err error
	if !a.cleared {
		err = a.router.SaveSessions(ctx, a.store)
	}
	if err != nil {
		logger.Error(ctx, "save sessions failed", zap.Error(err))
	}
	if a.closer != nil {
		a.closer.Close()
	}
	_ = logger.Sync()
	return err
}
