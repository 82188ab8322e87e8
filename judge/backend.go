package judge

import "context"

// Backend is the interface for online judge integrations. One Backend owns
// one HTTP session and is not safe for concurrent use; the Router
// serializes access to it.
type Backend interface {
	// Name is the registry name, e.g. "codeforces".
	Name() string

	// ParseProblemURL extracts a problem id from a URL of this judge.
	// It performs no I/O and reports false for foreign URLs.
	ParseProblemURL(rawURL string) (string, bool)

	// ProblemURL is the best-effort inverse of ParseProblemURL.
	ProblemURL(id string) (string, bool)

	// SearchProblem scans free text, usually source code, for a reference
	// to a problem of this judge.
	SearchProblem(text string) (string, bool)

	// Bootstrap performs one-time preparation such as deriving anti-bot
	// cookies. The Router calls it once before the first network operation.
	Bootstrap(ctx context.Context) error

	// Login authenticates. Rejected credentials return false and a nil error.
	Login(ctx context.Context, username, password string) (bool, error)

	// Logout ends the session on the server and clears local cookies.
	Logout(ctx context.Context) (bool, error)

	// LoggedIn checks with the server whether the session is still valid.
	LoggedIn(ctx context.Context) (bool, error)

	// Problem fetches a problem statement. It returns nil, nil when the
	// problem does not exist.
	Problem(ctx context.Context, id string) (*Problem, error)

	// Submit sends code and returns a handle that is enough, on its own,
	// to poll the submission later, including from another process.
	Submit(ctx context.Context, id, code string, lang Language) (string, error)

	// Submission polls once. It returns nil, nil while judging is pending.
	Submission(ctx context.Context, handle string) (*Submission, error)

	// RequireSubmitLogin reports whether Submit needs an authenticated session.
	RequireSubmitLogin() bool

	// RequireViewLogin reports whether Problem needs an authenticated session.
	RequireViewLogin() bool

	// DumpSession exports the session (cookies and backend tokens, never
	// credentials).
	DumpSession() SessionState

	// LoadSession replaces the session with a previously dumped one.
	LoadSession(state SessionState) error
}
