package judge

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned by the Router when a login-gated
	// operation is requested on a backend without a valid session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrUnknownBackend is returned for backend names missing from the registry.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrUnsupportedLanguage means a backend has no language code for the
	// requested Language.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrProblemNotFound means the backend has no problem with the given id.
	ErrProblemNotFound = errors.New("problem not found")

	// ErrUnresolvedReference means no backend recognized a problem reference.
	ErrUnresolvedReference = errors.New("problem reference not recognized")
)

// NotAuthenticatedError carries the backend and the operation that was
// refused.
type NotAuthenticatedError struct {
	Backend string
	Op      string
}

func (e *NotAuthenticatedError) Error() string {
	return fmt.Sprintf("%s: %s requires login", e.Backend, e.Op)
}

func (e *NotAuthenticatedError) Unwrap() error {
	return ErrNotAuthenticated
}

// DriftError reports that a judge page no longer has the structure an
// adapter expects.
type DriftError struct {
	Backend string
	What    string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("%s: unexpected response: %s", e.Backend, e.What)
}

// Drift builds a DriftError with a formatted description.
func Drift(backend, format string, args ...any) error {
	return &DriftError{Backend: backend, What: fmt.Sprintf(format, args...)}
}
