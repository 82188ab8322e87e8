package judge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Target identifies a problem on a specific backend.
type Target struct {
	Backend string
	Problem string
}

func (t Target) String() string {
	return t.Backend + ":" + t.Problem
}

// Router owns one lazily built Backend per registered judge, resolves
// problem references to backends and refuses login-gated operations on
// unauthenticated sessions. Calls on different backends may run
// concurrently; calls on the same backend are serialized.
type Router struct {
	reg      *Registry
	settings map[string]map[string]string
	env      Env
	log      *zap.Logger
	entries  map[string]*entry
	results  *xsync.MapOf[resultKey, *Submission]
}

type entry struct {
	def          Def
	mu           sync.Mutex
	backend      Backend
	bootstrapped bool
	pending      *SessionState
	state        AuthState
}

type resultKey struct {
	backend string
	handle  string
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSettings supplies per-backend settings, keyed by backend name.
func WithSettings(settings map[string]map[string]string) RouterOption {
	return func(r *Router) {
		for name, s := range settings {
			r.settings[name] = s
		}
	}
}

// WithEnv supplies the collaborators handed to backend constructors.
func WithEnv(env Env) RouterOption {
	return func(r *Router) {
		r.env = env
	}
}

// NewRouter creates a Router over a registry.
func NewRouter(reg *Registry, opts ...RouterOption) *Router {
	r := &Router{
		reg:      reg,
		settings: make(map[string]map[string]string),
		entries:  make(map[string]*entry),
		results:  xsync.NewMapOf[resultKey, *Submission](),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.env.Log().Named("router")
	for _, d := range reg.Defs() {
		r.entries[d.Name] = &entry{def: d}
	}
	return r
}

// Registry returns the registry the router was built from.
func (r *Router) Registry() *Registry {
	return r.reg
}

func (r *Router) entry(name string) (*entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return e, nil
}

// Backend returns the backend instance for name, building it on first use.
func (r *Router) Backend(name string) (Backend, error) {
	e, err := r.entry(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.instance(e)
}

// instance must be called with e.mu held.
func (r *Router) instance(e *entry) (Backend, error) {
	if e.backend != nil {
		return e.backend, nil
	}
	b, err := r.reg.Build(e.def.Name, r.settings[e.def.Name], r.env)
	if err != nil {
		return nil, err
	}
	if e.pending != nil {
		if err := b.LoadSession(*e.pending); err != nil {
			return nil, fmt.Errorf("%s: restore session: %w", e.def.Name, err)
		}
		e.pending = nil
	}
	e.backend = b
	r.log.Debug("backend created", zap.String("backend", e.def.Name))
	return b, nil
}

// ready returns a bootstrapped backend. It must be called with e.mu held.
func (r *Router) ready(ctx context.Context, e *entry) (Backend, error) {
	b, err := r.instance(e)
	if err != nil {
		return nil, err
	}
	if !e.bootstrapped {
		if err := b.Bootstrap(ctx); err != nil {
			return nil, fmt.Errorf("%s: bootstrap: %w", e.def.Name, err)
		}
		e.bootstrapped = true
	}
	return b, nil
}

// requireLogin revalidates the session. It must be called with e.mu held.
func (r *Router) requireLogin(ctx context.Context, e *entry, b Backend, op string) error {
	ok, err := b.LoggedIn(ctx)
	if err != nil {
		return fmt.Errorf("%s: check session: %w", e.def.Name, err)
	}
	if !ok {
		if e.state == Authenticated {
			r.log.Info("session expired", zap.String("backend", e.def.Name))
		}
		e.state = Anonymous
		return &NotAuthenticatedError{Backend: e.def.Name, Op: op}
	}
	e.state = Authenticated
	return nil
}

func (r *Router) eachBackend(fn func(name string, b Backend) bool) {
	for _, name := range r.reg.Names() {
		b, err := r.Backend(name)
		if err != nil {
			r.log.Warn("backend unavailable", zap.String("backend", name), zap.Error(err))
			continue
		}
		if !fn(name, b) {
			return
		}
	}
}

// ParseProblemURL asks every backend, in registration order, to recognize
// rawURL. The first match wins.
func (r *Router) ParseProblemURL(rawURL string) (Target, bool) {
	var t Target
	found := false
	r.eachBackend(func(name string, b Backend) bool {
		if id, ok := b.ParseProblemURL(rawURL); ok {
			t, found = Target{Backend: name, Problem: id}, true
			return false
		}
		return true
	})
	return t, found
}

// SearchProblem scans text for a problem reference, asking backends in
// registration order.
func (r *Router) SearchProblem(text string) (Target, bool) {
	var t Target
	found := false
	r.eachBackend(func(name string, b Backend) bool {
		if id, ok := b.SearchProblem(text); ok {
			t, found = Target{Backend: name, Problem: id}, true
			return false
		}
		return true
	})
	return t, found
}

// Resolve interprets a user supplied reference: "backend:problem-id" or a
// problem URL. A known backend prefix is taken as is, without building any
// backend.
func (r *Router) Resolve(ref string) (Target, error) {
	ref = strings.TrimSpace(ref)
	if name, id, ok := strings.Cut(ref, ":"); ok && id != "" {
		if _, known := r.entries[name]; known {
			return Target{Backend: name, Problem: id}, nil
		}
	}
	if t, ok := r.ParseProblemURL(ref); ok {
		return t, nil
	}
	return Target{}, fmt.Errorf("%w: %q", ErrUnresolvedReference, ref)
}

// ProblemURL returns the web address of a target.
func (r *Router) ProblemURL(t Target) (string, bool) {
	b, err := r.Backend(t.Backend)
	if err != nil {
		return "", false
	}
	return b.ProblemURL(t.Problem)
}

// Login authenticates the named backend.
func (r *Router) Login(ctx context.Context, name, username, password string) (bool, error) {
	e, err := r.entry(name)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := r.ready(ctx, e)
	if err != nil {
		return false, err
	}

	prev := e.state
	e.state = Authenticating
	ok, err := b.Login(ctx, username, password)
	switch {
	case err != nil:
		e.state = prev
		return false, fmt.Errorf("%s: login: %w", name, err)
	case ok:
		e.state = Authenticated
	default:
		e.state = Anonymous
	}
	r.log.Info("login", zap.String("backend", name), zap.Bool("success", ok))
	return ok, nil
}

// Logout ends the session of the named backend.
func (r *Router) Logout(ctx context.Context, name string) (bool, error) {
	e, err := r.entry(name)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := r.ready(ctx, e)
	if err != nil {
		return false, err
	}
	ok, err := b.Logout(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: logout: %w", name, err)
	}
	e.state = Anonymous
	return ok, nil
}

// LoggedIn asks the named backend whether its session is still valid.
func (r *Router) LoggedIn(ctx context.Context, name string) (bool, error) {
	e, err := r.entry(name)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := r.ready(ctx, e)
	if err != nil {
		return false, err
	}
	ok, err := b.LoggedIn(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: check session: %w", name, err)
	}
	if ok {
		e.state = Authenticated
	} else {
		e.state = Anonymous
	}
	return ok, nil
}

// Problem fetches a problem statement.
func (r *Router) Problem(ctx context.Context, t Target) (*Problem, error) {
	e, err := r.entry(t.Backend)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := r.ready(ctx, e)
	if err != nil {
		return nil, err
	}
	if b.RequireViewLogin() {
		if err := r.requireLogin(ctx, e, b, "get problem"); err != nil {
			return nil, err
		}
	}
	p, err := b.Problem(ctx, t.Problem)
	if err != nil {
		return nil, fmt.Errorf("%s: get problem %s: %w", t.Backend, t.Problem, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProblemNotFound, t)
	}
	return p, nil
}

// Submit sends code for a target and returns the submission handle.
func (r *Router) Submit(ctx context.Context, t Target, code string, lang Language) (string, error) {
	e, err := r.entry(t.Backend)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := r.ready(ctx, e)
	if err != nil {
		return "", err
	}
	if b.RequireSubmitLogin() {
		if err := r.requireLogin(ctx, e, b, "submit"); err != nil {
			return "", err
		}
	}
	handle, err := b.Submit(ctx, t.Problem, code, lang)
	if err != nil {
		return "", fmt.Errorf("%s: submit %s: %w", t.Backend, t.Problem, err)
	}
	r.log.Debug("submitted", zap.Stringer("target", t), zap.String("handle", handle))
	return handle, nil
}

// Submission polls a submission once. Terminal results are remembered, so
// later polls of the same handle return the same Submission.
func (r *Router) Submission(ctx context.Context, name, handle string) (*Submission, error) {
	key := resultKey{backend: name, handle: handle}
	if sub, ok := r.results.Load(key); ok {
		return sub, nil
	}
	e, err := r.entry(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := r.ready(ctx, e)
	if err != nil {
		return nil, err
	}
	sub, err := b.Submission(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("%s: poll %s: %w", name, handle, err)
	}
	if sub != nil {
		sub, _ = r.results.LoadOrStore(key, sub)
	}
	return sub, nil
}

// Wait polls a submission with p until it resolves, the poller times out
// (nil, nil) or ctx is done.
func (r *Router) Wait(ctx context.Context, name, handle string, p Poller) (*Submission, error) {
	if p.Logger == nil {
		p.Logger = r.log.With(zap.String("backend", name))
	}
	return p.Wait(ctx, func(ctx context.Context, h string) (*Submission, error) {
		return r.Submission(ctx, name, h)
	}, handle)
}

// State returns the last known lifecycle state of a backend session.
func (r *Router) State(name string) AuthState {
	e, ok := r.entries[name]
	if !ok {
		return Anonymous
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Sessions lists, in registration order, the backends that currently hold
// a session: restored from a store or authenticated in this process.
func (r *Router) Sessions() []string {
	var names []string
	for _, name := range r.reg.Names() {
		e := r.entries[name]
		e.mu.Lock()
		has := e.pending != nil || e.state == Authenticated ||
			(e.backend != nil && !e.backend.DumpSession().Empty())
		e.mu.Unlock()
		if has {
			names = append(names, name)
		}
	}
	return names
}

// LoadSessions restores every backend session saved in store. Restored
// sessions are not validated here; the next login-gated call does that.
func (r *Router) LoadSessions(ctx context.Context, store Store) error {
	for _, name := range r.reg.Names() {
		blob, err := store.Load(ctx, name)
		if err != nil {
			return fmt.Errorf("load session %s: %w", name, err)
		}
		if blob == nil {
			continue
		}
		state, err := DecodeSession(blob)
		if err != nil {
			return fmt.Errorf("decode session %s: %w", name, err)
		}
		if state.Empty() {
			continue
		}
		e := r.entries[name]
		e.mu.Lock()
		if e.backend != nil {
			err = e.backend.LoadSession(state)
		} else {
			e.pending = &state
		}
		if err == nil {
			e.state = Authenticated
		}
		e.mu.Unlock()
		if err != nil {
			return fmt.Errorf("restore session %s: %w", name, err)
		}
	}
	return nil
}

// SaveSessions writes the session of every instantiated backend to store.
// Sessions that were restored but never used are left untouched.
func (r *Router) SaveSessions(ctx context.Context, store Store) error {
	for _, name := range r.reg.Names() {
		e := r.entries[name]
		e.mu.Lock()
		if e.backend == nil {
			e.mu.Unlock()
			continue
		}
		state := e.backend.DumpSession()
		e.mu.Unlock()

		blob, err := EncodeSession(state)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", name, err)
		}
		if err := store.Save(ctx, name, blob); err != nil {
			return fmt.Errorf("save session %s: %w", name, err)
		}
	}
	return nil
}
