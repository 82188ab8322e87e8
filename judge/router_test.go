package judge

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory judge. Its "server" accepts the cookie
// "session=ok" as a valid login.
type fakeBackend struct {
	name       string
	host       string
	viewLogin  bool
	cookies    map[string]string
	bootstraps int
	submits    int
	polls      map[string]int
	judgeAfter int
}

var fakeURL = regexp.MustCompile(`^https://([a-z.]+)/p/([0-9]+)$`)

func newFake(name, host string) *fakeBackend {
	return &fakeBackend{name: name, host: host, cookies: map[string]string{}, polls: map[string]int{}}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) ParseProblemURL(u string) (string, bool) {
	m := fakeURL.FindStringSubmatch(u)
	if m == nil || m[1] != f.host {
		return "", false
	}
	return m[2], true
}

func (f *fakeBackend) ProblemURL(id string) (string, bool) {
	return "https://" + f.host + "/p/" + id, true
}

func (f *fakeBackend) SearchProblem(text string) (string, bool) {
	i := strings.Index(text, "https://"+f.host+"/p/")
	if i < 0 {
		return "", false
	}
	return f.ParseProblemURL(strings.Fields(text[i:])[0])
}

func (f *fakeBackend) Bootstrap(context.Context) error { f.bootstraps++; return nil }

func (f *fakeBackend) Login(_ context.Context, user, pass string) (bool, error) {
	if user == "alice" && pass == "secret" {
		f.cookies["session"] = "ok"
		return true, nil
	}
	return false, nil
}

func (f *fakeBackend) Logout(context.Context) (bool, error) {
	f.cookies = map[string]string{}
	return true, nil
}

func (f *fakeBackend) LoggedIn(context.Context) (bool, error) {
	return f.cookies["session"] == "ok", nil
}

func (f *fakeBackend) Problem(_ context.Context, id string) (*Problem, error) {
	if id == "404" {
		return nil, nil
	}
	return &Problem{ID: id, Text: "statement", TextType: Text}, nil
}

func (f *fakeBackend) Submit(_ context.Context, id, code string, lang Language) (string, error) {
	f.submits++
	return fmt.Sprintf("%s_%d", id, f.submits), nil
}

func (f *fakeBackend) Submission(_ context.Context, handle string) (*Submission, error) {
	f.polls[handle]++
	if f.polls[handle] <= f.judgeAfter {
		return nil, nil
	}
	return &Submission{ID: handle, Verdict: Accepted, Score: 100, Problem: strings.Split(handle, "_")[0]}, nil
}

func (f *fakeBackend) RequireSubmitLogin() bool { return true }
func (f *fakeBackend) RequireViewLogin() bool   { return f.viewLogin }

func (f *fakeBackend) DumpSession() SessionState {
	c := map[string]string{}
	for k, v := range f.cookies {
		c[k] = v
	}
	return SessionState{Cookies: map[string]map[string]string{"https://" + f.host: c}}
}

func (f *fakeBackend) LoadSession(s SessionState) error {
	f.cookies = map[string]string{}
	for k, v := range s.Cookies["https://"+f.host] {
		f.cookies[k] = v
	}
	return nil
}

type fakes struct {
	router *Router
	built  map[string]*fakeBackend
}

// newFakeRouter registers one fake per host, named after the first label
// of the host unless given as "name=host".
func newFakeRouter(t *testing.T, hosts ...string) *fakes {
	t.Helper()
	f := &fakes{built: map[string]*fakeBackend{}}
	var defs []Def
	for _, h := range hosts {
		name, host, ok := strings.Cut(h, "=")
		if !ok {
			name, host = strings.Split(h, ".")[0], h
		}
		defs = append(defs, Def{
			Name: name,
			Build: func(map[string]string, Env) (Backend, error) {
				b := newFake(name, host)
				f.built[name] = b
				return b, nil
			},
		})
	}
	reg, err := NewRegistry(defs...)
	require.NoError(t, err)
	f.router = NewRouter(reg)
	return f
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	build := func(map[string]string, Env) (Backend, error) { return nil, nil }
	_, err := NewRegistry(Def{Name: "a", Build: build}, Def{Name: "a", Build: build})
	require.Error(t, err)
}

func TestRegistryRequiredSettings(t *testing.T) {
	reg, err := NewRegistry(Def{
		Name:     "x",
		Settings: []SettingDef{{ID: "token", Name: "Token", Required: true}},
		Build:    func(map[string]string, Env) (Backend, error) { return newFake("x", "x.org"), nil },
	})
	require.NoError(t, err)
	_, err = reg.Build("x", nil, Env{})
	require.Error(t, err)
	_, err = reg.Build("nope", nil, Env{})
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestRouterResolveNamespacedBuildsNothing(t *testing.T) {
	f := newFakeRouter(t, "alpha.org", "beta.org")

	got, err := f.router.Resolve("beta:7")
	require.NoError(t, err)
	require.Equal(t, Target{Backend: "beta", Problem: "7"}, got)
	require.Empty(t, f.built)
}

func TestRouterResolve(t *testing.T) {
	f := newFakeRouter(t, "alpha.org", "beta.org")
	r := f.router

	got, err := r.Resolve("https://beta.org/p/12")
	require.NoError(t, err)
	require.Equal(t, Target{Backend: "beta", Problem: "12"}, got)

	got, err = r.Resolve("alpha:99")
	require.NoError(t, err)
	require.Equal(t, Target{Backend: "alpha", Problem: "99"}, got)

	_, err = r.Resolve("gamma:1")
	require.ErrorIs(t, err, ErrUnresolvedReference)

	_, ok := r.ParseProblemURL("https://example.com/p/1")
	require.False(t, ok)

	u, ok := r.ProblemURL(Target{Backend: "alpha", Problem: "5"})
	require.True(t, ok)
	require.Equal(t, "https://alpha.org/p/5", u)
}

func TestRouterFirstRegisteredWins(t *testing.T) {
	f := newFakeRouter(t, "alpha.org", "beta.org", "mirror=alpha.org")
	// alpha and mirror both parse alpha.org URLs; registration order decides
	for i := 0; i < 3; i++ {
		got, ok := f.router.ParseProblemURL("https://alpha.org/p/1")
		require.True(t, ok)
		require.Equal(t, "alpha", got.Backend)
	}

	code := "// https://beta.org/p/3\n// https://alpha.org/p/4\nint main() {}"
	got, ok := f.router.SearchProblem(code)
	require.True(t, ok)
	require.Equal(t, Target{Backend: "alpha", Problem: "4"}, got)

	_, ok = f.router.SearchProblem("int main() {}")
	require.False(t, ok)
}

func TestRouterSubmitRequiresLogin(t *testing.T) {
	f := newFakeRouter(t, "alpha.org")
	r := f.router
	ctx := context.Background()
	target := Target{Backend: "alpha", Problem: "1"}

	_, err := r.Submit(ctx, target, "code", CPP)
	require.ErrorIs(t, err, ErrNotAuthenticated)
	var nae *NotAuthenticatedError
	require.ErrorAs(t, err, &nae)
	require.Equal(t, "alpha", nae.Backend)
	require.Zero(t, f.built["alpha"].submits)

	ok, err := r.Login(ctx, "alpha", "alice", "wrong")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, Anonymous, r.State("alpha"))

	ok, err = r.Login(ctx, "alpha", "alice", "secret")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Authenticated, r.State("alpha"))

	handle, err := r.Submit(ctx, target, "code", CPP)
	require.NoError(t, err)
	require.Equal(t, "1_1", handle)
	require.Equal(t, 1, f.built["alpha"].bootstraps)
}

func TestRouterStaleSessionDemotes(t *testing.T) {
	f := newFakeRouter(t, "alpha.org")
	r := f.router
	ctx := context.Background()

	_, err := r.Login(ctx, "alpha", "alice", "secret")
	require.NoError(t, err)
	f.built["alpha"].cookies = map[string]string{} // server dropped the session

	_, err = r.Submit(ctx, Target{Backend: "alpha", Problem: "1"}, "code", CPP)
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.Equal(t, Anonymous, r.State("alpha"))
}

func TestRouterProblem(t *testing.T) {
	f := newFakeRouter(t, "alpha.org")
	r := f.router
	ctx := context.Background()

	p, err := r.Problem(ctx, Target{Backend: "alpha", Problem: "1"})
	require.NoError(t, err)
	require.Equal(t, "statement", p.Render(Text))

	_, err = r.Problem(ctx, Target{Backend: "alpha", Problem: "404"})
	require.ErrorIs(t, err, ErrProblemNotFound)

	f.built["alpha"].viewLogin = true
	_, err = r.Problem(ctx, Target{Backend: "alpha", Problem: "1"})
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRouterWaitAndIdempotentPolls(t *testing.T) {
	f := newFakeRouter(t, "alpha.org")
	r := f.router
	ctx := context.Background()

	b, err := r.Backend("alpha")
	require.NoError(t, err)
	b.(*fakeBackend).judgeAfter = 2

	sub, err := r.Wait(ctx, "alpha", "1_1", Poller{Interval: time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, Accepted, sub.Verdict)
	require.Equal(t, 3, f.built["alpha"].polls["1_1"])

	again, err := r.Submission(ctx, "alpha", "1_1")
	require.NoError(t, err)
	require.Same(t, sub, again)
	require.Equal(t, 3, f.built["alpha"].polls["1_1"])
}

func TestRouterSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	f := newFakeRouter(t, "alpha.org", "beta.org")
	_, err := f.router.Login(ctx, "alpha", "alice", "secret")
	require.NoError(t, err)
	require.NoError(t, f.router.SaveSessions(ctx, store))
	require.Contains(t, store.Snapshot(), "alpha")
	require.NotContains(t, store.Snapshot(), "beta")

	g := newFakeRouter(t, "alpha.org", "beta.org")
	require.NoError(t, g.router.LoadSessions(ctx, store))
	require.Empty(t, g.built, "restoring must not build or validate backends")
	require.Equal(t, []string{"alpha"}, g.router.Sessions())

	ok, err := g.router.LoggedIn(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = g.router.LoggedIn(ctx, "beta")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRouterLogout(t *testing.T) {
	f := newFakeRouter(t, "alpha.org")
	ctx := context.Background()
	_, err := f.router.Login(ctx, "alpha", "alice", "secret")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ok, err := f.router.Logout(ctx, "alpha")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, Anonymous, f.router.State("alpha"))
	}
}
