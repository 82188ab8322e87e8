package backends

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/david-why/submit/judge"
)

func TestDefaultOrder(t *testing.T) {
	require.Equal(t, []string{
		"atcoder", "codeforces", "cses", "luogu", "usaco_contest", "usaco", "vjudge",
	}, Default().Names())
}

func TestResolve(t *testing.T) {
	r := NewRouter(nil, judge.Env{})

	cases := map[string]judge.Target{
		"https://codeforces.com/contest/1/problem/A":                       {Backend: "codeforces", Problem: "1_A"},
		"https://codeforces.com/problemset/problem/4/A":                    {Backend: "codeforces", Problem: "4_A"},
		"https://atcoder.jp/contests/abc001/tasks/abc001_1":                {Backend: "atcoder", Problem: "abc001/abc001_1"},
		"https://cses.fi/problemset/task/1068":                             {Backend: "cses", Problem: "1068"},
		"https://www.luogu.com.cn/problem/P1001":                           {Backend: "luogu", Problem: "P1001"},
		"http://www.usaco.org/index.php?page=viewproblem2&cpid=1011":       {Backend: "usaco_contest", Problem: "1011"},
		"https://train.usaco.org/usacoprob2?a=xyz&S=ride":                  {Backend: "usaco", Problem: "ride"},
		"https://vjudge.net/problem/CodeForces-1A":                         {Backend: "vjudge", Problem: "CodeForces-1A"},
		"luogu:P1001":                                                      {Backend: "luogu", Problem: "P1001"},
	}
	for ref, want := range cases {
		got, err := r.Resolve(ref)
		require.NoError(t, err, ref)
		require.Equal(t, want, got, ref)
	}

	u, ok := r.ProblemURL(judge.Target{Backend: "codeforces", Problem: "1_A"})
	require.True(t, ok)
	require.Equal(t, "https://codeforces.com/contest/1/problem/A", u)

	_, err := r.Resolve("https://example.com/problem/1")
	require.ErrorIs(t, err, judge.ErrUnresolvedReference)
	_, err = r.Resolve("nosuchjudge:1")
	require.ErrorIs(t, err, judge.ErrUnresolvedReference)
}

func TestSearchProblem(t *testing.T) {
	r := NewRouter(nil, judge.Env{})

	got, ok := r.SearchProblem("/*\nID: alice\nLANG: C++\nTASK: ride\n*/\nint main() {}")
	require.True(t, ok)
	require.Equal(t, judge.Target{Backend: "usaco", Problem: "ride"}, got)

	got, ok = r.SearchProblem("# https://codeforces.com/contest/1/problem/A\nprint(1)")
	require.True(t, ok)
	require.Equal(t, judge.Target{Backend: "codeforces", Problem: "1_A"}, got)

	_, ok = r.SearchProblem("int main() { return 0; }")
	require.False(t, ok)
}

func TestSubmitRequiresLogin(t *testing.T) {
	var submits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html></html>")
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/enter", http.StatusFound)
	})
	mux.HandleFunc("/enter", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>login</html>")
	})
	mux.HandleFunc("/problemset/submit", func(w http.ResponseWriter, r *http.Request) {
		submits.Add(1)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r := NewRouter(map[string]map[string]string{
		"codeforces": {"base_url": srv.URL},
	}, judge.Env{})
	target, err := r.Resolve("https://codeforces.com/contest/1/problem/A")
	require.NoError(t, err)

	_, err = r.Submit(context.Background(), target, "print(1)", judge.Python3)
	require.ErrorIs(t, err, judge.ErrNotAuthenticated)
	require.Zero(t, submits.Load())
	require.Equal(t, judge.Anonymous, r.State("codeforces"))
}
