package codeforces

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david-why/submit/judge"
)

const statementPage = `<html><body><div class="problem-statement">
<div class="header"><div class="title">A. Theatre Square</div></div>
<p>Cover the square.</p>
<div class="sample-test">
<div class="input"><pre><div class="test-example-line">6 6 4</div></pre></div>
<div class="output"><pre>4</pre></div>
</div></div></body></html>`

type fakeSite struct {
	polls atomic.Int32
}

func (f *fakeSite) handler() http.Handler {
	mux := http.NewServeMux()
	csrfPage := func(w http.ResponseWriter, extra string) {
		fmt.Fprintf(w, `<html><script>var x = {csrf='c0ffee'};</script>%s</html>`, extra)
	}
	loggedIn := func(r *http.Request) bool {
		c, err := r.Cookie("JSESSIONID")
		return err == nil && c.Value == "alice"
	}
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		extra := ""
		if loggedIn(r) {
			extra = `<a href="/abc123/logout">Logout</a>`
		}
		csrfPage(w, extra)
	})
	mux.HandleFunc("/enter", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			if r.Form.Get("csrf_token") == "c0ffee" && r.Form.Get("handleOrEmail") == "alice" && r.Form.Get("password") == "pw" {
				http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "alice", Path: "/"})
				http.Redirect(w, r, "/", http.StatusFound)
				return
			}
		}
		csrfPage(w, "")
	})
	mux.HandleFunc("/abc123/logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "", Path: "/", MaxAge: -1})
		http.Redirect(w, r, "/", http.StatusFound)
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		if loggedIn(r) {
			http.Redirect(w, r, "/profile/alice", http.StatusFound)
			return
		}
		http.Redirect(w, r, "/enter", http.StatusFound)
	})
	mux.HandleFunc("/profile/alice", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "alice")
	})
	mux.HandleFunc("/contest/1/problem/A", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, statementPage)
	})
	mux.HandleFunc("/contest/1/problem/Z", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>No such problem</body></html>")
	})
	mux.HandleFunc("/problemset/submit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			if r.URL.Query().Get("csrf_token") != "c0ffee" || r.Form.Get("submittedProblemCode") != "1A" || r.Form.Get("programTypeId") != "54" {
				http.Error(w, "bad form", http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `<table><tr data-submission-id="777" submission-id="777"></tr></table>`)
			return
		}
		csrfPage(w, "")
	})
	mux.HandleFunc("/data/submitSource", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("submissionId") != "777" {
			http.Error(w, "unknown", http.StatusNotFound)
			return
		}
		if f.polls.Add(1) == 1 {
			fmt.Fprint(w, `{"waiting":"true"}`)
			return
		}
		fmt.Fprint(w, `{
			"waiting": "false",
			"compilationError": "false",
			"source": "int main() {}",
			"testCount": "2",
			"verdict": "<span class='verdict-rejected'>Wrong answer on test 2</span>",
			"timeConsumed#1": "15", "memoryConsumed#1": "4096", "verdict#1": "OK",
			"input#1": "6 6 4", "output#1": "4", "answer#1": "4", "checkerStdoutAndStderr#1": "ok 1 number",
			"timeConsumed#2": "31", "memoryConsumed#2": "8192", "verdict#2": "WRONG_ANSWER",
			"input#2": "1 1 1", "output#2": "2", "answer#2": "1", "checkerStdoutAndStderr#2": ""
		}`)
	})
	return mux
}

func newTestClient(t *testing.T) (*client, *fakeSite) {
	t.Helper()
	site := &fakeSite{}
	srv := httptest.NewServer(site.handler())
	t.Cleanup(srv.Close)
	c, err := newClient(srv.URL, judge.Env{})
	require.NoError(t, err)
	return c, site
}

func TestProblemURLRoundTrip(t *testing.T) {
	c, err := newClient("", judge.Env{})
	require.NoError(t, err)

	id, ok := c.ParseProblemURL("https://codeforces.com/contest/1/problem/A")
	require.True(t, ok)
	require.Equal(t, "1_A", id)
	u, ok := c.ProblemURL(id)
	require.True(t, ok)
	require.Equal(t, "https://codeforces.com/contest/1/problem/A", u)

	id, ok = c.ParseProblemURL("https://codeforces.com/problemset/problem/1850/G")
	require.True(t, ok)
	require.Equal(t, "1850_G", id)

	id, ok = c.ParseProblemURL("https://codeforces.com/problemsets/acmsguru/problem/99999/100")
	require.True(t, ok)
	require.Equal(t, "acmsguru_100", id)
	u, _ = c.ProblemURL(id)
	require.Equal(t, "https://codeforces.com/problemsets/acmsguru/problem/99999/100", u)

	_, ok = c.ParseProblemURL("see https://codeforces.com/contest/1/problem/A")
	require.False(t, ok)
	_, ok = c.ParseProblemURL("https://atcoder.jp/contests/abc300/tasks/abc300_a")
	require.False(t, ok)
	_, ok = c.ProblemURL("bogus")
	require.False(t, ok)

	id, ok = c.SearchProblem("// solves https://codeforces.com/contest/4/problem/A\nint main() {}")
	require.True(t, ok)
	require.Equal(t, "4_A", id)
}

func TestSolveRCPC(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")
	plain := []byte("rcpc-cookie-1234")
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	enc := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(enc, plain)

	page := fmt.Sprintf(`<html>Redirecting... <script>var a=toNumbers("%x"),b=toNumbers("%x"),c=toNumbers("%x");</script></html>`,
		key, iv, enc)
	got, err := solveRCPC(page)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(plain), got)

	_, err = solveRCPC("Redirecting...")
	var drift *judge.DriftError
	require.ErrorAs(t, err, &drift)
}

func TestLoginFlow(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Bootstrap(ctx))

	ok, err := c.LoggedIn(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.Login(ctx, "alice", "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.LoggedIn(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	state := c.DumpSession()
	require.False(t, state.Empty())

	ok, err = c.Logout(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.LoggedIn(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// restoring the dumped cookies brings the session back
	require.NoError(t, c.LoadSession(state))
	ok, err = c.LoggedIn(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestProblem(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	p, err := c.Problem(ctx, "1_A")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, judge.HTML, p.TextType)
	assert.Contains(t, p.Text, "Cover the square.")
	require.Len(t, p.Samples, 1)
	assert.Equal(t, judge.Sample{Input: "6 6 4", Output: "4"}, p.Samples[0])

	p, err = c.Problem(ctx, "1_Z")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestSubmitAndPoll(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Submit(ctx, "1_A", "int main() {}", judge.Language(99))
	require.ErrorIs(t, err, judge.ErrUnsupportedLanguage)

	handle, err := c.Submit(ctx, "1_A", "int main() {}", judge.CPP)
	require.NoError(t, err)
	require.Equal(t, "1_A_777", handle)

	sub, err := c.Submission(ctx, handle)
	require.NoError(t, err)
	require.Nil(t, sub, "still judging")

	sub, err = c.Submission(ctx, handle)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, judge.WrongAnswer, sub.Verdict)
	assert.Equal(t, "1_A", sub.Problem)
	assert.Equal(t, 0, sub.Score)
	assert.Equal(t, "int main() {}", *sub.Code)
	assert.Equal(t, 31.0, *sub.Time)
	assert.Equal(t, 8.0, *sub.Memory)
	require.Len(t, sub.Cases, 2)
	assert.Equal(t, judge.Accepted, *sub.Cases[0].Verdict)
	assert.Equal(t, judge.WrongAnswer, *sub.Cases[1].Verdict)
	assert.Equal(t, "ok 1 number", *sub.Cases[0].Message)
	assert.Nil(t, sub.Cases[1].Message)
	assert.False(t, sub.Passed())
}

func TestParseVerdict(t *testing.T) {
	c, err := newClient("", judge.Env{})
	require.NoError(t, err)
	cases := map[string]judge.Verdict{
		"<span class='verdict-accepted'>Accepted</span>":                     judge.Accepted,
		"<span class='verdict-rejected'>Time limit exceeded on test 3</span>": judge.TimeLimitExceeded,
		"<span class='verdict-rejected'>Runtime error on test 1</span>":       judge.RuntimeError,
		"<span class='verdict-rejected'>Hacked</span>":                        judge.OtherFail,
		"<span>Denial of judgement</span>":                                    judge.Unknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, c.parseVerdict(in), strings.TrimSpace(in))
	}
}

func TestCompilationError(t *testing.T) {
	c, err := newClient("", judge.Env{})
	require.NoError(t, err)
	sub := c.parseSubmission("1_A_5", "1_A", sourceData{
		"waiting": "false", "compilationError": "true", "source": "int main(",
		"checkerStdoutAndStderr#1": "error: expected ')'",
	})
	require.NotNil(t, sub)
	assert.Equal(t, judge.CompilationError, sub.Verdict)
	assert.Equal(t, "error: expected ')'", sub.Data)
	assert.Equal(t, 0, sub.Score)
}

func TestSubmissionSourceError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><script>var x = {csrf='c0ffee'};</script></html>`)
	})
	mux.HandleFunc("/data/submitSource", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "<html>Bad Gateway</html>", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := newClient(srv.URL, judge.Env{})
	require.NoError(t, err)

	sub, err := c.Submission(context.Background(), "1_A_99")
	require.ErrorContains(t, err, "codeforces status 502")
	require.Nil(t, sub)
}
