package cses

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david-why/submit/judge"
)

const taskPage = `<html><body><div class="content">
<p>Given two numbers, print their sum.</p>
<h1>Example</h1>
<p>Input:</p><pre>1 2
</pre>
<p>Output:</p><pre>3
</pre>
</div></body></html>`

const resultPage = `<html><body>
<table class="summary-table"><tr><td>Task:</td><td><a href="/problemset/task/1068/">Weird Algorithm</a></td></tr></table>
<span class="inline-score verdict">WRONG ANSWER</span>
<pre class="prettyprint">int main() {}</pre>
<table class="closeable">
<tr><th>test</th><th>verdict</th><th>time</th><th></th></tr>
<tr><td>#1</td><td>ACCEPTED</td><td>0.01 s</td><td><a href="#test1">details</a></td></tr>
<tr><td>#2</td><td>WRONG ANSWER</td><td>0.25 s</td><td><a href="#test2">details</a></td></tr>
</table>
<div class="closeable"><h3 class="caption">Test details</h3><div>
<h4 id="test1">Test 1</h4>
<table><tbody><tr><th>input</th><td><samp>3</samp></td></tr></tbody></table>
<h4 id="test2">Test 2</h4>
<table><tbody><tr><th>input</th><td><samp>1000...</samp><div class="samp-actions"><a class="view" href="/view/2">view</a></div></td></tr></tbody></table>
<table><tbody><tr><th>correct output</th><td><samp>1</samp></td></tr></tbody></table>
<table><tbody><tr><th>user output</th><td><samp>2</samp></td></tr></tbody></table>
Error:
<br/>
<pre>wrong answer on line 1</pre>
</div></div>
</body></html>`

type fakeSite struct {
	statusCalls atomic.Int32
	uploaded    atomic.Value
}

func (f *fakeSite) handler() http.Handler {
	mux := http.NewServeMux()
	csrfForm := `<form><input type="hidden" name="csrf_token" value="c5rf"></form>`
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		href := "/login"
		if c, err := r.Cookie("PHPSESSID"); err == nil && c.Value == "alice" {
			href = "/user/1"
		}
		fmt.Fprintf(w, `<div class="controls"><a class="account" href="%s">account</a></div>`, href)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			if r.Form.Get("csrf_token") == "c5rf" && r.Form.Get("nick") == "alice" && r.Form.Get("pass") == "pw" {
				http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "alice", Path: "/"})
				http.Redirect(w, r, "/", http.StatusFound)
				return
			}
		}
		fmt.Fprint(w, csrfForm)
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusFound)
	})
	mux.HandleFunc("/problemset/task/1068", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskPage)
	})
	mux.HandleFunc("/problemset/submit/1068/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, csrfForm)
	})
	mux.HandleFunc("/course/send.php", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil || r.FormValue("lang") != "C++" || r.FormValue("option") != "C++17" || r.FormValue("task") != "1068" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		f.uploaded.Store(string(data))
		http.Redirect(w, r, "/problemset/result/555/", http.StatusFound)
	})
	mux.HandleFunc("/problemset/result/555/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, resultPage)
	})
	mux.HandleFunc("/ajax/get_status.php", func(w http.ResponseWriter, r *http.Request) {
		if f.statusCalls.Add(1) == 1 {
			fmt.Fprint(w, "TESTING 3/10")
			return
		}
		fmt.Fprint(w, "READY")
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

func TestProblemURL(t *testing.T) {
	c, err := newClient("", judge.Env{})
	require.NoError(t, err)

	id, ok := c.ParseProblemURL("https://cses.fi/problemset/task/1068/")
	require.True(t, ok)
	require.Equal(t, "1068", id)
	u, ok := c.ProblemURL(id)
	require.True(t, ok)
	require.Equal(t, "https://cses.fi/problemset/task/1068", u)

	_, ok = c.ProblemURL("abc")
	require.False(t, ok)
	id, ok = c.SearchProblem("// https://cses.fi/problemset/task/1083")
	require.True(t, ok)
	require.Equal(t, "1083", id)
}

func TestLoginFlow(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ok, err := c.LoggedIn(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.Login(ctx, "alice", "bad")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.LoggedIn(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Logout(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.LoggedIn(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProblem(t *testing.T) {
	c, _ := newTestClient(t)
	p, err := c.Problem(context.Background(), "1068")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Contains(t, p.Text, "print their sum")
	assert.Equal(t, []judge.Sample{{Input: "1 2\n", Output: "3\n"}}, p.Samples)
	assert.Contains(t, p.Render(judge.Text), "print their sum")
}

func TestSubmitAndPoll(t *testing.T) {
	c, site := newTestClient(t)
	ctx := context.Background()

	handle, err := c.Submit(ctx, "1068", "int main() {}", judge.CPP)
	require.NoError(t, err)
	require.Equal(t, "555", handle)
	require.Equal(t, "int main() {}", site.uploaded.Load())

	sub, err := c.Submission(ctx, handle)
	require.NoError(t, err)
	require.Nil(t, sub)

	sub, err = c.Submission(ctx, handle)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, judge.WrongAnswer, sub.Verdict)
	assert.Equal(t, 0, sub.Score)
	assert.Equal(t, "1068", sub.Problem)
	assert.Equal(t, "int main() {}", *sub.Code)
	assert.Equal(t, 250.0, *sub.Time)
	require.Len(t, sub.Cases, 2)

	first, second := sub.Cases[0], sub.Cases[1]
	assert.Equal(t, judge.Accepted, *first.Verdict)
	assert.Equal(t, "3", *first.Input)
	assert.Nil(t, first.Message)
	assert.Equal(t, judge.WrongAnswer, *second.Verdict)
	assert.Equal(t, "1000... (https://cses.fi/view/2)", *second.Input)
	assert.Equal(t, "1", *second.Answer)
	assert.Equal(t, "2", *second.Output)
	assert.Equal(t, "wrong answer on line 1", *second.Message)
}

func TestSubmissionStatusError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c, err := newClient(srv.URL, judge.Env{})
	require.NoError(t, err)

	sub, err := c.Submission(context.Background(), "999")
	require.ErrorContains(t, err, "cses status 500")
	require.Nil(t, sub)

	calls.Store(0)
	p := judge.Poller{Interval: time.Millisecond}
	_, err = p.Wait(context.Background(), c.Submission, "999")
	require.Error(t, err)
	require.Equal(t, int32(2), calls.Load())
}
