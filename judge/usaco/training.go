// Package usaco drives the USACO training gateway (train.usaco.org) and
// the USACO contest site (usaco.org).
package usaco

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/david-why/submit/judge"
)

const (
	TrainingName           = "usaco"
	defaultTrainingBaseURL = "https://train.usaco.org"
	trainingHost           = "train.usaco.org"
)

// training gateway guesses the language from the upload's file name
var trainingFiles = map[judge.Language]string{
	judge.CPP:     "solution.cpp",
	judge.Python3: "solution.py",
}

var (
	taskRe      = regexp.MustCompile(`TASK: (\S+)`)
	tokenRe     = regexp.MustCompile(`\?a=([^"&]+)`)
	testLineRe  = regexp.MustCompile(`(?m)Test (\d+): (.*)$`)
	runtimeRe   = regexp.MustCompile(`^RUNTIME ([0-9.]+)>[^(]*\(([0-9.]+) KB\)`)
	testStatsRe = regexp.MustCompile(`^(.*?)\s*\[([0-9.]+) secs.*?([0-9.]+) KB\]`)
)

func TrainingDef() judge.Def {
	return judge.Def{
		Name:  TrainingName,
		Title: "USACO Training",
		Settings: []judge.SettingDef{
			{ID: "base_url", Name: "Base URL"},
		},
		Build: func(s map[string]string, env judge.Env) (judge.Backend, error) {
			return newTraining(s["base_url"], env)
		},
	}
}

// training keeps the gateway's "a" session token next to its cookies.
type training struct {
	judge.Base
	baseURL string
	token   string
	log     *zap.Logger
}

func newTraining(baseURL string, env judge.Env) (*training, error) {
	if baseURL == "" {
		baseURL = defaultTrainingBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	sess, err := judge.NewHTTPSession([]string{baseURL}, env.HTTPOptions(TrainingName)...)
	if err != nil {
		return nil, err
	}
	return &training{
		Base:    judge.Base{Session: sess},
		baseURL: baseURL,
		log:     env.Log().With(zap.String("backend", TrainingName)),
	}, nil
}

func (t *training) Name() string { return TrainingName }

func (t *training) RequireViewLogin() bool { return true }

func (t *training) ParseProblemURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != trainingHost || u.Path != "/usacoprob2" {
		return "", false
	}
	id := u.Query().Get("S")
	return id, id != ""
}

func (t *training) SearchProblem(text string) (string, bool) {
	if m := taskRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}

func (t *training) ProblemURL(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	return "https://" + trainingHost + "/usacoprob2?S=" + url.QueryEscape(id), true
}

func (t *training) DumpSession() judge.SessionState {
	state := t.Base.DumpSession()
	if t.token != "" {
		state.Extra = map[string]string{"a": t.token}
	}
	return state
}

func (t *training) LoadSession(state judge.SessionState) error {
	t.token = state.Extra["a"]
	return t.Base.LoadSession(state)
}

func (t *training) Login(ctx context.Context, username, password string) (bool, error) {
	resp, err := t.Session.PostForm(ctx, t.baseURL+"/", url.Values{
		"NAME":     {username},
		"PASSWORD": {password},
		"SUBMIT":   {"ENTER"},
	})
	if err != nil {
		return false, err
	}
	m := tokenRe.FindStringSubmatch(resp.Text())
	if m == nil {
		return false, nil
	}
	t.token = m[1]
	return true, nil
}

func (t *training) Logout(ctx context.Context) (bool, error) {
	if t.token != "" {
		if _, err := t.Session.Do(ctx, judge.Request{
			Method: http.MethodPost,
			URL:    t.baseURL + "/usacologout",
			Query:  url.Values{"a": {t.token}},
		}); err != nil {
			return false, err
		}
	}
	t.token = ""
	if err := t.Session.Reset(); err != nil {
		return false, err
	}
	return true, nil
}

func (t *training) LoggedIn(ctx context.Context) (bool, error) {
	if t.token == "" {
		return false, nil
	}
	resp, err := t.Session.Get(ctx, t.baseURL+"/", url.Values{"a": {t.token}})
	if err != nil {
		return false, err
	}
	return strings.Contains(resp.Text(), "Refresh this page"), nil
}

const (
	statementStart = " width=742 height=118>"
	statementEnd   = "<div style='width:6.25in"
)

func (t *training) Problem(ctx context.Context, id string) (*judge.Problem, error) {
	resp, err := t.Session.Get(ctx, t.baseURL+"/usacoprob2", url.Values{"a": {t.token}, "S": {id}})
	if err != nil {
		return nil, err
	}
	page := resp.Text()
	start := strings.Index(page, statementStart)
	if start < 0 {
		return nil, nil
	}
	start += len(statementStart)
	end := strings.Index(page[start:], statementEnd)
	if end < 0 {
		return nil, judge.Drift(TrainingName, "statement of %s has no end marker", id)
	}
	p := &judge.Problem{ID: id, Text: strings.TrimSpace(page[start : start+end]), TextType: judge.HTML}

	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}
	// the sample input and output are the last two <pre> blocks
	if pres := doc.Find("pre"); pres.Length() >= 2 {
		n := pres.Length()
		p.Samples = []judge.Sample{{
			Input:  strings.TrimSpace(pres.Eq(n - 2).Text()),
			Output: strings.TrimSpace(pres.Eq(n - 1).Text()),
		}}
	}
	return p, nil
}

// Submit uploads the file; the grader answers synchronously, so the
// returned handle carries the whole result text after "<id>/".
func (t *training) Submit(ctx context.Context, id, code string, lang judge.Language) (string, error) {
	file, err := judge.LanguageCode(TrainingName, trainingFiles, lang)
	if err != nil {
		return "", err
	}
	resp, err := t.Session.Do(ctx, judge.Request{
		Method: http.MethodPost,
		URL:    t.baseURL + "/upload3",
		Multipart: []judge.MultipartField{
			{Name: "filename", FileName: file, Content: code},
			{Name: "a", Content: t.token},
			{Name: "S", Content: id},
		},
	})
	if err != nil {
		return "", err
	}
	doc, err := resp.Document()
	if err != nil {
		return "", err
	}
	result := doc.Find("div > font > div").First()
	if result.Length() == 0 {
		return "", judge.Drift(TrainingName, "no grader output after upload")
	}
	return id + "/" + result.Text(), nil
}

func (t *training) Submission(_ context.Context, handle string) (*judge.Submission, error) {
	pid, text, ok := strings.Cut(handle, "/")
	if !ok {
		return nil, fmt.Errorf("invalid usaco handle %q", handle)
	}
	sub := t.parseResult(pid, text)
	sub.ID = handle
	return sub, nil
}

// parseResult tokenizes the grader's result text. Text it cannot make
// sense of becomes an OTHER_FAIL submission carrying the raw text.
func (t *training) parseResult(pid, text string) *judge.Submission {
	sub := &judge.Submission{ID: pid, Problem: pid}
	if !strings.Contains(text, "Compile: OK") {
		sub.Verdict = judge.CompilationError
		sub.Data = between(text, "did not compile correctly:", "Compile errors;")
		return sub
	}

	var maxTime, maxMem float64
	for _, m := range testLineRe.FindAllStringSubmatch(text, -1) {
		n, _ := strconv.Atoi(m[1])
		rest := strings.TrimSpace(m[2])
		if rm := runtimeRe.FindStringSubmatch(rest); rm != nil {
			secs, _ := strconv.ParseFloat(rm[1], 64)
			mem, _ := strconv.ParseFloat(rm[2], 64)
			cs := judge.Case{Time: secs * 1000, Memory: mem, Verdict: judge.Ptr(judge.TimeLimitExceeded)}
			sub.Cases = append(sub.Cases, cs)
			sub.Verdict = judge.TimeLimitExceeded
			sub.Time = judge.Ptr(max(maxTime, cs.Time))
			sub.Memory = judge.Ptr(max(maxMem, mem))
			sub.Data = t.failureData(text, n)
			return sub
		}
		sm := testStatsRe.FindStringSubmatch(rest)
		if sm == nil {
			return t.drift(sub, text, "unrecognized test line %q", rest)
		}
		secs, _ := strconv.ParseFloat(sm[2], 64)
		mem, _ := strconv.ParseFloat(sm[3], 64)
		var v judge.Verdict
		switch sm[1] {
		case "TEST OK":
			v = judge.Accepted
		case "BADCHECK", "NOOUTPUT":
			v = judge.WrongAnswer
		default:
			return t.drift(sub, text, "unrecognized test status %q", sm[1])
		}
		cs := judge.Case{Time: secs * 1000, Memory: mem, Verdict: judge.Ptr(v)}
		maxTime = max(maxTime, cs.Time)
		maxMem = max(maxMem, mem)
		sub.Cases = append(sub.Cases, cs)
	}
	sub.Time = judge.Ptr(maxTime)
	sub.Memory = judge.Ptr(maxMem)

	switch {
	case strings.Contains(text, "All tests OK."):
		sub.Verdict = judge.Accepted
		sub.Score = 100
	case len(sub.Cases) > 0 && *sub.Cases[len(sub.Cases)-1].Verdict == judge.WrongAnswer:
		sub.Verdict = judge.WrongAnswer
		sub.Data = t.failureData(text, len(sub.Cases))
	default:
		return t.drift(sub, text, "no final verdict in grader output")
	}
	return sub
}

func (t *training) drift(sub *judge.Submission, text, format string, args ...any) *judge.Submission {
	t.log.Warn("unrecognized grader output", zap.String("problem", sub.Problem), zap.String("reason", fmt.Sprintf(format, args...)))
	sub.Verdict = judge.OtherFail
	sub.Score = 0
	sub.Data = text
	return sub
}

var runSeparator = strings.Repeat("-", 19)

// failureData extracts the grader's explanation of test n along with links
// to the failing input and expected output.
func (t *training) failureData(text string, n int) map[string]string {
	msg := strings.TrimSpace(text)
	if i := strings.Index(text, fmt.Sprintf("> Run %d", n)); i >= 0 {
		msg = text[i:]
		if j := strings.Index(msg, "Full Test Data"); j >= 0 {
			msg = msg[:j]
		}
		msg = strings.TrimSpace(msg)
	}
	msg = strings.ReplaceAll(msg, runSeparator+"    ", runSeparator+"\n        ")
	show := t.baseURL + "/usacodatashow?a=" + url.QueryEscape(t.token)
	return map[string]string{
		"message": msg,
		"inurl":   show,
		"outurl":  show + "&i=out",
	}
}

// between returns the trimmed text between the first start marker and the
// following end marker, or everything after start when end is missing.
// Without start the whole text is returned.
func between(text, start, end string) string {
	i := strings.Index(text, start)
	if i < 0 {
		return strings.TrimSpace(text)
	}
	rest := text[i+len(start):]
	if j := strings.Index(rest, end); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}
