// Package codeforces drives codeforces.com.
package codeforces

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/david-why/submit/judge"
)

const (
	Name           = "codeforces"
	defaultBaseURL = "https://codeforces.com"
)

var languages = map[judge.Language]string{
	judge.CPP:     "54",
	judge.Python3: "70",
}

var problemPatterns = []string{
	`https?://(?:www\.)?codeforces\.com/problemset/problem/([0-9]+)/([A-Z0-9]+)`,
	`https?://(?:www\.)?codeforces\.com/contest/([0-9]+)/problem/([A-Z0-9]+)`,
	`https?://(?:www\.)?codeforces\.com/problemsets/(acmsguru)/problem/99999/([0-9]+)`,
}

var (
	urlRes    = compileAll("^", problemPatterns)
	searchRes = compileAll("", problemPatterns)

	csrfRe         = regexp.MustCompile(`csrf='([^']+)'`)
	csrfMetaRe     = regexp.MustCompile(`name="X-Csrf-Token" content="([^"]+)"`)
	submissionIDRe = regexp.MustCompile(`submission-id="([0-9]+)"`)
	logoutRe       = regexp.MustCompile(`href="(/[0-9a-f]+/logout)"`)
	toNumbersRe    = regexp.MustCompile(`([abc])=toNumbers\("([0-9a-f]+)"\)`)
)

// Def registers the backend.
func Def() judge.Def {
	return judge.Def{
		Name:  Name,
		Title: "Codeforces",
		Settings: []judge.SettingDef{
			{ID: "base_url", Name: "Base URL"},
		},
		Build: func(s map[string]string, env judge.Env) (judge.Backend, error) {
			return newClient(s["base_url"], env)
		},
	}
}

type client struct {
	judge.Base
	baseURL string
	rcpc    string
	log     *zap.Logger
}

func newClient(baseURL string, env judge.Env) (*client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	sess, err := judge.NewHTTPSession([]string{baseURL}, env.HTTPOptions(Name)...)
	if err != nil {
		return nil, err
	}
	return &client{
		Base:    judge.Base{Session: sess},
		baseURL: baseURL,
		log:     env.Log().With(zap.String("backend", Name)),
	}, nil
}

func (c *client) Name() string { return Name }

func compileAll(prefix string, patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(prefix + p)
	}
	return out
}

func matchProblem(res []*regexp.Regexp, text string) (string, bool) {
	for _, re := range res {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1] + "_" + m[2], true
		}
	}
	return "", false
}

func (c *client) ParseProblemURL(rawURL string) (string, bool) {
	return matchProblem(urlRes, rawURL)
}

func (c *client) SearchProblem(text string) (string, bool) {
	return matchProblem(searchRes, text)
}

func (c *client) ProblemURL(id string) (string, bool) {
	contest, problem, ok := splitID(id)
	if !ok {
		return "", false
	}
	if contest == "acmsguru" {
		return "https://codeforces.com/problemsets/acmsguru/problem/99999/" + problem, true
	}
	return fmt.Sprintf("https://codeforces.com/contest/%s/problem/%s", contest, problem), true
}

// siteURL maps a canonical URL onto the configured base URL.
func (c *client) siteURL(canonical string) string {
	return c.baseURL + strings.TrimPrefix(canonical, defaultBaseURL)
}

func splitID(id string) (contest, problem string, ok bool) {
	parts := strings.Split(id, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Bootstrap solves the "Redirecting..." anti-bot page, which asks the
// browser to AES-decrypt a value and store it as the RCPC cookie.
func (c *client) Bootstrap(ctx context.Context) error {
	resp, err := c.Session.Get(ctx, c.baseURL, nil)
	if err != nil {
		return err
	}
	if !strings.Contains(resp.Text(), "Redirecting...") {
		return nil
	}
	rcpc, err := solveRCPC(resp.Text())
	if err != nil {
		return err
	}
	c.rcpc = rcpc
	c.Session.SetCookie(c.baseURL, "RCPC", rcpc)
	c.log.Debug("rcpc cookie derived")
	return nil
}

func solveRCPC(page string) (string, error) {
	vals := map[string][]byte{}
	for _, m := range toNumbersRe.FindAllStringSubmatch(page, -1) {
		b, err := hex.DecodeString(m[2])
		if err != nil {
			return "", judge.Drift(Name, "bad toNumbers value %q", m[2])
		}
		vals[m[1]] = b
	}
	key, iv, data := vals["a"], vals["b"], vals["c"]
	if key == nil || iv == nil || data == nil {
		return "", judge.Drift(Name, "redirect page without a/b/c values")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("rcpc cipher: %w", err)
	}
	if len(iv) != block.BlockSize() || len(data)%block.BlockSize() != 0 {
		return "", judge.Drift(Name, "redirect page with malformed cipher input")
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return hex.EncodeToString(out), nil
}

func (c *client) csrf(ctx context.Context, pageURL string) (string, error) {
	resp, err := c.Session.Get(ctx, pageURL, nil)
	if err != nil {
		return "", err
	}
	if m := csrfRe.FindStringSubmatch(resp.Text()); m != nil {
		return m[1], nil
	}
	if m := csrfMetaRe.FindStringSubmatch(resp.Text()); m != nil {
		return m[1], nil
	}
	return "", judge.Drift(Name, "no csrf token on %s", pageURL)
}

func (c *client) Login(ctx context.Context, username, password string) (bool, error) {
	enter := c.baseURL + "/enter"
	token, err := c.csrf(ctx, enter)
	if err != nil {
		return false, err
	}
	resp, err := c.Session.PostForm(ctx, enter, url.Values{
		"csrf_token":    {token},
		"action":        {"enter"},
		"ftaa":          {"n/a"},
		"bfaa":          {"n/a"},
		"handleOrEmail": {username},
		"password":      {password},
		"_tta":          {"176"},
		"remember":      {"on"},
	})
	if err != nil {
		return false, err
	}
	return !strings.Contains(resp.URL.Path, "enter"), nil
}

func (c *client) Logout(ctx context.Context) (bool, error) {
	resp, err := c.Session.Get(ctx, c.baseURL, nil)
	if err != nil {
		return false, err
	}
	ok := false
	if m := logoutRe.FindStringSubmatch(resp.Text()); m != nil {
		out, err := c.Session.Get(ctx, c.baseURL+m[1], nil)
		if err != nil {
			return false, err
		}
		ok = out.OK()
	}
	if err := c.Session.Reset(); err != nil {
		return false, err
	}
	if c.rcpc != "" {
		c.Session.SetCookie(c.baseURL, "RCPC", c.rcpc)
	}
	return ok, nil
}

func (c *client) LoggedIn(ctx context.Context) (bool, error) {
	resp, err := c.Session.Get(ctx, c.baseURL+"/profile", nil)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(resp.URL.Path, "/profile/"), nil
}

func (c *client) Problem(ctx context.Context, id string) (*judge.Problem, error) {
	u, ok := c.ProblemURL(id)
	if !ok {
		return nil, nil
	}
	resp, err := c.Session.Get(ctx, c.siteURL(u), nil)
	if err != nil {
		return nil, err
	}
	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}
	statement := doc.Find(".problem-statement").First()
	if statement.Length() == 0 {
		return nil, nil
	}
	html, err := goquery.OuterHtml(statement)
	if err != nil {
		return nil, err
	}

	var inputs, outputs []string
	statement.Find(".sample-test .input pre").Each(func(_ int, s *goquery.Selection) {
		inputs = append(inputs, preText(s))
	})
	statement.Find(".sample-test .output pre").Each(func(_ int, s *goquery.Selection) {
		outputs = append(outputs, preText(s))
	})
	var samples []judge.Sample
	for i := 0; i < len(inputs) && i < len(outputs); i++ {
		samples = append(samples, judge.Sample{Input: inputs[i], Output: outputs[i]})
	}
	return &judge.Problem{ID: id, Text: strings.TrimSpace(html), TextType: judge.HTML, Samples: samples}, nil
}

// preText joins the per-line divs Codeforces uses inside sample blocks.
func preText(s *goquery.Selection) string {
	lines := s.Find("div.test-example-line")
	if lines.Length() == 0 {
		return strings.TrimSpace(s.Text())
	}
	var parts []string
	lines.Each(func(_ int, l *goquery.Selection) {
		parts = append(parts, l.Text())
	})
	return strings.Join(parts, "\n")
}

func (c *client) Submit(ctx context.Context, id, code string, lang judge.Language) (string, error) {
	langID, err := judge.LanguageCode(Name, languages, lang)
	if err != nil {
		return "", err
	}
	contest, problem, ok := splitID(id)
	if !ok {
		return "", fmt.Errorf("invalid codeforces problem id %q", id)
	}

	form := url.Values{}
	var submitURL string
	if contest == "acmsguru" {
		submitURL = c.baseURL + "/contest/acmsguru/submit"
		form.Set("submittedProblemIndex", problem)
	} else {
		submitURL = c.baseURL + "/problemset/submit"
		form.Set("submittedProblemCode", contest+problem)
	}
	token, err := c.csrf(ctx, submitURL)
	if err != nil {
		return "", err
	}
	form.Set("csrf_token", token)
	form.Set("ftaa", "n/a")
	form.Set("bfaa", "n/a")
	form.Set("action", "submitSolutionFormSubmitted")
	form.Set("programTypeId", langID)
	form.Set("source", code)
	form.Set("tabSize", "4")

	resp, err := c.Session.Do(ctx, judge.Request{
		Method: "POST",
		URL:    submitURL,
		Query:  url.Values{"csrf_token": {token}},
		Form:   form,
	})
	if err != nil {
		return "", err
	}
	m := submissionIDRe.FindStringSubmatch(resp.Text())
	if m == nil {
		if doc, err := resp.Document(); err == nil {
			if msg := strings.TrimSpace(doc.Find("span.error").First().Text()); msg != "" {
				return "", fmt.Errorf("codeforces rejected submission: %s", msg)
			}
		}
		return "", judge.Drift(Name, "no submission id after submit")
	}
	return fmt.Sprintf("%s_%s_%s", contest, problem, m[1]), nil
}

// sourceData is the flat key/value object returned by /data/submitSource.
type sourceData map[string]any

func (d sourceData) str(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func (d sourceData) num(key string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(d.str(key)), 64)
	return f
}

func (c *client) Submission(ctx context.Context, handle string) (*judge.Submission, error) {
	i := strings.LastIndex(handle, "_")
	if i < 0 {
		return nil, fmt.Errorf("invalid codeforces handle %q", handle)
	}
	pid, sid := handle[:i], handle[i+1:]
	if _, _, ok := splitID(pid); !ok || sid == "" {
		return nil, fmt.Errorf("invalid codeforces handle %q", handle)
	}

	token, err := c.csrf(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}
	resp, err := c.Session.PostForm(ctx, c.baseURL+"/data/submitSource", url.Values{
		"submissionId": {sid},
		"csrf_token":   {token},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("codeforces status %d for submission %s", resp.StatusCode, handle)
	}
	var data sourceData
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		c.log.Debug("submission source not json yet", zap.String("handle", handle))
		return nil, nil
	}
	return c.parseSubmission(handle, pid, data), nil
}

func (c *client) parseSubmission(handle, pid string, data sourceData) *judge.Submission {
	waiting := data.str("waiting")
	if waiting == "" || waiting == "true" {
		return nil
	}
	code := judge.StrPtr(data.str("source"))
	if data.str("compilationError") == "true" {
		return &judge.Submission{
			ID: handle, Verdict: judge.CompilationError, Problem: pid, Code: code,
			Data: nilIfEmpty(data.str("checkerStdoutAndStderr#1")),
		}
	}

	verdict := judge.Accepted
	n := 0
	if data.str("testCount") != "" {
		n = int(data.num("testCount"))
		verdict = c.parseVerdict(data.str("verdict"))
	}
	var maxTime, maxMem float64
	cases := make([]judge.Case, 0, n)
	for i := 1; i <= n; i++ {
		key := func(k string) string { return k + "#" + strconv.Itoa(i) }
		cs := judge.Case{
			Time:    data.num(key("timeConsumed")),
			Memory:  float64(int(data.num(key("memoryConsumed"))) / 1024),
			Input:   judge.StrPtr(data.str(key("input"))),
			Output:  judge.StrPtr(data.str(key("output"))),
			Answer:  judge.StrPtr(data.str(key("answer"))),
			Message: judge.StrPtr(data.str(key("checkerStdoutAndStderr"))),
		}
		if v := data.str(key("verdict")); v != "" {
			cs.Verdict = judge.Ptr(judge.ParseVerdict(v))
		}
		maxTime = max(maxTime, cs.Time)
		maxMem = max(maxMem, cs.Memory)
		cases = append(cases, cs)
	}
	return &judge.Submission{
		ID:      handle,
		Verdict: verdict,
		Problem: pid,
		Score:   verdict.Score(),
		Code:    code,
		Time:    judge.Ptr(maxTime),
		Memory:  judge.Ptr(maxMem),
		Cases:   cases,
	}
}

func (c *client) parseVerdict(text string) judge.Verdict {
	switch {
	case strings.Contains(text, "verdict-accepted"):
		return judge.Accepted
	case strings.Contains(text, "verdict-rejected"):
		switch {
		case strings.Contains(text, "Time limit exceeded"):
			return judge.TimeLimitExceeded
		case strings.Contains(text, "Wrong answer"):
			return judge.WrongAnswer
		case strings.Contains(text, "Runtime error"):
			return judge.RuntimeError
		case strings.Contains(text, "Memory limit exceeded"):
			return judge.MemoryLimitExceeded
		case strings.Contains(text, "Idleness limit exceeded"):
			return judge.IdlenessLimitExceeded
		case strings.Contains(text, "Compilation error"):
			return judge.CompilationError
		}
		c.log.Warn("unknown rejected verdict", zap.String("verdict", text))
		return judge.OtherFail
	}
	c.log.Warn("unknown verdict", zap.String("verdict", text))
	return judge.Unknown
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
