// Package luogu drives luogu.com.cn through its JSON "_contentOnly"
// endpoints.
package luogu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david-why/submit/judge"
)

const (
	Name           = "luogu"
	defaultBaseURL = "https://www.luogu.com.cn"
	defaultSyncURL = "https://www.luogu.org"
)

var languages = map[judge.Language]int{
	judge.CPP:     12,
	judge.Python3: 25,
}

// statusVerdicts maps Luogu's numeric record status. A missing entry
// means the record is still waiting or judging.
var statusVerdicts = map[int]judge.Verdict{
	-1: judge.Unknown, // unshown
	2:  judge.CompilationError,
	3:  judge.RuntimeError, // output limit exceeded
	4:  judge.MemoryLimitExceeded,
	5:  judge.TimeLimitExceeded,
	6:  judge.WrongAnswer,
	7:  judge.RuntimeError,
	11: judge.OtherFail,
	12: judge.Accepted,
	14: judge.WrongAnswer, // unaccepted
}

const problemPattern = `https?://(?:www\.)?luogu\.com\.cn/problem/([A-Z0-9]+)(?:\?contestId=([0-9]+))?`

var (
	urlRe    = regexp.MustCompile("^" + problemPattern)
	searchRe = regexp.MustCompile(problemPattern)
	idRe     = regexp.MustCompile(`^([A-Za-z0-9]+)(?::([0-9]+))?$`)
	csrfRe   = regexp.MustCompile(`csrf-token" content="([^"]*)"`)
)

// ErrNoCaptchaSolver is returned by Login when no CaptchaSolver is
// configured.
var ErrNoCaptchaSolver = errors.New("luogu login needs a captcha solver")

func Def() judge.Def {
	return judge.Def{
		Name:  Name,
		Title: "Luogu",
		Settings: []judge.SettingDef{
			{ID: "base_url", Name: "Base URL"},
			{ID: "sync_url", Name: "Login sync URL"},
		},
		Build: func(s map[string]string, env judge.Env) (judge.Backend, error) {
			return newClient(s["base_url"], s["sync_url"], env)
		},
	}
}

type client struct {
	judge.Base
	baseURL string
	syncURL string
	captcha judge.CaptchaSolver
	log     *zap.Logger
}

func newClient(baseURL, syncURL string, env judge.Env) (*client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if syncURL == "" {
		syncURL = defaultSyncURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	syncURL = strings.TrimRight(syncURL, "/")
	sess, err := judge.NewHTTPSession([]string{baseURL, syncURL}, env.HTTPOptions(Name)...)
	if err != nil {
		return nil, err
	}
	return &client{
		Base:    judge.Base{Session: sess},
		baseURL: baseURL,
		syncURL: syncURL,
		captcha: env.Captcha,
		log:     env.Log().With(zap.String("backend", Name)),
	}, nil
}

func (c *client) Name() string { return Name }

func matchID(m []string) (string, bool) {
	if m == nil {
		return "", false
	}
	if m[2] != "" {
		return m[1] + ":" + m[2], true
	}
	return m[1], true
}

func (c *client) ParseProblemURL(rawURL string) (string, bool) {
	return matchID(urlRe.FindStringSubmatch(rawURL))
}

func (c *client) SearchProblem(text string) (string, bool) {
	return matchID(searchRe.FindStringSubmatch(text))
}

func splitID(id string) (pid, contest string, ok bool) {
	m := idRe.FindStringSubmatch(id)
	if m == nil {
		return "", "", false
	}
	return strings.ToUpper(m[1]), m[2], true
}

func problemPath(pid, contest string) string {
	p := "/problem/" + pid
	if contest != "" {
		p += "?contestId=" + contest
	}
	return p
}

func (c *client) ProblemURL(id string) (string, bool) {
	pid, contest, ok := splitID(id)
	if !ok {
		return "", false
	}
	return defaultBaseURL + problemPath(pid, contest), true
}

func (c *client) csrf(ctx context.Context, pageURL string, headers map[string]string) (string, error) {
	resp, err := c.Session.Do(ctx, judge.Request{URL: pageURL, Headers: headers})
	if err != nil {
		return "", err
	}
	m := csrfRe.FindStringSubmatch(resp.Text())
	if m == nil {
		return "", judge.Drift(Name, "no csrf token on %s", pageURL)
	}
	return m[1], nil
}

func (c *client) apiHeaders(token, referer string) map[string]string {
	return map[string]string{
		"x-csrf-token": token,
		"origin":       c.baseURL,
		"referer":      referer,
	}
}

type loginResult struct {
	SyncToken    string `json:"syncToken"`
	ErrorMessage string `json:"errorMessage"`
}

func (c *client) Login(ctx context.Context, username, password string) (bool, error) {
	if c.captcha == nil {
		return false, ErrNoCaptchaSolver
	}
	loginURL := c.baseURL + "/auth/login"
	c.Session.SetCookie(c.baseURL, "login_referer", c.baseURL+"/")
	token, err := c.csrf(ctx, loginURL, map[string]string{"referer": c.baseURL + "/"})
	if err != nil {
		return false, err
	}

	img, err := c.Session.Do(ctx, judge.Request{
		URL:     c.baseURL + "/api/verify/captcha",
		Query:   url.Values{"_t": {strconv.FormatInt(time.Now().UnixMilli(), 10)}},
		Headers: map[string]string{"referer": loginURL},
	})
	if err != nil {
		return false, err
	}
	answer, err := c.captcha.Solve(ctx, img.Body)
	if err != nil {
		return false, fmt.Errorf("solve captcha: %w", err)
	}
	if answer == "" {
		return false, nil
	}

	resp, err := c.Session.Do(ctx, judge.Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/api/auth/userPassLogin",
		JSON:    map[string]string{"captcha": answer, "password": password, "username": username},
		Headers: c.apiHeaders(token, loginURL),
	})
	if err != nil {
		return false, err
	}
	var res loginResult
	if !resp.OK() || resp.JSON(&res) != nil || res.SyncToken == "" {
		c.log.Debug("login rejected", zap.Int("status", resp.StatusCode), zap.String("message", res.ErrorMessage))
		return false, nil
	}

	sync, err := c.Session.Do(ctx, judge.Request{
		Method: http.MethodPost,
		URL:    c.syncURL + "/api/auth/syncLogin",
		JSON:   map[string]string{"syncToken": res.SyncToken},
		Headers: map[string]string{
			"origin":  c.baseURL,
			"referer": c.baseURL + "/",
		},
	})
	if err != nil {
		return false, err
	}
	return sync.OK(), nil
}

func (c *client) Logout(ctx context.Context) (bool, error) {
	token, err := c.csrf(ctx, c.baseURL+"/", nil)
	if err != nil {
		return false, err
	}
	if _, err := c.Session.Do(ctx, judge.Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/api/auth/logout",
		Headers: c.apiHeaders(token, c.baseURL+"/"),
	}); err != nil {
		return false, err
	}
	in, err := c.LoggedIn(ctx)
	if err != nil {
		return false, err
	}
	if err := c.Session.Reset(); err != nil {
		return false, err
	}
	return !in, nil
}

func (c *client) LoggedIn(ctx context.Context) (bool, error) {
	resp, err := c.Session.Get(ctx, c.baseURL+"/user/setting", url.Values{"_contentOnly": {"1"}})
	if err != nil {
		return false, err
	}
	var page struct {
		CurrentTemplate string `json:"currentTemplate"`
	}
	if err := resp.JSON(&page); err != nil {
		return false, nil
	}
	return page.CurrentTemplate == "UserSetting", nil
}

type problemData struct {
	PID          string      `json:"pid"`
	Background   string      `json:"background"`
	Description  string      `json:"description"`
	InputFormat  string      `json:"inputFormat"`
	OutputFormat string      `json:"outputFormat"`
	Samples      [][2]string `json:"samples"`
	Hint         string      `json:"hint"`
}

func (c *client) Problem(ctx context.Context, id string) (*judge.Problem, error) {
	pid, contest, ok := splitID(id)
	if !ok {
		return nil, nil
	}
	query := url.Values{"_contentOnly": {"1"}}
	if contest != "" {
		query.Set("contestId", contest)
	}
	resp, err := c.Session.Get(ctx, c.baseURL+"/problem/"+pid, query)
	if err != nil {
		return nil, err
	}
	var page struct {
		CurrentData struct {
			Problem *problemData `json:"problem"`
		} `json:"currentData"`
	}
	if err := resp.JSON(&page); err != nil {
		return nil, err
	}
	p := page.CurrentData.Problem
	if p == nil {
		return nil, nil
	}
	samples := make([]judge.Sample, 0, len(p.Samples))
	for _, s := range p.Samples {
		samples = append(samples, judge.Sample{Input: s[0], Output: s[1]})
	}
	return &judge.Problem{ID: id, Text: problemMarkdown(p), TextType: judge.Markdown, Samples: samples}, nil
}

func problemMarkdown(p *problemData) string {
	var b strings.Builder
	section := func(title, body string) {
		if body = strings.TrimSpace(body); body != "" {
			fmt.Fprintf(&b, "# %s\n%s\n\n", title, body)
		}
	}
	section("题目背景", p.Background)
	section("题目描述", p.Description)
	section("输入格式", p.InputFormat)
	section("输出格式", p.OutputFormat)
	if len(p.Samples) > 0 {
		b.WriteString("# 输入输出样例\n")
		for i, s := range p.Samples {
			fmt.Fprintf(&b, "## 输入 \\#%d\n```\n%s\n```\n\n## 输出 \\#%d\n```\n%s\n```\n\n",
				i+1, strings.TrimSpace(s[0]), i+1, strings.TrimSpace(s[1]))
		}
	}
	section("说明/提示", p.Hint)
	return b.String()
}

func (c *client) Submit(ctx context.Context, id, code string, lang judge.Language) (string, error) {
	langID, err := judge.LanguageCode(Name, languages, lang)
	if err != nil {
		return "", err
	}
	pid, contest, ok := splitID(id)
	if !ok {
		return "", fmt.Errorf("invalid luogu problem id %q", id)
	}
	pageURL := c.baseURL + problemPath(pid, contest)
	token, err := c.csrf(ctx, pageURL, nil)
	if err != nil {
		return "", err
	}
	req := judge.Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/fe/api/problem/submit/" + pid,
		JSON:    map[string]any{"code": code, "enableO2": 0, "lang": langID},
		Headers: c.apiHeaders(token, pageURL),
	}
	if contest != "" {
		req.Query = url.Values{"contestId": {contest}}
	}
	resp, err := c.Session.Do(ctx, req)
	if err != nil {
		return "", err
	}
	var res struct {
		RID          json.Number `json:"rid"`
		ErrorMessage string      `json:"errorMessage"`
	}
	if err := resp.JSON(&res); err != nil {
		return "", err
	}
	if res.RID == "" {
		if res.ErrorMessage != "" {
			return "", fmt.Errorf("luogu rejected submission: %s", res.ErrorMessage)
		}
		return "", judge.Drift(Name, "no record id after submit")
	}
	return res.RID.String(), nil
}

type testCase struct {
	Status      *int    `json:"status"`
	Time        float64 `json:"time"`
	Memory      float64 `json:"memory"`
	Description string  `json:"description"`
}

type record struct {
	Status  *int `json:"status"`
	Problem struct {
		PID string `json:"pid"`
	} `json:"problem"`
	Score      int     `json:"score"`
	SourceCode string  `json:"sourceCode"`
	Time       float64 `json:"time"`
	Memory     float64 `json:"memory"`
	Detail     struct {
		CompileResult *struct {
			Message *string `json:"message"`
		} `json:"compileResult"`
		JudgeResult *struct {
			Subtasks json.RawMessage `json:"subtasks"`
		} `json:"judgeResult"`
	} `json:"detail"`
}

// verdict resolves a status code; ok is false while the status is
// waiting, judging or otherwise non-final.
func (c *client) verdict(status *int) (judge.Verdict, bool) {
	if status == nil {
		return 0, false
	}
	v, ok := statusVerdicts[*status]
	if !ok && (*status > 14 || *status < -1) {
		c.log.Warn("unknown record status", zap.Int("status", *status))
		return judge.Unknown, true
	}
	return v, ok
}

func (c *client) Submission(ctx context.Context, handle string) (*judge.Submission, error) {
	resp, err := c.Session.Get(ctx, c.baseURL+"/record/"+handle, url.Values{"_contentOnly": {"1"}})
	if err != nil {
		return nil, err
	}
	var page struct {
		CurrentData struct {
			Record *record `json:"record"`
		} `json:"currentData"`
	}
	if err := resp.JSON(&page); err != nil {
		return nil, err
	}
	rec := page.CurrentData.Record
	if rec == nil {
		return nil, judge.Drift(Name, "no record %s", handle)
	}
	v, done := c.verdict(rec.Status)
	if !done {
		return nil, nil
	}

	sub := &judge.Submission{
		ID:      handle,
		Verdict: v,
		Problem: rec.Problem.PID,
		Score:   judge.NormalizeScore(rec.Score, v),
		Code:    judge.StrPtr(rec.SourceCode),
		Time:    judge.Ptr(rec.Time),
		Memory:  judge.Ptr(rec.Memory),
	}
	if cr := rec.Detail.CompileResult; cr != nil && cr.Message != nil && *cr.Message != "" {
		sub.Data = *cr.Message
	}
	if jr := rec.Detail.JudgeResult; jr != nil {
		subtasks, err := orderedList(jr.Subtasks)
		if err != nil {
			return nil, judge.Drift(Name, "subtasks of record %s: %v", handle, err)
		}
		for _, raw := range subtasks {
			var st struct {
				TestCases json.RawMessage `json:"testCases"`
			}
			if err := json.Unmarshal(raw, &st); err != nil {
				return nil, judge.Drift(Name, "subtask of record %s: %v", handle, err)
			}
			cases, err := orderedList(st.TestCases)
			if err != nil {
				return nil, judge.Drift(Name, "test cases of record %s: %v", handle, err)
			}
			for _, rawCase := range cases {
				var tc testCase
				if err := json.Unmarshal(rawCase, &tc); err != nil {
					return nil, judge.Drift(Name, "test case of record %s: %v", handle, err)
				}
				cs := judge.Case{Time: tc.Time, Memory: tc.Memory, Message: judge.StrPtr(tc.Description)}
				if cv, ok := c.verdict(tc.Status); ok {
					cs.Verdict = judge.Ptr(cv)
				}
				sub.Cases = append(sub.Cases, cs)
			}
		}
	}
	return sub, nil
}

// orderedList accepts either a JSON array or an object keyed by index and
// returns the elements in index order.
func orderedList(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	out := make([]json.RawMessage, len(keys))
	for i, k := range keys {
		out[i] = obj[k]
	}
	return out, nil
}
