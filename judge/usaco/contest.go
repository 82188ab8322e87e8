package usaco

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/david-why/submit/judge"
)

const (
	ContestName           = "usaco_contest"
	defaultContestBaseURL = "http://www.usaco.org"
	contestHost           = "www.usaco.org"
)

var contestLanguages = map[judge.Language]string{
	judge.CPP:     "7",
	judge.Python3: "4",
}

// status-update codes at or below this mean the grader is still busy
const contestPendingCode = -8

var (
	cpidRe       = regexp.MustCompile(`cpid=([0-9]+)`)
	numericIDRe  = regexp.MustCompile(`^[0-9]+$`)
	quantityRe   = regexp.MustCompile(`^([0-9.]+)\s*([a-z]*)$`)
	contestCases = map[string]judge.Verdict{
		"Correct answer":      judge.Accepted,
		"Time limit exceeded": judge.TimeLimitExceeded,
		"Wrong answer":        judge.WrongAnswer,
	}
)

func ContestDef() judge.Def {
	return judge.Def{
		Name:  ContestName,
		Title: "USACO Contest",
		Settings: []judge.SettingDef{
			{ID: "base_url", Name: "Base URL"},
		},
		Build: func(s map[string]string, env judge.Env) (judge.Backend, error) {
			return newContest(s["base_url"], env)
		},
	}
}

type contest struct {
	judge.Base
	baseURL string
	log     *zap.Logger
}

func newContest(baseURL string, env judge.Env) (*contest, error) {
	if baseURL == "" {
		baseURL = defaultContestBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	sess, err := judge.NewHTTPSession([]string{baseURL}, env.HTTPOptions(ContestName)...)
	if err != nil {
		return nil, err
	}
	return &contest{
		Base:    judge.Base{Session: sess},
		baseURL: baseURL,
		log:     env.Log().With(zap.String("backend", ContestName)),
	}, nil
}

func (c *contest) Name() string { return ContestName }

func (c *contest) RequireViewLogin() bool { return true }

func (c *contest) ParseProblemURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != contestHost || u.Path != "/index.php" {
		return "", false
	}
	q := u.Query()
	if q.Get("page") != "viewproblem2" || !numericIDRe.MatchString(q.Get("cpid")) {
		return "", false
	}
	return q.Get("cpid"), true
}

func (c *contest) SearchProblem(text string) (string, bool) {
	if m := cpidRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}

func (c *contest) ProblemURL(id string) (string, bool) {
	if !numericIDRe.MatchString(id) {
		return "", false
	}
	return "http://" + contestHost + "/index.php?page=viewproblem2&cpid=" + id, true
}

func (c *contest) problemPage(ctx context.Context, id string) (*judge.Response, error) {
	return c.Session.Get(ctx, c.baseURL+"/index.php", url.Values{"page": {"viewproblem2"}, "cpid": {id}})
}

func (c *contest) Login(ctx context.Context, username, password string) (bool, error) {
	resp, err := c.Session.PostForm(ctx, c.baseURL+"/current/tpcm/login-session.php", url.Values{
		"uname":    {username},
		"password": {password},
	})
	if err != nil {
		return false, err
	}
	var res struct {
		Code json.Number `json:"code"`
	}
	if err := resp.JSON(&res); err != nil {
		return false, judge.Drift(ContestName, "login answer: %v", err)
	}
	return res.Code.String() == "1", nil
}

func (c *contest) Logout(ctx context.Context) (bool, error) {
	resp, err := c.Session.Get(ctx, c.baseURL+"/current/tpcm/logout.php", nil)
	if err != nil {
		return false, err
	}
	if err := c.Session.Reset(); err != nil {
		return false, err
	}
	return strings.HasSuffix(resp.URL.Path, "index.php"), nil
}

func (c *contest) LoggedIn(ctx context.Context) (bool, error) {
	resp, err := c.Session.Get(ctx, c.baseURL+"/index.php", nil)
	if err != nil {
		return false, err
	}
	return strings.Contains(resp.Text(), "Welcome, "), nil
}

func (c *contest) Problem(ctx context.Context, id string) (*judge.Problem, error) {
	if !numericIDRe.MatchString(id) {
		return nil, nil
	}
	resp, err := c.problemPage(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}
	desc := doc.Find(".problem-text").First()
	if desc.Length() == 0 {
		return nil, nil
	}
	var titles []string
	doc.Find("h2").Each(func(_ int, s *goquery.Selection) {
		titles = append(titles, s.Text())
	})
	p := &judge.Problem{
		ID:       id,
		Text:     strings.TrimSpace(strings.Join(titles, " ")) + "\n" + desc.Text(),
		TextType: judge.Text,
	}
	ins, outs := doc.Find("pre.in"), doc.Find("pre.out")
	for i := 0; i < ins.Length() && i < outs.Length(); i++ {
		p.Samples = append(p.Samples, judge.Sample{
			Input:  strings.TrimSpace(ins.Eq(i).Text()),
			Output: strings.TrimSpace(outs.Eq(i).Text()),
		})
	}
	return p, nil
}

func (c *contest) Submit(ctx context.Context, id, code string, lang judge.Language) (string, error) {
	langID, err := judge.LanguageCode(ContestName, contestLanguages, lang)
	if err != nil {
		return "", err
	}
	if _, err := c.Session.Do(ctx, judge.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/current/tpcm/submit-solution.php",
		Multipart: []judge.MultipartField{
			{Name: "cpid", Content: id},
			{Name: "language", Content: langID},
			{Name: "sourcefile", FileName: "file", Content: code},
		},
	}); err != nil {
		return "", err
	}
	resp, err := c.problemPage(ctx, id)
	if err != nil {
		return "", err
	}
	doc, err := resp.Document()
	if err != nil {
		return "", err
	}
	sid, ok := doc.Find("#last-status").Attr("data-sid")
	if !ok || sid == "" {
		return "", judge.Drift(ContestName, "no last submission on problem %s", id)
	}
	return id + "_" + sid, nil
}

type statusUpdate struct {
	Code   json.Number `json:"cd"`
	Result string      `json:"sr"`
	Output string      `json:"output"`
	Detail string      `json:"jd"`
}

func (c *contest) Submission(ctx context.Context, handle string) (*judge.Submission, error) {
	pid, sid, ok := strings.Cut(handle, "_")
	if !ok || sid == "" {
		return nil, fmt.Errorf("invalid usaco_contest handle %q", handle)
	}
	resp, err := c.Session.PostForm(ctx, c.baseURL+"/current/tpcm/status-update.php", url.Values{"sid": {sid}})
	if err != nil {
		return nil, err
	}
	var st statusUpdate
	if err := resp.JSON(&st); err != nil {
		return nil, err
	}
	code, err := st.Code.Int64()
	if err != nil {
		return nil, judge.Drift(ContestName, "status code %q", st.Code)
	}
	if code <= contestPendingCode {
		return nil, nil
	}
	return c.parseStatus(sid, pid, int(code), st)
}

func (c *contest) parseStatus(sid, pid string, code int, st statusUpdate) (*judge.Submission, error) {
	sub := &judge.Submission{ID: sid, Problem: pid}
	switch {
	case strings.HasPrefix(st.Result, "Compilation Error"):
		sub.Verdict = judge.CompilationError
		sub.Data = st.Output
		return sub, nil
	case strings.HasPrefix(st.Result, "Incorrect answer on sample input case"):
		sub.Verdict = judge.WrongAnswer
		sub.Data = st.Output
		return sub, nil
	case !strings.HasPrefix(st.Result, "Submitted;"):
		c.log.Warn("unrecognized status", zap.String("status", st.Result))
		sub.Verdict = judge.OtherFail
		sub.Data = st.Result
		return sub, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(st.Detail))
	if err != nil {
		return nil, fmt.Errorf("parse judge detail: %w", err)
	}
	sub.Verdict = judge.Accepted
	var maxTime, maxMem float64
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		title, _ := a.Attr("title")
		v, ok := contestCases[title]
		if !ok && strings.HasPrefix(title, "Runtime error") {
			v, ok = judge.RuntimeError, true
		}
		if !ok {
			c.log.Warn("unrecognized case title", zap.String("title", title))
			v = judge.OtherFail
		}
		cs := judge.Case{Verdict: judge.Ptr(v)}
		if v == judge.Accepted {
			if spans := a.Find(".info > span"); spans.Length() >= 2 {
				cs.Memory = parseMemory(spans.Eq(0).Text())
				cs.Time = parseTime(spans.Eq(1).Text())
			}
		}
		maxTime = max(maxTime, cs.Time)
		maxMem = max(maxMem, cs.Memory)
		if sub.Verdict == judge.Accepted && v != judge.Accepted {
			sub.Verdict = v
		}
		sub.Cases = append(sub.Cases, cs)
	})
	sub.Score = judge.ScoreCases(sub.Cases)
	sub.Time = judge.Ptr(maxTime)
	sub.Memory = judge.Ptr(maxMem)
	sub.Data = map[string]int{"code": code}
	return sub, nil
}

func splitQuantity(s string) (float64, string) {
	m := quantityRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, ""
	}
	f, _ := strconv.ParseFloat(m[1], 64)
	return f, m[2]
}

// parseMemory converts "2.5mb" style sizes to KB.
func parseMemory(s string) float64 {
	f, unit := splitQuantity(s)
	switch unit {
	case "gb":
		return f * 1024 * 1024
	case "mb":
		return f * 1024
	default:
		return f
	}
}

// parseTime converts "35ms" or "1.2s" to milliseconds.
func parseTime(s string) float64 {
	f, unit := splitQuantity(s)
	if unit == "s" {
		return f * 1000
	}
	return f
}
