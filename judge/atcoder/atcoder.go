// Package atcoder drives atcoder.jp.
package atcoder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/david-why/submit/judge"
)

const (
	Name           = "atcoder"
	defaultBaseURL = "https://atcoder.jp"
)

var languages = map[judge.Language]string{
	judge.CPP:     "4003",
	judge.Python3: "4047",
}

const problemPattern = `https?://atcoder\.jp/contests/([0-9a-zA-Z_]+)/tasks/([0-9a-zA-Z_]+)`

var (
	urlRe    = regexp.MustCompile("^" + problemPattern)
	searchRe = regexp.MustCompile(problemPattern)
	taskRe   = regexp.MustCompile(`/contests/([0-9a-zA-Z_]+)/tasks/([0-9a-zA-Z_]+)`)
	csrfRe   = regexp.MustCompile(`csrfToken = "([^"]*)"`)
)

// judging statuses; progress like "3/12" is pending too
var pendingStatuses = mapset.NewSet("WJ", "WR", "Judging")

var verdicts = map[string]judge.Verdict{
	"AC":  judge.Accepted,
	"WA":  judge.WrongAnswer,
	"TLE": judge.TimeLimitExceeded,
	"MLE": judge.MemoryLimitExceeded,
	"RE":  judge.RuntimeError,
	"OLE": judge.RuntimeError,
	"IE":  judge.RuntimeError,
	"CE":  judge.CompilationError,
}

func Def() judge.Def {
	return judge.Def{
		Name:  Name,
		Title: "AtCoder",
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
	c := &client{
		Base:    judge.Base{Session: sess},
		baseURL: baseURL,
		log:     env.Log().With(zap.String("backend", Name)),
	}
	c.setLanguage()
	return c, nil
}

func (c *client) setLanguage() {
	c.Session.SetCookie(c.baseURL, "language", "en")
}

func (c *client) Name() string { return Name }

func (c *client) ParseProblemURL(rawURL string) (string, bool) {
	m := urlRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1] + "/" + m[2], true
}

func (c *client) SearchProblem(text string) (string, bool) {
	m := searchRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1] + "/" + m[2], true
}

// splitID accepts "<contest>/<task>" and the short "<contest>_<x>" form,
// whose task is "<contest>_<x>".
func splitID(id string) (contest, task string, ok bool) {
	if contest, task, ok = strings.Cut(id, "/"); ok {
		return contest, task, contest != "" && task != "" && !strings.Contains(task, "/")
	}
	parts := strings.Split(id, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], id, true
}

func (c *client) ProblemURL(id string) (string, bool) {
	contest, task, ok := splitID(id)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s/contests/%s/tasks/%s", defaultBaseURL, contest, task), true
}

func (c *client) csrf(ctx context.Context, pageURL string) (string, error) {
	resp, err := c.Session.Get(ctx, pageURL, nil)
	if err != nil {
		return "", err
	}
	m := csrfRe.FindStringSubmatch(resp.Text())
	if m == nil {
		return "", judge.Drift(Name, "no csrf token on %s", pageURL)
	}
	return m[1], nil
}

func (c *client) Login(ctx context.Context, username, password string) (bool, error) {
	loginURL := c.baseURL + "/login"
	token, err := c.csrf(ctx, loginURL)
	if err != nil {
		return false, err
	}
	resp, err := c.Session.PostForm(ctx, loginURL, url.Values{
		"username":   {username},
		"password":   {password},
		"csrf_token": {token},
	})
	if err != nil {
		return false, err
	}
	return !strings.Contains(resp.URL.Path, "login"), nil
}

func (c *client) Logout(ctx context.Context) (bool, error) {
	token, err := c.csrf(ctx, c.baseURL+"/home")
	if err != nil {
		return false, err
	}
	if _, err := c.Session.PostForm(ctx, c.baseURL+"/logout", url.Values{"csrf_token": {token}}); err != nil {
		return false, err
	}
	in, err := c.LoggedIn(ctx)
	if err != nil {
		return false, err
	}
	if err := c.Session.Reset(); err != nil {
		return false, err
	}
	c.setLanguage()
	return !in, nil
}

func (c *client) LoggedIn(ctx context.Context) (bool, error) {
	resp, err := c.Session.Get(ctx, c.baseURL+"/settings", nil)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(resp.URL.Path, "/settings"), nil
}

func (c *client) Problem(ctx context.Context, id string) (*judge.Problem, error) {
	contest, task, ok := splitID(id)
	if !ok {
		return nil, nil
	}
	resp, err := c.Session.Get(ctx, fmt.Sprintf("%s/contests/%s/tasks/%s", c.baseURL, contest, task), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}
	parts := doc.Find("#task-statement .lang-en .part")
	if parts.Length() == 0 {
		return nil, nil
	}

	var text strings.Builder
	var inputs, outputs []string
	parts.Each(func(_ int, p *goquery.Selection) {
		if html, err := goquery.OuterHtml(p); err == nil {
			text.WriteString(html)
		}
		heading := strings.TrimSpace(p.Find("h3").First().Text())
		sample := strings.ReplaceAll(p.Find("pre").First().Text(), "\r\n", "\n")
		switch {
		case strings.HasPrefix(heading, "Sample Input "):
			inputs = append(inputs, sample)
		case strings.HasPrefix(heading, "Sample Output "):
			outputs = append(outputs, sample)
		}
	})
	var samples []judge.Sample
	for i := 0; i < len(inputs) && i < len(outputs); i++ {
		samples = append(samples, judge.Sample{Input: inputs[i], Output: outputs[i]})
	}
	return &judge.Problem{ID: contest + "/" + task, Text: text.String(), TextType: judge.HTML, Samples: samples}, nil
}

func (c *client) Submit(ctx context.Context, id, code string, lang judge.Language) (string, error) {
	langID, err := judge.LanguageCode(Name, languages, lang)
	if err != nil {
		return "", err
	}
	contest, task, ok := splitID(id)
	if !ok {
		return "", fmt.Errorf("invalid atcoder problem id %q", id)
	}
	submitURL := fmt.Sprintf("%s/contests/%s/submit", c.baseURL, contest)
	token, err := c.csrf(ctx, submitURL+"?taskScreenName="+url.QueryEscape(task))
	if err != nil {
		return "", err
	}
	resp, err := c.Session.PostForm(ctx, submitURL, url.Values{
		"data.TaskScreenName": {task},
		"data.LanguageId":     {langID},
		"sourceCode":          {code},
		"csrf_token":          {token},
	})
	if err != nil {
		return "", err
	}
	doc, err := resp.Document()
	if err != nil {
		return "", err
	}
	sid, ok := doc.Find(".table-responsive td.submission-score").First().Attr("data-id")
	if !ok || sid == "" {
		return "", judge.Drift(Name, "no submission id after submit")
	}
	return contest + "/" + sid, nil
}

func (c *client) parseVerdict(status string) judge.Verdict {
	if v, ok := verdicts[status]; ok {
		return v
	}
	c.log.Warn("unknown verdict", zap.String("verdict", status))
	return judge.Unknown
}

func (c *client) Submission(ctx context.Context, handle string) (*judge.Submission, error) {
	contest, sid, ok := strings.Cut(handle, "/")
	if !ok || contest == "" || sid == "" {
		return nil, fmt.Errorf("invalid atcoder handle %q", handle)
	}
	resp, err := c.Session.Get(ctx, fmt.Sprintf("%s/contests/%s/submissions/%s", c.baseURL, contest, sid), nil)
	if err != nil {
		return nil, err
	}
	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}
	status := doc.Find("#judge-status span").First()
	if status.Length() == 0 {
		return nil, judge.Drift(Name, "no judge status on submission %s", handle)
	}
	stat := strings.TrimSpace(status.Text())
	if pendingStatuses.Contains(stat) || strings.Contains(stat, "/") {
		return nil, nil
	}

	sub := &judge.Submission{ID: handle, Verdict: c.parseVerdict(stat)}
	if title, ok := status.Attr("title"); ok && title != "" {
		sub.Data = title
	}
	if code := doc.Find("#submission-code"); code.Length() > 0 {
		sub.Code = judge.Ptr(code.Text())
	}

	// summary rows: submitted at, task, user, language, score, code size,
	// status, exec time, memory
	tds := status.Closest("table").Find("td")
	if tds.Length() > 8 {
		if href, ok := tds.Eq(1).Find("a").Attr("href"); ok {
			if m := taskRe.FindStringSubmatch(href); m != nil {
				sub.Problem = m[1] + "/" + m[2]
			}
		}
		native, _ := strconv.Atoi(strings.TrimSpace(tds.Eq(4).Text()))
		sub.Score = judge.NormalizeScore(native, sub.Verdict)
		sub.Time = judge.Ptr(float64(digits(tds.Eq(7).Text())))
		sub.Memory = judge.Ptr(float64(digits(tds.Eq(8).Text())))
	} else {
		sub.Score = sub.Verdict.Score()
	}

	doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		if strings.TrimSpace(t.Find("th").First().Text()) != "Case Name" {
			return
		}
		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := tr.Find("td")
			if cells.Length() < 4 {
				return
			}
			sub.Cases = append(sub.Cases, judge.Case{
				Time:    float64(digits(cells.Eq(2).Text())),
				Memory:  float64(digits(cells.Eq(3).Text())),
				Verdict: judge.Ptr(c.parseVerdict(strings.TrimSpace(tr.Find("span").First().Text()))),
			})
		})
	})
	return sub, nil
}

// digits reads the decimal digits of s as one number, so "1234 ms" is 1234.
func digits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
		}
	}
	return n
}
