// Package cses drives the CSES problem set.
package cses

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
	Name           = "cses"
	defaultBaseURL = "https://cses.fi"
)

type langOption struct {
	lang, option string
}

var languages = map[judge.Language]langOption{
	judge.CPP:     {"C++", "C++17"},
	judge.Python3: {"Python3", "PyPy3"},
}

var verdicts = map[string]judge.Verdict{
	"ACCEPTED":              judge.Accepted,
	"WRONG ANSWER":          judge.WrongAnswer,
	"RUNTIME ERROR":         judge.RuntimeError,
	"TIME LIMIT EXCEEDED":   judge.TimeLimitExceeded,
	"MEMORY LIMIT EXCEEDED": judge.MemoryLimitExceeded,
	"OUTPUT LIMIT EXCEEDED": judge.RuntimeError,
	"COMPILE ERROR":         judge.CompilationError,
}

var pendingStatuses = mapset.NewSet("TESTING", "PENDING", "COMPILING")

const taskPattern = `https?://cses\.fi/problemset/task/([0-9]+)/?`

var (
	urlRe    = regexp.MustCompile("^" + taskPattern)
	searchRe = regexp.MustCompile(taskPattern)
	pathRe   = regexp.MustCompile(`/problemset/task/([0-9]+)/?`)
	resultRe = regexp.MustCompile(`/problemset/result/([0-9]+)/?$`)
	idRe     = regexp.MustCompile(`^[0-9]+$`)
)

func Def() judge.Def {
	return judge.Def{
		Name:  Name,
		Title: "CSES",
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
	return &client{
		Base:    judge.Base{Session: sess},
		baseURL: baseURL,
		log:     env.Log().With(zap.String("backend", Name)),
	}, nil
}

func (c *client) Name() string { return Name }

func (c *client) ParseProblemURL(rawURL string) (string, bool) {
	if m := urlRe.FindStringSubmatch(rawURL); m != nil {
		return m[1], true
	}
	return "", false
}

func (c *client) SearchProblem(text string) (string, bool) {
	if m := searchRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}

func (c *client) ProblemURL(id string) (string, bool) {
	if !idRe.MatchString(id) {
		return "", false
	}
	return defaultBaseURL + "/problemset/task/" + id, true
}

func (c *client) formCSRF(ctx context.Context, pageURL string) (string, error) {
	resp, err := c.Session.Get(ctx, pageURL, nil)
	if err != nil {
		return "", err
	}
	doc, err := resp.Document()
	if err != nil {
		return "", err
	}
	token, ok := doc.Find(`input[name="csrf_token"]`).First().Attr("value")
	if !ok {
		return "", judge.Drift(Name, "no csrf_token input on %s", pageURL)
	}
	return token, nil
}

func (c *client) Login(ctx context.Context, username, password string) (bool, error) {
	loginURL := c.baseURL + "/login"
	token, err := c.formCSRF(ctx, loginURL)
	if err != nil {
		return false, err
	}
	resp, err := c.Session.PostForm(ctx, loginURL, url.Values{
		"csrf_token": {token},
		"nick":       {username},
		"pass":       {password},
	})
	if err != nil {
		return false, err
	}
	return !strings.HasSuffix(resp.URL.Path, "login"), nil
}

func (c *client) Logout(ctx context.Context) (bool, error) {
	resp, err := c.Session.Get(ctx, c.baseURL+"/logout", nil)
	if err != nil {
		return false, err
	}
	if err := c.Session.Reset(); err != nil {
		return false, err
	}
	return resp.OK(), nil
}

func (c *client) LoggedIn(ctx context.Context) (bool, error) {
	resp, err := c.Session.Get(ctx, c.baseURL+"/", nil)
	if err != nil {
		return false, err
	}
	doc, err := resp.Document()
	if err != nil {
		return false, err
	}
	href, ok := doc.Find(".controls a.account").First().Attr("href")
	if !ok {
		return false, judge.Drift(Name, "no account link on front page")
	}
	return !strings.HasSuffix(href, "/login"), nil
}

func (c *client) Problem(ctx context.Context, id string) (*judge.Problem, error) {
	if !idRe.MatchString(id) {
		return nil, nil
	}
	resp, err := c.Session.Get(ctx, c.baseURL+"/problemset/task/"+id, nil)
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
	content := doc.Find("div.content").First()
	if content.Length() == 0 {
		return nil, nil
	}
	html, err := content.Html()
	if err != nil {
		return nil, err
	}

	// examples are pairs of input/output blocks
	var samples []judge.Sample
	pres := content.Find("pre")
	for i := 0; i+1 < pres.Length(); i += 2 {
		samples = append(samples, judge.Sample{Input: pres.Eq(i).Text(), Output: pres.Eq(i + 1).Text()})
	}
	return &judge.Problem{ID: id, Text: strings.TrimSpace(html), TextType: judge.HTML, Samples: samples}, nil
}

func (c *client) Submit(ctx context.Context, id, code string, lang judge.Language) (string, error) {
	opt, err := judge.LanguageCode(Name, languages, lang)
	if err != nil {
		return "", err
	}
	token, err := c.formCSRF(ctx, fmt.Sprintf("%s/problemset/submit/%s/", c.baseURL, id))
	if err != nil {
		return "", err
	}
	fields := []judge.MultipartField{
		{Name: "csrf_token", Content: token},
		{Name: "task", Content: id},
		{Name: "lang", Content: opt.lang},
		{Name: "type", Content: "course"},
		{Name: "target", Content: "problemset"},
	}
	if opt.option != "" {
		fields = append(fields, judge.MultipartField{Name: "option", Content: opt.option})
	}
	fields = append(fields, judge.MultipartField{Name: "file", FileName: "file", Content: code})

	resp, err := c.Session.Do(ctx, judge.Request{
		Method:    http.MethodPost,
		URL:       c.baseURL + "/course/send.php",
		Multipart: fields,
	})
	if err != nil {
		return "", err
	}
	m := resultRe.FindStringSubmatch(resp.URL.Path)
	if m == nil {
		return "", judge.Drift(Name, "submit did not redirect to a result page")
	}
	return m[1], nil
}

func (c *client) parseVerdict(text string) judge.Verdict {
	text = strings.ToUpper(strings.TrimSpace(text))
	if v, ok := verdicts[text]; ok {
		return v
	}
	c.log.Warn("unknown verdict", zap.String("verdict", text))
	return judge.Unknown
}

func (c *client) Submission(ctx context.Context, handle string) (*judge.Submission, error) {
	status, err := c.Session.Get(ctx, c.baseURL+"/ajax/get_status.php", url.Values{"entry": {handle}})
	if err != nil {
		return nil, err
	}
	if !status.OK() {
		return nil, fmt.Errorf("cses status %d for submission %s", status.StatusCode, handle)
	}
	if f := strings.Fields(status.Text()); len(f) > 0 && pendingStatuses.Contains(strings.ToUpper(f[0])) {
		return nil, nil
	}

	resp, err := c.Session.Get(ctx, fmt.Sprintf("%s/problemset/result/%s/", c.baseURL, handle), nil)
	if err != nil {
		return nil, err
	}
	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}
	verdictEl := doc.Find(".inline-score.verdict").First()
	if verdictEl.Length() == 0 {
		return nil, judge.Drift(Name, "no verdict on result %s", handle)
	}
	sub := &judge.Submission{ID: handle, Verdict: c.parseVerdict(verdictEl.Text())}
	sub.Score = sub.Verdict.Score()
	if href, ok := doc.Find(".summary-table a").First().Attr("href"); ok {
		if m := pathRe.FindStringSubmatch(href); m != nil {
			sub.Problem = m[1]
		}
	}
	if code := doc.Find("pre.prettyprint").First(); code.Length() > 0 {
		sub.Code = judge.Ptr(code.Text())
	}

	details := c.testDetails(doc)
	var maxTime float64
	doc.Find("table.closeable tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Find("th").Length() > 0 {
			return
		}
		tds := tr.Find("td")
		if tds.Length() < 4 {
			return
		}
		cs := judge.Case{Verdict: judge.Ptr(c.parseVerdict(tds.Eq(1).Text()))}
		secs, _ := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(tds.Eq(2).Text()), " s"), 64)
		cs.Time = secs * 1000
		maxTime = max(maxTime, cs.Time)
		if href, ok := tds.Eq(3).Find("a").Attr("href"); ok {
			if d, ok := details[strings.Trim(href, "#")]; ok {
				cs.Input, cs.Output, cs.Answer, cs.Message = d.Input, d.Output, d.Answer, d.Message
			}
		}
		sub.Cases = append(sub.Cases, cs)
	})
	sub.Time = judge.Ptr(maxTime)
	return sub, nil
}

// testDetails reads the "Test details" section: per-test input, user output
// and correct output tables under an <h4 id=...> heading, plus an optional
// "Error:" message.
func (c *client) testDetails(doc *goquery.Document) map[string]*judge.Case {
	out := map[string]*judge.Case{}
	doc.Find("div.closeable").EachWithBreak(func(_ int, div *goquery.Selection) bool {
		if strings.TrimSpace(div.Find("h3.caption").First().Text()) != "Test details" {
			return true
		}
		var cur *judge.Case
		errorNext := false
		div.Find("div").First().Contents().Each(func(_ int, el *goquery.Selection) {
			name := goquery.NodeName(el)
			if name == "br" || (name == "#text" && strings.TrimSpace(el.Text()) == "") {
				return
			}
			if errorNext && cur != nil {
				cur.Message = judge.StrPtr(strings.TrimSpace(el.Text()))
				errorNext = false
			}
			switch name {
			case "#text":
				if strings.TrimSpace(el.Text()) == "Error:" {
					errorNext = true
				}
			case "h4":
				id, _ := el.Attr("id")
				cur = &judge.Case{}
				out[id] = cur
			case "table":
				if cur == nil {
					return
				}
				th := el.Find("tbody th").First()
				td := el.Find("tbody td").First()
				if th.Length() == 0 || td.Length() == 0 {
					return
				}
				text := td.Text()
				if samp := td.Find("samp"); samp.Length() > 0 {
					text = samp.First().Text()
				}
				if strings.HasSuffix(text, "...") {
					if view, ok := td.Find(".samp-actions a.view").Attr("href"); ok {
						text += fmt.Sprintf(" (%s%s)", defaultBaseURL, view)
					}
				}
				switch strings.TrimSpace(th.Text()) {
				case "input":
					cur.Input = judge.Ptr(text)
				case "correct output":
					cur.Answer = judge.Ptr(text)
				case "user output":
					cur.Output = judge.Ptr(text)
				}
			}
		})
		return false
	})
	return out
}
