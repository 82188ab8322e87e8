// Package vjudge drives vjudge.net, which relays submissions to many
// remote online judges.
package vjudge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/david-why/submit/judge"
)

const (
	Name           = "vjudge"
	defaultBaseURL = "https://vjudge.net"
)

// language name fragments in order of preference, matched case-insensitively
// against the remote judge's language list
var preferences = map[judge.Language][]string{
	judge.Python3: {"PyPy3", "Pypy 3", "Python3", "Python 3"},
	judge.CPP:     cppPreferences(),
}

func cppPreferences() []string {
	var out []string
	for _, std := range []string{"17", "14", "11"} {
		for _, sep := range []string{" ", ""} {
			for _, name := range []string{"GNU G++", "GNU C++", "C++"} {
				out = append(out, name+sep+std)
			}
		}
	}
	return out
}

var verdicts = map[string]judge.Verdict{
	"PE":  judge.OtherFail,
	"WA":  judge.WrongAnswer,
	"TLE": judge.TimeLimitExceeded,
	"MLE": judge.MemoryLimitExceeded,
	"OLE": judge.RuntimeError,
	"RE":  judge.RuntimeError,
	"CE":  judge.CompilationError,
}

const (
	statusAccepted   = 0
	statusProcessing = 2
)

const problemPattern = `https?://vjudge\.net/problem/([A-Za-z0-9_]+-[^/?#\s]+)`

var (
	urlRe    = regexp.MustCompile("^" + problemPattern)
	searchRe = regexp.MustCompile(problemPattern)
)

func Def() judge.Def {
	return judge.Def{
		Name:  Name,
		Title: "Virtual Judge",
		Settings: []judge.SettingDef{
			{ID: "base_url", Name: "Base URL"},
		},
		Build: func(s map[string]string, env judge.Env) (judge.Backend, error) {
			return newClient(s["base_url"], env)
		},
	}
}

type remoteOJ struct {
	Languages map[string]string `json:"languages"`
}

type client struct {
	judge.Base
	baseURL string
	ojs     map[string]remoteOJ
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
	if _, _, ok := splitID(id); !ok {
		return "", false
	}
	return defaultBaseURL + "/problem/" + id, true
}

func splitID(id string) (oj, probNum string, ok bool) {
	oj, probNum, ok = strings.Cut(id, "-")
	return oj, probNum, ok && oj != "" && probNum != ""
}

// Bootstrap loads the remote judge table, which carries each judge's
// language list.
func (c *client) Bootstrap(ctx context.Context) error {
	resp, err := c.Session.Get(ctx, c.baseURL+"/util/cfg", nil)
	if err != nil {
		return err
	}
	var cfg struct {
		RemoteOJs map[string]remoteOJ `json:"remoteOJs"`
	}
	if err := resp.JSON(&cfg); err != nil {
		return err
	}
	c.ojs = cfg.RemoteOJs
	c.log.Debug("remote judges loaded", zap.Int("count", len(c.ojs)))
	return nil
}

func (c *client) Login(ctx context.Context, username, password string) (bool, error) {
	resp, err := c.Session.PostForm(ctx, c.baseURL+"/user/login", url.Values{
		"username": {username},
		"password": {password},
	})
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(resp.Text()) == "success", nil
}

func (c *client) Logout(ctx context.Context) (bool, error) {
	resp, err := c.Session.Do(ctx, judge.Request{Method: http.MethodPost, URL: c.baseURL + "/user/logout"})
	if err != nil {
		return false, err
	}
	if err := c.Session.Reset(); err != nil {
		return false, err
	}
	return resp.OK(), nil
}

func (c *client) LoggedIn(ctx context.Context) (bool, error) {
	resp, err := c.Session.Do(ctx, judge.Request{Method: http.MethodPost, URL: c.baseURL + "/user/checkLogInStatus"})
	if err != nil {
		return false, err
	}
	var in bool
	if err := resp.JSON(&in); err != nil {
		return false, nil
	}
	return in, nil
}

type description struct {
	Sections []struct {
		Title string `json:"title"`
		Value struct {
			Format  string `json:"format"`
			Content string `json:"content"`
		} `json:"value"`
	} `json:"sections"`
}

func (c *client) Problem(ctx context.Context, id string) (*judge.Problem, error) {
	if _, _, ok := splitID(id); !ok {
		return nil, nil
	}
	resp, err := c.Session.Get(ctx, c.baseURL+"/problem/"+id, nil)
	if err != nil {
		return nil, err
	}
	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}
	src, ok := doc.Find("#frame-description").Attr("src")
	if !ok {
		return nil, nil
	}
	descResp, err := c.Session.Get(ctx, c.baseURL+src, nil)
	if err != nil {
		return nil, err
	}
	descDoc, err := descResp.Document()
	if err != nil {
		return nil, err
	}
	var desc description
	if err := json.Unmarshal([]byte(descDoc.Find("textarea.data-json-container").Text()), &desc); err != nil {
		return nil, judge.Drift(Name, "description of %s: %v", id, err)
	}

	var text strings.Builder
	textType := judge.Markdown
	for _, s := range desc.Sections {
		switch s.Value.Format {
		case "MD":
			text.WriteString("# " + s.Title + "\n")
			textType = judge.Markdown
		case "HTML":
			text.WriteString("<h1>" + s.Title + "</h1>")
			textType = judge.HTML
		default:
			return nil, judge.Drift(Name, "unknown description format %q", s.Value.Format)
		}
		text.WriteString(s.Value.Content)
	}
	return &judge.Problem{ID: id, Text: text.String(), TextType: textType}, nil
}

// languages returns the remote judge's language table, falling back to the
// problem page when the judge table does not list them.
func (c *client) languages(ctx context.Context, oj, id string) (map[string]string, error) {
	if langs := c.ojs[oj].Languages; len(langs) > 0 {
		return langs, nil
	}
	resp, err := c.Session.Get(ctx, c.baseURL+"/problem/"+id, nil)
	if err != nil {
		return nil, err
	}
	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}
	var data struct {
		Languages map[string]string `json:"languages"`
	}
	if err := json.Unmarshal([]byte(doc.Find(`textarea[name="dataJson"]`).Text()), &data); err != nil {
		return nil, judge.Drift(Name, "language list of %s: %v", id, err)
	}
	return data.Languages, nil
}

// pickLanguage returns the id of the first language matching the
// preference list.
func pickLanguage(prefs []string, langs map[string]string) (string, bool) {
	ids := make([]string, 0, len(langs))
	for id := range langs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, p := range prefs {
		p = strings.ToLower(p)
		for _, id := range ids {
			if strings.Contains(strings.ToLower(langs[id]), p) {
				return id, true
			}
		}
	}
	return "", false
}

// encodeSource mirrors the site's btoa(encodeURIComponent(code)).
func encodeSource(code string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(code), "+", "%20")
	return base64.StdEncoding.EncodeToString([]byte(escaped))
}

func (c *client) Submit(ctx context.Context, id, code string, lang judge.Language) (string, error) {
	prefs, err := judge.LanguageCode(Name, preferences, lang)
	if err != nil {
		return "", err
	}
	oj, probNum, ok := splitID(id)
	if !ok {
		return "", fmt.Errorf("invalid vjudge problem id %q", id)
	}
	langs, err := c.languages(ctx, oj, id)
	if err != nil {
		return "", err
	}
	langID, ok := pickLanguage(prefs, langs)
	if !ok {
		return "", fmt.Errorf("%w: %s on remote judge %s", judge.ErrUnsupportedLanguage, lang, oj)
	}

	resp, err := c.Session.PostForm(ctx, c.baseURL+"/problem/submit", url.Values{
		"method":   {"0"},
		"language": {langID},
		"open":     {"0"},
		"source":   {encodeSource(code)},
		"captcha":  {""},
		"oj":       {oj},
		"probNum":  {probNum},
	})
	if err != nil {
		return "", err
	}
	var res struct {
		RunID json.Number `json:"runId"`
		Error string      `json:"error"`
	}
	if err := resp.JSON(&res); err != nil {
		return "", err
	}
	if res.RunID == "" {
		if res.Error != "" {
			return "", fmt.Errorf("vjudge rejected submission: %s", res.Error)
		}
		return "", judge.Drift(Name, "no run id after submit")
	}
	return res.RunID.String(), nil
}

type solution struct {
	StatusType      *int     `json:"statusType"`
	StatusCanonical string   `json:"statusCanonical"`
	OJ              string   `json:"oj"`
	ProbNum         string   `json:"probNum"`
	Code            *string  `json:"code"`
	Runtime         *float64 `json:"runtime"`
	Memory          *float64 `json:"memory"`
	AdditionalInfo  string   `json:"additionalInfo"`
	CodeImgURL      string   `json:"codeImgUrl"`
}

func (c *client) Submission(ctx context.Context, handle string) (*judge.Submission, error) {
	resp, err := c.Session.Do(ctx, judge.Request{Method: http.MethodPost, URL: c.baseURL + "/solution/data/" + handle})
	if err != nil {
		return nil, err
	}
	var s solution
	if err := resp.JSON(&s); err != nil {
		return nil, err
	}
	if s.StatusType == nil || *s.StatusType == statusProcessing {
		return nil, nil
	}

	v := judge.Accepted
	if *s.StatusType != statusAccepted {
		var ok bool
		if v, ok = verdicts[s.StatusCanonical]; !ok {
			c.log.Warn("unknown verdict", zap.String("verdict", s.StatusCanonical))
			v = judge.OtherFail
		}
	}
	sub := &judge.Submission{
		ID:      handle,
		Verdict: v,
		Problem: s.OJ + "-" + s.ProbNum,
		Score:   v.Score(),
		Code:    s.Code,
		Time:    s.Runtime,
		Memory:  s.Memory,
	}
	data := map[string]string{}
	if s.AdditionalInfo != "" {
		data["info"] = s.AdditionalInfo
	}
	if s.CodeImgURL != "" {
		data["codeImg"] = defaultBaseURL + s.CodeImgURL
	}
	if len(data) > 0 {
		sub.Data = data
	}
	return sub, nil
}
