package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/106.0.0.0 Safari/537.36"

// HTTPSession is a cookie-carrying HTTP client shared by the adapters. The
// origins it is created with are the sites whose cookies DumpSession
// exports.
type HTTPSession struct {
	client  *http.Client
	origins []*url.URL
	headers map[string]string
	log     *zap.Logger
}

// HTTPOption configures an HTTPSession.
type HTTPOption func(*HTTPSession)

func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSession) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

func WithHTTPLogger(l *zap.Logger) HTTPOption {
	return func(s *HTTPSession) {
		if l != nil {
			s.log = l
		}
	}
}

// NewHTTPSession creates a session for the given site origins.
func NewHTTPSession(origins []string, opts ...HTTPOption) (*HTTPSession, error) {
	s := &HTTPSession{
		client:  &http.Client{Timeout: 30 * time.Second},
		headers: map[string]string{"User-Agent": DefaultUserAgent},
		log:     zap.NewNop(),
	}
	for _, o := range origins {
		u, err := url.Parse(strings.TrimRight(o, "/"))
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid origin %q", o)
		}
		s.origins = append(s.origins, &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"})
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reset drops every cookie.
func (s *HTTPSession) Reset() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	s.client.Jar = jar
	return nil
}

// SetCookie stores a cookie for the origin of rawURL.
func (s *HTTPSession) SetCookie(rawURL, name, value string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	s.client.Jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

// Cookie returns the value of a cookie sent to rawURL.
func (s *HTTPSession) Cookie(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, c := range s.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Dump exports the cookies of every known origin.
func (s *HTTPSession) Dump() map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, u := range s.origins {
		cookies := s.client.Jar.Cookies(u)
		if len(cookies) == 0 {
			continue
		}
		m := make(map[string]string, len(cookies))
		for _, c := range cookies {
			m[c.Name] = c.Value
		}
		out[u.Scheme+"://"+u.Host] = m
	}
	return out
}

// Load replaces the cookie jar content with a dump.
func (s *HTTPSession) Load(cookies map[string]map[string]string) error {
	if err := s.Reset(); err != nil {
		return err
	}
	for origin, values := range cookies {
		u, err := url.Parse(origin)
		if err != nil {
			return fmt.Errorf("invalid cookie origin %q: %w", origin, err)
		}
		u.Path = "/"
		jarCookies := make([]*http.Cookie, 0, len(values))
		for name, value := range values {
			jarCookies = append(jarCookies, &http.Cookie{Name: name, Value: value, Path: "/"})
		}
		s.client.Jar.SetCookies(u, jarCookies)
	}
	return nil
}

// MultipartField is one part of a multipart/form-data body. Parts with a
// FileName are sent as file uploads.
type MultipartField struct {
	Name     string
	FileName string
	Content  string
}

// Request describes one HTTP call. At most one of Form, JSON and Multipart
// may be set.
type Request struct {
	Method    string
	URL       string
	Query     url.Values
	Form      url.Values
	JSON      any
	Multipart []MultipartField
	Headers   map[string]string
}

// Response is a fully read HTTP response. URL is the final URL after
// redirects.
type Response struct {
	StatusCode int
	URL        *url.URL
	Header     http.Header
	Body       []byte
}

func (r *Response) Text() string { return string(r.Body) }

func (r *Response) OK() bool { return r.StatusCode < 400 }

// JSON decodes the body into out.
func (r *Response) JSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", r.URL, err)
	}
	return nil
}

// Document parses the body as HTML.
func (r *Response) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", r.URL, err)
	}
	return doc, nil
}

// Do performs a request and reads the whole body.
func (s *HTTPSession) Do(ctx context.Context, r Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	reqURL := r.URL
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(reqURL, "?") {
			sep = "&"
		}
		reqURL += sep + r.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.JSON != nil:
		data, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case r.Multipart != nil:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, f := range r.Multipart {
			var err error
			if f.FileName != "" {
				var part io.Writer
				part, err = w.CreateFormFile(f.Name, f.FileName)
				if err == nil {
					_, err = io.WriteString(part, f.Content)
				}
			} else {
				err = w.WriteField(f.Name, f.Content)
			}
			if err != nil {
				return nil, fmt.Errorf("encode multipart field %s: %w", f.Name, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("encode multipart body: %w", err)
		}
		body = &buf
		contentType = w.FormDataContentType()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", reqURL, err)
	}
	s.log.Debug("http request",
		zap.String("method", method),
		zap.String("url", reqURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	return &Response{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Get is a shorthand for a GET request.
func (s *HTTPSession) Get(ctx context.Context, rawURL string, query url.Values) (*Response, error) {
	return s.Do(ctx, Request{URL: rawURL, Query: query})
}

// PostForm is a shorthand for a form-encoded POST request.
func (s *HTTPSession) PostForm(ctx context.Context, rawURL string, form url.Values) (*Response, error) {
	return s.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Form: form})
}
