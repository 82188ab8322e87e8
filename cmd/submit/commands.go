package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/david-why/submit/internal/logger"
	"github.com/david-why/submit/judge"
	"github.com/david-why/submit/judge/sessionstore"
)

var (
	errLoginFailed = errors.New("login failed")
	errNotJudged   = errors.New("submission was not judged")

	passColor  = color.New(color.FgGreen, color.Bold)
	failColor  = color.New(color.FgRed, color.Bold)
	otherColor = color.New(color.FgYellow, color.Bold)
)

func (a *app) runLogin(ctx context.Context, name, username, password string) error {
	if _, ok := a.router.Registry().Lookup(name); !ok {
		return fmt.Errorf("%w: %s", judge.ErrUnknownBackend, name)
	}
	cred := a.cfg.Credentials[name]
	if username == "" {
		username = cred.Username
	}
	if password == "" {
		password = cred.Password
	}
	var err error
	if username == "" {
		if username, err = a.prompt("Username: "); err != nil {
			return err
		}
	}
	if password == "" {
		if password, err = a.promptPassword("Password: "); err != nil {
			return err
		}
	}

	ok, err := a.router.Login(ctx, name, username, password)
	if err != nil {
		return err
	}
	if !ok {
		return errLoginFailed
	}
	fmt.Fprintf(a.out, "Logged in to %s as %s\n", name, username)
	return nil
}

func (a *app) runLogout(ctx context.Context, name string) error {
	ok, err := a.router.Logout(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(a.out, "Logged out of %s\n", name)
	} else {
		fmt.Fprintf(a.out, "%s did not confirm the logout; local session cleared\n", name)
	}
	return nil
}

// runLogoutAll logs out of every saved session. A file store is removed
// afterwards; other stores keep the now anonymous sessions.
func (a *app) runLogoutAll(ctx context.Context) error {
	names := a.router.Sessions()
	if len(names) == 0 {
		fmt.Fprintln(a.out, "No saved sessions")
	}
	var errs []error
	for _, name := range names {
		if err := a.runLogout(ctx, name); err != nil {
			logger.Warn(ctx, "logout failed", zap.String("backend", name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if f, ok := a.store.(*sessionstore.File); ok {
		if err := f.Clear(); err != nil {
			return err
		}
		a.cleared = true
		fmt.Fprintf(a.out, "Removed %s\n", f.Path())
	}
	return nil
}

type sessionStatus struct {
	name string
	ok   bool
	err  error
}

// runStatus revalidates every saved session. Backends are independent, so
// they are checked concurrently.
func (a *app) runStatus(ctx context.Context) error {
	names := a.router.Sessions()
	if len(names) == 0 {
		fmt.Fprintln(a.out, "No saved sessions")
		return nil
	}

	results := make([]sessionStatus, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			ok, err := a.router.LoggedIn(gctx, name)
			results[i] = sessionStatus{name: name, ok: ok, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Backend\tStatus")
	for _, r := range results {
		status := passColor.Sprint("logged in")
		switch {
		case r.err != nil:
			status = otherColor.Sprint("error: " + r.err.Error())
			logger.Warn(ctx, "session check failed", zap.String("backend", r.name), zap.Error(r.err))
		case !r.ok:
			status = failColor.Sprint("expired")
		}
		fmt.Fprintf(w, "%s\t%s\n", r.name, status)
	}
	return w.Flush()
}

func (a *app) runGet(ctx context.Context, ref, format string) error {
	tt, err := judge.ParseTextType(format)
	if err != nil {
		return err
	}
	t, err := a.router.Resolve(ref)
	if err != nil {
		return err
	}
	p, err := a.router.Problem(ctx, t)
	if err != nil {
		return loginHint(err)
	}

	fmt.Fprintln(a.out, strings.TrimSpace(p.Render(tt)))
	for i, s := range p.Samples {
		fmt.Fprintf(a.out, "\nSample %d input:\n%s\n", i+1, strings.TrimRight(s.Input, "\n"))
		fmt.Fprintf(a.out, "Sample %d output:\n%s\n", i+1, strings.TrimRight(s.Output, "\n"))
	}
	return nil
}

func (a *app) runURL(ref string) error {
	t, err := a.router.Resolve(ref)
	if err != nil {
		return err
	}
	u, ok := a.router.ProblemURL(t)
	if !ok {
		return fmt.Errorf("%s has no web address", t)
	}
	fmt.Fprintln(a.out, u)
	return nil
}

func (a *app) runSubmit(ctx context.Context, path, langName, ref string, noWait bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	code := string(data)

	lang, err := a.language(path, langName)
	if err != nil {
		return err
	}

	var t judge.Target
	if ref != "" {
		if t, err = a.router.Resolve(ref); err != nil {
			return err
		}
	} else {
		var ok bool
		if t, ok = a.router.SearchProblem(code); !ok {
			return fmt.Errorf("%w: no problem reference in %s, use --problem", judge.ErrUnresolvedReference, path)
		}
	}

	fmt.Fprintf(a.out, "Submitting %s to %s as %s...\n", path, t, lang)
	handle, err := a.router.Submit(ctx, t, code, lang)
	if err != nil {
		return loginHint(err)
	}
	logger.Info(ctx, "submitted", zap.Stringer("target", t), zap.String("handle", handle))
	fmt.Fprintf(a.out, "Handle: %s\n", handle)
	if noWait {
		return nil
	}
	return a.wait(ctx, t.Backend, handle)
}

func (a *app) runPoll(ctx context.Context, name, handle string) error {
	if _, ok := a.router.Registry().Lookup(name); !ok {
		return fmt.Errorf("%w: %s", judge.ErrUnknownBackend, name)
	}
	return a.wait(ctx, name, handle)
}

func (a *app) runBackends() error {
	w := tabwriter.NewWriter(a.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Name\tTitle\tSettings")
	for _, d := range a.router.Registry().Defs() {
		var settings []string
		for _, s := range d.Settings {
			settings = append(settings, s.ID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.Title, strings.Join(settings, ", "))
	}
	return w.Flush()
}

func (a *app) wait(ctx context.Context, name, handle string) error {
	p := a.poller
	p.OnWait = func(attempt int, elapsed time.Duration) {
		fmt.Fprintf(a.err, "\rWaiting... %s", elapsed.Round(time.Second))
	}
	sub, err := a.router.Wait(ctx, name, handle, p)
	fmt.Fprint(a.err, "\r\033[K")
	if err != nil {
		if judge.IsCanceled(err) {
			fmt.Fprintf(a.out, "Stopped waiting; resume with: submit poll %s %s\n", name, handle)
		}
		return err
	}
	if sub == nil {
		fmt.Fprintf(a.out, "Still judging; resume with: submit poll %s %s\n", name, handle)
		return errNotJudged
	}
	a.printSubmission(sub)
	return nil
}

func verdictColor(v judge.Verdict) *color.Color {
	switch {
	case v == judge.Unknown:
		return otherColor
	case v.Passed():
		return passColor
	default:
		return failColor
	}
}

func (a *app) printSubmission(sub *judge.Submission) {
	fmt.Fprintf(a.out, "Problem:     %s\n", sub.Problem)
	fmt.Fprintf(a.out, "Verdict:     %s\n", verdictColor(sub.Verdict).Sprint(sub.Verdict))
	fmt.Fprintf(a.out, "Score:       %d\n", sub.Score)
	if sub.Time != nil {
		fmt.Fprintf(a.out, "Time:        %.0f ms\n", *sub.Time)
	}
	if sub.Memory != nil {
		fmt.Fprintf(a.out, "Memory:      %.0f KB\n", *sub.Memory)
	}

	if len(sub.Cases) > 0 {
		w := tabwriter.NewWriter(a.out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "Case\tVerdict\tTime\tMemory\tMessage")
		for i, c := range sub.Cases {
			verdict := "-"
			if c.Verdict != nil {
				verdict = verdictColor(*c.Verdict).Sprint(*c.Verdict)
			}
			msg := ""
			if c.Message != nil {
				msg = firstLine(*c.Message)
			}
			fmt.Fprintf(w, "%d\t%s\t%.0f ms\t%.0f KB\t%s\n", i+1, verdict, c.Time, c.Memory, msg)
		}
		w.Flush()
	}

	switch d := sub.Data.(type) {
	case nil:
	case string:
		fmt.Fprintf(a.out, "Details:\n%s\n", d)
	default:
		if b, err := json.MarshalIndent(d, "", "  "); err == nil {
			fmt.Fprintf(a.out, "Details:\n%s\n", b)
		}
	}
}

// language picks the submission language from the flag, the config file or
// the source file extension, in that order.
func (a *app) language(path, name string) (judge.Language, error) {
	if name == "" {
		name = a.cfg.Language
	}
	if name != "" {
		return judge.ParseLanguage(name)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cpp", ".cc", ".cxx", ".c++":
		return judge.CPP, nil
	case ".py":
		return judge.Python3, nil
	}
	return 0, fmt.Errorf("cannot tell the language of %s, use --lang", path)
}

func loginHint(err error) error {
	var nae *judge.NotAuthenticatedError
	if errors.As(err, &nae) {
		return fmt.Errorf("%w (run: submit login %s)", err, nae.Backend)
	}
	return err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
