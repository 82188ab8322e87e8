package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.err, label)
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echo when stdin is a terminal.
func (a *app) promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return a.prompt(label)
	}
	fmt.Fprint(a.err, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(a.err)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// terminalCaptcha saves the captcha image to a temporary file and asks the
// user to type its text.
type terminalCaptcha struct {
	a *app
}

func (c *terminalCaptcha) Solve(_ context.Context, image []byte) (string, error) {
	f, err := os.CreateTemp("", "submit-captcha-*.png")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(image); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	fmt.Fprintf(c.a.err, "Captcha image saved to %s\n", f.Name())
	return c.a.prompt("Captcha (empty to give up): ")
}
