package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newCommand(&app{}).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "submit solutions to online judges and wait for the verdict",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "submit.yaml", Usage: "config file (.yaml or .toml)"},
			&cli.StringFlag{Name: "save-file", Aliases: []string{"S"}, Usage: "session file"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.DurationFlag{Name: "timeout", Usage: "give up waiting for a verdict after this long"},
			&cli.DurationFlag{Name: "interval", Usage: "pause between two polls"},
		},
		Before: a.setup,
		After:  a.teardown,
		Commands: []*cli.Command{
			{
				Name:      "login",
				Usage:     "log in to a judge",
				ArgsUsage: "<backend>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Aliases: []string{"u"}},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name, err := backendArg(cmd)
					if err != nil {
						return err
					}
					return a.runLogin(ctx, name, cmd.String("username"), cmd.String("password"))
				},
			},
			{
				Name:      "logout",
				Usage:     "log out of a judge",
				ArgsUsage: "<backend>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "log out of every saved session and remove the session file"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Bool("all") {
						return a.runLogoutAll(ctx)
					}
					name, err := backendArg(cmd)
					if err != nil {
						return err
					}
					return a.runLogout(ctx, name)
				},
			},
			{
				Name:  "status",
				Usage: "check every saved session",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.runStatus(ctx)
				},
			},
			{
				Name:      "get",
				Usage:     "print a problem statement",
				ArgsUsage: "<problem>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "text", Usage: "text, markdown or html"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 1 {
						return fmt.Errorf("usage: get <problem>")
					}
					return a.runGet(ctx, cmd.Args().First(), cmd.String("format"))
				},
			},
			{
				Name:      "url",
				Usage:     "print the web address of a problem",
				ArgsUsage: "<problem>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 1 {
						return fmt.Errorf("usage: url <problem>")
					}
					return a.runURL(cmd.Args().First())
				},
			},
			{
				Name:      "submit",
				Usage:     "submit a source file",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lang", Aliases: []string{"l"}, Usage: "c++ or python3 (default: from the file extension)"},
					&cli.StringFlag{Name: "problem", Aliases: []string{"p"}, Usage: "problem URL or backend:id (default: found in the code)"},
					&cli.BoolFlag{Name: "no-wait", Usage: "print the handle and exit"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 1 {
						return fmt.Errorf("usage: submit <file>")
					}
					return a.runSubmit(ctx, cmd.Args().First(), cmd.String("lang"), cmd.String("problem"), cmd.Bool("no-wait"))
				},
			},
			{
				Name:      "poll",
				Usage:     "wait for an earlier submission",
				ArgsUsage: "<backend> <handle>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 2 {
						return fmt.Errorf("usage: poll <backend> <handle>")
					}
					return a.runPoll(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
				},
			},
			{
				Name:  "backends",
				Usage: "list the supported judges",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.runBackends()
				},
			},
		},
	}
}

func backendArg(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() < 1 {
		return "", fmt.Errorf("usage: %s <backend>", cmd.Name)
	}
	return cmd.Args().First(), nil
}
