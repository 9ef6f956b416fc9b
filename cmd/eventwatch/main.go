// Package main provides the entry point for the event notifier.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"eventwatch/internal/app"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "eventwatch",
		Usage:   "Poll the events database and notify recipient groups",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to the config file (YAML or JSON)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Query, filter and route but deliver nothing",
			},
			&cli.BoolFlag{
				Name:  "run-once",
				Usage: "Execute a single pass and exit instead of looping",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, app.Options{
				ConfigPath: cmd.String("config"),
				DryRun:     cmd.Bool("dry-run"),
				RunOnce:    cmd.Bool("run-once"),
			})
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "eventwatch: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts app.Options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}
