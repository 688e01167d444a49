package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/budgetsync/internal/app"
	"github.com/tildaslashalef/budgetsync/internal/commands"
	"github.com/tildaslashalef/budgetsync/internal/sync"
	"github.com/tildaslashalef/budgetsync/internal/tui"
)

// Version information - populated at build time
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
	Author     = "unknown"
	Email      = "unknown"
)

var (
	globalFlags = []cli.Flag{
		&cli.StringFlag{
			Name:    "strategy",
			Usage:   "How to reconcile when this device and the account both hold plans: ask, merge, download, upload_local or dismiss",
			Value:   "ask",
			EnvVars: []string{"BUDGETSYNC_STRATEGY"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Print sync progress",
		},
	}
)

// standalone commands run without the application, before it can be set up
var standalone = map[string]bool{
	"init":    true,
	"migrate": true,
}

func main() {
	cliApp := &cli.App{
		Name:  "budgetsync",
		Usage: "Monthly budget plans that sync across your devices",
		Description: "budgetsync keeps budget plans on this device and syncs them to your account.\n\n" +
			"Plans work offline; changes are uploaded when you are signed in.",
		Version: Version,
		Compiled: func() time.Time {
			t, err := time.Parse(time.RFC3339, BuildTime)
			if err != nil {
				return time.Now()
			}
			return t
		}(),
		Authors: []*cli.Author{
			{
				Name:  Author,
				Email: Email,
			},
		},
		Flags: globalFlags,
		Before: func(c *cli.Context) error {
			if standalone[c.Args().First()] {
				return nil
			}

			opts, err := appOptions(c)
			if err != nil {
				return err
			}

			// Initialize the application
			application, err := app.New(opts)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			// Store the app instance in the context for later use
			c.App.Metadata = map[string]interface{}{
				"app": application,
			}

			return nil
		},
		After: func(c *cli.Context) error {
			// Gracefully shutdown the application
			if app, ok := c.App.Metadata["app"].(*app.App); ok {
				return app.Shutdown()
			}
			return nil
		},
		Commands: []*cli.Command{
			commands.InitCommand(),
			commands.PlanCommand(),
			commands.SyncCommand(),
			commands.AccountCommand(),
			commands.MigrateCommand(),
			commands.ServeCommand(),
			commands.BackupCommand(),
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// appOptions picks the prompts. Without a terminal nothing is asked: the
// merge prompt merges and the migration offer waits for an interactive run.
func appOptions(c *cli.Context) (app.Options, error) {
	opts := app.Options{
		Console: os.Stdout,
		Verbose: c.Bool("verbose"),
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
	prompts := tui.NewService(os.Stdin, os.Stdout)
	if interactive {
		opts.Confirmer = prompts
	}

	switch name := c.String("strategy"); name {
	case "ask":
		if interactive {
			opts.Chooser = prompts
		} else {
			opts.Chooser = sync.StaticChooser(sync.StrategyMerge)
		}
	default:
		strategy, err := sync.ParseStrategy(name)
		if err != nil {
			return app.Options{}, err
		}
		opts.Chooser = sync.StaticChooser(strategy)
	}

	return opts, nil
}
