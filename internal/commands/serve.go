package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/tildaslashalef/budgetsync/internal/app"
	"github.com/tildaslashalef/budgetsync/internal/auth"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/transport"
	"github.com/tildaslashalef/budgetsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// ServeCommand returns the CLI command running the authenticated query proxy
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the sync server in front of the remote database",
		Description: "Verifies bearer tokens, binds the caller's user id into every query " +
			"and forwards it to BUDGETSYNC_REMOTE_DSN",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides BUDGETSYNC_SERVER_ADDR",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	cfg := application.Config
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServer(ctx, application)
}

func runServer(ctx context.Context, application *app.App) error {
	cfg := application.Config
	logger := loggy.GetGlobalLogger().With("component", "server")

	db, err := transport.OpenPostgres(cfg.Remote.DSN, cfg.Remote.MaxOpenConns)
	if err != nil {
		return err
	}
	// Every request carries its user in the context
	direct := transport.NewDirect(db, nil, logger, transport.WithStrictScoping(cfg.Server.StrictScoping))
	defer direct.Close()

	server := transport.NewServer(direct, auth.NewIssuer(cfg.Server.JWTSecret, cfg.Server.TokenTTL), transport.ServerConfig{
		Addr:              cfg.Server.Addr,
		StrictScoping:     cfg.Server.StrictScoping,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		BurstLimit:        cfg.Server.BurstLimit,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}, logger)

	utils.PrintInfo("Sync server listening on " + color.CyanString(cfg.Server.Addr))
	return server.Run(ctx)
}
