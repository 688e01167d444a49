package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/tildaslashalef/budgetsync/internal/app"
	"github.com/tildaslashalef/budgetsync/internal/config"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/sync"
	"github.com/tildaslashalef/budgetsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// SyncCommand returns the CLI command for syncing plans with the account
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync local plans with your account",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a full sync now",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "with",
						Usage: "How to reconcile: merge, download or upload_local",
						Value: string(sync.StrategyMerge),
					},
				},
				Action: syncRunAction,
			},
			{
				Name:  "status",
				Usage: "Show account, device and recent syncs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of sync runs to show",
						Value: 10,
					},
				},
				Action: syncStatusAction,
			},
		},
		Action: syncRunAction,
	}
}

func syncRunAction(c *cli.Context) error {
	strategy := sync.StrategyMerge
	if c.IsSet("with") {
		parsed, err := sync.ParseStrategy(c.String("with"))
		if err != nil {
			return err
		}
		strategy = parsed
	}

	application, err := startApp(c, false)
	if err != nil {
		return err
	}

	loggy.Info("Starting manual sync", "strategy", strategy)

	res, err := application.Orchestrator.SyncNow(c.Context, strategy)
	if errors.Is(err, sync.ErrNotAuthenticated) {
		return fmt.Errorf("not signed in. Use 'budgetsync account login --token <token>' first")
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("sync finished with %d failed plans: %w", res.Failed, res.Err)
	}
	return nil
}

func syncStatusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	cfg := application.Config

	utils.PrintHeading("Sync Status")
	userID, signedIn := application.Tokens.UserID()
	if signedIn {
		utils.PrintKeyValueWithColor("Account", userID, utils.Theme.Info)
	} else {
		utils.PrintKeyValueWithColor("Account", "signed out", utils.Theme.Warning)
	}
	utils.PrintKeyValue("Device", cfg.Sync.DeviceName)
	if cfg.Remote.Mode == config.RemoteModeDirect {
		utils.PrintKeyValue("Remote", "direct database connection")
	} else {
		utils.PrintKeyValue("Remote", cfg.Remote.URL)
	}

	if !signedIn {
		return nil
	}

	logs, err := application.SyncLogs.GetSyncLogs(c.Context, userID, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("error getting sync status: %w", err)
	}

	fmt.Fprintln(utils.Output)
	utils.PrintTable("Recent Syncs", []string{"Started", "Device", "Strategy", "Status", "Synced", "Conflicts", "Failed", "Error"}, syncLogRows(logs), 5, 6, 7)
	return nil
}

func syncLogRows(logs []*sync.SyncLog) [][]string {
	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		status := color.GreenString("✓ Success")
		if !l.Success {
			status = color.RedString("✗ Failed")
		}
		rows = append(rows, []string{
			utils.FormatTime(l.StartedAt),
			l.DeviceName,
			string(l.Strategy),
			status,
			strconv.Itoa(l.ItemsSynced),
			strconv.Itoa(l.Conflicts),
			strconv.Itoa(l.Failed),
			utils.Truncate(l.ErrorMessage, 48),
		})
	}
	return rows
}
