package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/tildaslashalef/budgetsync/internal/app"
	"github.com/tildaslashalef/budgetsync/internal/auth"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/plan"
	"github.com/tildaslashalef/budgetsync/internal/sync"
	"github.com/tildaslashalef/budgetsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// AccountCommand returns the CLI command for signing in and out
func AccountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Manage the account your plans sync to",
		Subcommands: []*cli.Command{
			{
				Name:        "login",
				Usage:       "Sign in with an access token",
				Description: "Stores the token, offers to upload plans created while signed out and runs the first sync",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Access token issued by the sync server",
						Required: true,
						EnvVars:  []string{"BUDGETSYNC_LOGIN_TOKEN"},
					},
					&cli.StringFlag{
						Name:  "device",
						Usage: "A name for this device (e.g., 'Work Laptop')",
					},
					&cli.StringFlag{
						Name:  "server",
						Usage: "Sync server URL",
					},
				},
				Action: loginAction,
			},
			{
				Name:   "logout",
				Usage:  "Sign out; local plans stay on this device",
				Action: logoutAction,
			},
			{
				Name:   "whoami",
				Usage:  "Show the signed in account",
				Action: whoamiAction,
			},
			{
				Name:        "token",
				Usage:       "Issue an access token (server operators only)",
				Description: "Signs a token with the server secret, BUDGETSYNC_SERVER_JWT_SECRET",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User id the token belongs to",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "device",
						Usage: "Device name recorded in the token",
					},
				},
				Action: issueTokenAction,
			},
		},
	}
}

func loginAction(c *cli.Context) error {
	application, err := startApp(c, false)
	if err != nil {
		return err
	}
	ctx := c.Context

	if device := c.String("device"); device != "" {
		if err := application.Settings.SetDeviceName(ctx, device); err != nil {
			loggy.Warn("Failed to save device name", "error", err)
		}
	}
	if server := c.String("server"); server != "" {
		if err := application.Settings.SetRemoteURL(ctx, server); err != nil {
			loggy.Warn("Failed to save server URL", "error", err)
		}
		utils.PrintInfo("Server URL saved; it is used from the next command on")
	}

	userID, err := application.Login(ctx, c.String("token"))
	if err != nil {
		return fmt.Errorf("signing in: %w", err)
	}
	utils.PrintSuccess("Signed in as " + color.CyanString(userID))

	migrated, err := offerMigration(ctx, application, userID)
	if err != nil {
		utils.PrintWarning(err.Error())
	}

	if migrated {
		// Both sides now hold the same plans; merge without asking again
		_, err = application.Orchestrator.SyncNow(ctx, sync.StrategyMerge)
	} else {
		err = application.Orchestrator.Signal(ctx)
	}
	if err != nil {
		utils.PrintWarning(fmt.Sprintf("First sync failed, it will be retried: %s", err))
	}
	return nil
}

// offerMigration asks to upload plans made while signed out. It reports
// whether they were all uploaded.
func offerMigration(ctx context.Context, application *app.App, userID string) (bool, error) {
	if application.Confirmer == nil {
		return false, nil
	}

	plans := application.Plans.List()
	ask, err := application.Migrator.ShouldPrompt(ctx, plans)
	if err != nil || !ask {
		return false, err
	}

	accepted, err := application.Confirmer.ConfirmMigration(ctx, countSyncable(plans))
	if err != nil {
		return false, err
	}
	if !accepted {
		return false, application.Migrator.Decline(ctx)
	}

	res, err := application.Migrator.Accept(ctx, userID, plans)
	if err != nil {
		return false, fmt.Errorf("uploaded %d of %d plans: %w", res.Synced, countSyncable(plans), err)
	}
	utils.PrintSuccess(fmt.Sprintf("Uploaded %d plans to your account", res.Synced))
	return true, nil
}

func countSyncable(plans []*plan.Plan) int {
	n := 0
	for _, p := range plans {
		if p.Syncable {
			n++
		}
	}
	return n
}

func logoutAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if _, ok := application.Tokens.UserID(); !ok && application.Tokens.Raw() == "" {
		utils.PrintInfo("Already signed out")
		return nil
	}

	if err := application.Logout(c.Context); err != nil {
		return err
	}
	utils.PrintSuccess("Signed out. Your plans stay on this device")
	return nil
}

func whoamiAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	userID, ok := application.Tokens.UserID()
	if !ok {
		if application.Tokens.Raw() != "" {
			utils.PrintWarning("Your session expired. Sign in again with 'budgetsync account login'")
			return nil
		}
		utils.PrintInfo("Signed out")
		return nil
	}

	utils.PrintKeyValueWithColor("Account", userID, utils.Theme.Info)
	utils.PrintKeyValue("Device", application.Config.Sync.DeviceName)
	return nil
}

func issueTokenAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	cfg := application.Config

	if len(cfg.Server.JWTSecret) < 32 {
		return fmt.Errorf("server jwt secret must be at least 32 bytes")
	}

	token, err := auth.NewIssuer(cfg.Server.JWTSecret, cfg.Server.TokenTTL).Issue(c.String("user"), c.String("device"))
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, token)
	return nil
}
