package commands

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/tildaslashalef/budgetsync/internal/config"
	"github.com/tildaslashalef/budgetsync/internal/database"
	"github.com/tildaslashalef/budgetsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// InitCommand returns the CLI command for initializing budgetsync
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the budgetsync environment",
		Description: "Sets up the configuration directory, writes a sample .env and " +
			"creates the local database. Run it again after upgrading to apply new migrations.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Replace an existing .env, keeping a dated backup",
			},
		},
		Action: func(c *cli.Context) error {
			utils.PrintHeading("Initializing budgetsync")

			configDir, err := config.DefaultConfigDir()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to resolve config directory: %s", err))
				return err
			}
			utils.PrintInfo("Configuration directory: " + color.YellowString("%s", configDir))

			configFilePath := filepath.Join(configDir, ".env")
			written, err := config.WriteSampleEnv(configFilePath, c.Bool("force"))
			if err != nil {
				// Continue anyway as the defaults work without a file
				utils.PrintWarning(fmt.Sprintf("Failed to write configuration file: %s", err))
			} else if written {
				utils.PrintInfo("Wrote default configuration file")
			} else {
				utils.PrintInfo("Keeping existing configuration file (use --force to replace it)")
			}

			cfg, err := config.LoadFromEnv(configDir, configFilePath)
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to load configuration: %s", err))
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			utils.PrintInfo("Initializing database...")
			if err := database.InitDB(cfg); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer database.CloseDB()

			migrationsApplied, err := database.RunMigrations()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			utils.PrintSuccess("budgetsync initialized successfully!")
			if migrationsApplied > 0 {
				utils.PrintSuccess(fmt.Sprintf("Applied %d new migration(s)", migrationsApplied))
			} else {
				utils.PrintInfo("Database schema is already up-to-date")
			}

			utils.PrintInfo("Configuration file: " + color.YellowString("%s", configFilePath))
			utils.PrintInfo("Database location: " + color.YellowString("%s", cfg.Database.Path))
			utils.PrintInfo("Log file location: " + color.YellowString("%s", cfg.Logging.Output))
			fmt.Println("")
			utils.PrintInfo("Create your first plan with " + color.CyanString("budgetsync plan create"))

			return nil
		},
	}
}
