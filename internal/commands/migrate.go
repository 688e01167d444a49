package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tildaslashalef/budgetsync/internal/config"
	"github.com/tildaslashalef/budgetsync/internal/database"
	"github.com/tildaslashalef/budgetsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// MigrateCommand returns the CLI command for database migrations. It runs
// without the application so a broken schema can still be repaired.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage database migrations",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending local migrations",
				Action: func(c *cli.Context) error {
					if err := openLocalDB(); err != nil {
						return err
					}
					defer database.CloseDB()

					utils.PrintInfo("Applying embedded migrations")
					migrationsApplied, err := database.RunMigrations()
					if err != nil {
						utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
						return fmt.Errorf("failed to apply migrations: %w", err)
					}

					if migrationsApplied > 0 {
						utils.PrintSuccess(fmt.Sprintf("Applied %d migration(s) successfully!", migrationsApplied))
					} else {
						utils.PrintSuccess("Database schema is already up-to-date")
					}
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "Revert the last local migration",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Usage: "Number of migrations to revert (default: 1)",
						Value: 1,
					},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					if steps < 1 {
						return fmt.Errorf("steps must be at least 1")
					}

					if err := openLocalDB(); err != nil {
						return err
					}
					defer database.CloseDB()

					utils.PrintWarning(fmt.Sprintf("Reverting %d embedded migration(s)", steps))
					if err := database.RevertMigrations(steps); err != nil {
						utils.PrintError(fmt.Sprintf("Failed to revert migrations: %s", err))
						return fmt.Errorf("failed to revert migrations: %w", err)
					}

					utils.PrintSuccess("Migration(s) reverted successfully!")
					return nil
				},
			},
			{
				Name:  "remote",
				Usage: "Apply the plan store schema to the remote Postgres database",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dsn",
						Usage: "Postgres DSN, overrides BUDGETSYNC_REMOTE_DSN",
					},
				},
				Action: func(c *cli.Context) error {
					dsn := c.String("dsn")
					if dsn == "" {
						cfg, err := config.LoadFromEnv("", "")
						if err != nil {
							return fmt.Errorf("failed to load configuration: %w", err)
						}
						dsn = cfg.Remote.DSN
					}
					if dsn == "" {
						return fmt.Errorf("a remote DSN is required (--dsn or BUDGETSYNC_REMOTE_DSN)")
					}

					utils.PrintInfo("Applying remote migrations")
					migrationsApplied, err := database.RunRemoteMigrations(dsn)
					if err != nil {
						utils.PrintError(fmt.Sprintf("Failed to apply remote migrations: %s", err))
						return err
					}

					if migrationsApplied > 0 {
						utils.PrintSuccess(fmt.Sprintf("Applied %d remote migration(s)", migrationsApplied))
					} else {
						utils.PrintSuccess("Remote schema is already up-to-date")
					}
					return nil
				},
			},
			{
				Name:   "create",
				Usage:  "Create a new migration (development only)",
				Hidden: true,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Aliases:  []string{"n"},
						Usage:    "Name of the migration (eg: add_plan_notes)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "path",
						Usage: "Path where migration files will be created",
						Value: filepath.Join("internal", "migrations", "sql", "local"),
					},
				},
				Action: func(c *cli.Context) error {
					upFile, downFile, err := createMigration(c.String("path"), c.String("name"))
					if err != nil {
						utils.PrintError(err.Error())
						return err
					}

					utils.PrintSuccess("Migration created successfully!")
					utils.PrintInfo(fmt.Sprintf("Up migration: %s", upFile))
					utils.PrintInfo(fmt.Sprintf("Down migration: %s", downFile))
					utils.PrintWarning("Rebuild to embed the new migration in the binary.")
					return nil
				},
			},
		},
	}
}

func openLocalDB() error {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := database.InitDB(cfg); err != nil {
		utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// createMigration writes an empty up/down pair with the next sequence number
func createMigration(path, name string) (string, string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create migrations directory: %w", err)
	}

	nextNumber, err := getNextMigrationNumber(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to determine next migration number: %w", err)
	}

	// golang-migrate expects NNNNNN_name.up.sql and NNNNNN_name.down.sql
	upFile := filepath.Join(path, fmt.Sprintf("%06d_%s.up.sql", nextNumber, name))
	downFile := filepath.Join(path, fmt.Sprintf("%06d_%s.down.sql", nextNumber, name))

	if err := os.WriteFile(upFile, []byte("-- Write your UP migration SQL here\n"), 0644); err != nil {
		return "", "", fmt.Errorf("failed to create up migration file: %w", err)
	}
	if err := os.WriteFile(downFile, []byte("-- Write your DOWN migration SQL here\n"), 0644); err != nil {
		return "", "", fmt.Errorf("failed to create down migration file: %w", err)
	}
	return upFile, downFile, nil
}

// getNextMigrationNumber determines the next migration number by scanning
// existing migrations and incrementing the highest number found
func getNextMigrationNumber(migrationsPath string) (int, error) {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	numbers := []int{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		prefix, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		if num, err := strconv.Atoi(prefix); err == nil {
			numbers = append(numbers, num)
		}
	}

	if len(numbers) == 0 {
		return 1, nil
	}

	sort.Ints(numbers)
	return numbers[len(numbers)-1] + 1, nil
}
