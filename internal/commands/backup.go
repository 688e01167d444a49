package commands

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/tildaslashalef/budgetsync/internal/app"
	"github.com/tildaslashalef/budgetsync/internal/backup"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/remote"
	"github.com/tildaslashalef/budgetsync/internal/transport"
	"github.com/tildaslashalef/budgetsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// BackupCommand returns the CLI command exporting the remote store
func BackupCommand() *cli.Command {
	return &cli.Command{
		Name:        "backup",
		Usage:       "Export every plan in the remote database (server operators only)",
		Description: "Reads all users' plans through BUDGETSYNC_REMOTE_DSN and writes one JSON dump",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "s3",
				Usage: "Upload the dump to BUDGETSYNC_BACKUP_S3_BUCKET instead of the backup directory",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Directory for the dump, overrides BUDGETSYNC_BACKUP_DIR",
			},
		},
		Action: backupAction,
	}
}

func backupAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	cfg := application.Config
	if cfg.Remote.DSN == "" {
		return fmt.Errorf("BUDGETSYNC_REMOTE_DSN is required to export the remote database")
	}

	logger := loggy.GetGlobalLogger().With("component", "backup")

	var sink backup.Sink
	if c.Bool("s3") {
		s3Sink, err := backup.NewS3Sink(c.Context, cfg.Backup)
		if err != nil {
			return err
		}
		sink = s3Sink
	} else {
		dir := cfg.Backup.Dir
		if c.String("dir") != "" {
			dir = c.String("dir")
		}
		sink = backup.DirSink{Dir: dir}
	}

	db, err := transport.OpenPostgres(cfg.Remote.DSN, cfg.Remote.MaxOpenConns)
	if err != nil {
		return err
	}
	direct := transport.NewDirect(db, nil, logger)
	defer direct.Close()

	summary, err := backup.NewExporter(remote.NewStore(direct, logger), sink, logger).Run(c.Context)
	if err != nil {
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Exported %d plans to %s", summary.Total, color.YellowString(summary.Location)))
	rows := make([][]string, 0, len(summary.Users))
	for _, userID := range summary.UserIDs() {
		rows = append(rows, []string{userID, strconv.Itoa(summary.Users[userID])})
	}
	utils.PrintTable("Plans per user", []string{"User", "Plans"}, rows, 2)
	return nil
}
