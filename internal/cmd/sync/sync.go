package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/cmd/app"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/model"
	"github.com/urfave/cli/v3"
)

// Command returns the sync sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var mode string
	var skipBackfill bool
	return &cli.Command{
		Name:  "sync",
		Usage: "Copy new conversations from the platform into the database",
		Flags: append(app.Flags(&cfg),
			&cli.StringFlag{
				Name:        "mode",
				Category:    "Sync:",
				Destination: &mode,
				Value:       string(model.SyncIncremental),
				Usage:       "Sync mode (incremental|full)",
			},
			&cli.BoolFlag{
				Name:        "skip-backfill",
				Category:    "Sync:",
				Destination: &skipBackfill,
				Usage:       "Do not embed the new conversations after the sync",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			syncMode, ok := model.ParseSyncMode(mode)
			if !ok {
				return fmt.Errorf("invalid --mode %q: must be incremental or full", mode)
			}
			if err := app.Prepare(&cfg); err != nil {
				return err
			}
			c, err := app.Build(ctx, &cfg)
			if err != nil {
				return err
			}
			if c.Sync == nil {
				return errors.New("sync requires --platform-url")
			}

			run, err := c.Sync.Run(ctx, syncMode)
			if err != nil {
				return err
			}
			if !skipBackfill && run.Added > 0 {
				n, err := c.Backfiller.RunOnce(ctx)
				if err != nil {
					log.Warn("Backfill after sync failed", "err", err)
				} else {
					log.Info("Embedded new conversations", "count", n)
				}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		},
	}
}
