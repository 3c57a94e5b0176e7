package backfill

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/chirino/conversation-service/internal/cmd/app"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/urfave/cli/v3"
)

// Command returns the backfill sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "backfill",
		Usage: "Embed every stored conversation that has no embedding yet",
		Flags: app.Flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := app.Prepare(&cfg); err != nil {
				return err
			}
			c, err := app.Build(ctx, &cfg)
			if err != nil {
				return err
			}
			if !c.Index.Enabled() {
				return errors.New("backfill requires an embedding provider and a vector store")
			}
			n, err := c.Backfiller.RunOnce(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(os.Stdout, "embedded %d conversations\n", n)
			return err
		},
	}
}
