package ask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chirino/conversation-service/internal/cmd/app"
	"github.com/chirino/conversation-service/internal/config"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/chirino/conversation-service/internal/service"
	"github.com/urfave/cli/v3"
)

// Command returns the ask sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var start, end string
	var asJSON bool
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question from the stored conversations",
		ArgsUsage: "QUESTION",
		Flags: append(app.Flags(&cfg),
			&cli.StringFlag{
				Name:        "start",
				Category:    "Question:",
				Destination: &start,
				Usage:       "First day (YYYY-MM-DD) of conversations to consider",
			},
			&cli.StringFlag{
				Name:        "end",
				Category:    "Question:",
				Destination: &end,
				Usage:       "Last day (YYYY-MM-DD) of conversations to consider",
			},
			&cli.BoolFlag{
				Name:        "json",
				Category:    "Question:",
				Destination: &asJSON,
				Usage:       "Print the answer and its matches as JSON",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if question == "" {
				return errors.New("a question is required")
			}
			dateRange, err := registrystore.ParseDateRange(start, end)
			if err != nil {
				return err
			}
			if err := app.Prepare(&cfg); err != nil {
				return err
			}
			c, err := app.Build(ctx, &cfg)
			if err != nil {
				return err
			}
			answer, err := c.Answerer.Ask(ctx, question, dateRange)
			if err != nil {
				return err
			}
			return printAnswer(os.Stdout, answer, asJSON)
		},
	}
}

func printAnswer(w io.Writer, answer *service.Answer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}
	if _, err := fmt.Fprintln(w, answer.Answer); err != nil {
		return err
	}
	if len(answer.Matches) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for _, m := range answer.Matches {
			fmt.Fprintf(w, "  %s (%.2f)\n", m.ExternalID, m.Score)
		}
	}
	return nil
}
