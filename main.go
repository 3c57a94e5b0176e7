package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/cmd/ask"
	"github.com/chirino/conversation-service/internal/cmd/backfill"
	"github.com/chirino/conversation-service/internal/cmd/migrate"
	"github.com/chirino/conversation-service/internal/cmd/serve"
	synccmd "github.com/chirino/conversation-service/internal/cmd/sync"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "conversation-service",
		Usage: "Conversation analytics and question answering for a conversational AI platform",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			synccmd.Command(),
			ask.Command(),
			backfill.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
