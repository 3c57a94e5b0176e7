package serve

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/cmd/app"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the dashboard API and keep the embedding index filled",
		Flags: append(app.Flags(&cfg), serverFlags(&cfg)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := app.Prepare(&cfg); err != nil {
				return err
			}
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func serverFlags(cfg *config.Config) []cli.Flag {
	const (
		server     = "Server:"
		monitoring = "Monitoring:"
	)
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "port",
			Category:    server,
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "API listen port",
		},
		&cli.DurationFlag{
			Name:        "read-header-timeout",
			Category:    server,
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_READ_HEADER_TIMEOUT"),
			Destination: &cfg.Listener.ReadHeaderTimeout,
			Value:       cfg.Listener.ReadHeaderTimeout,
			Usage:       "Time allowed to read request headers",
		},
		&cli.DurationFlag{
			Name:        "drain-timeout",
			Category:    server,
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Time to wait for in-flight requests on shutdown",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    server,
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Largest accepted request body in bytes (0 = unlimited)",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    server,
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated dashboard origins allowed to call the API (* for any); empty disables CORS",
		},
		&cli.DurationFlag{
			Name:        "backfill-interval",
			Category:    "Sync:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_BACKFILL_INTERVAL"),
			Destination: &cfg.BackfillInterval,
			Value:       cfg.BackfillInterval,
			Usage:       "Interval between embedding backfill passes (0 = only after syncs)",
		},
		&cli.IntFlag{
			Name:        "management-port",
			Category:    monitoring,
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Serve /health, /ready and /metrics on this port instead of the API port",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    monitoring,
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Log requests to /health, /ready and /metrics",
		},
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    monitoring,
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value constant labels for every metric; values expand ${VAR}",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}
