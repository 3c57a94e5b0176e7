package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/config"
	registrymigrate "github.com/chirino/conversation-service/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/chirino/conversation-service/internal/plugin/store/postgres"
	_ "github.com/chirino/conversation-service/internal/plugin/store/sqlite"
	_ "github.com/chirino/conversation-service/internal/plugin/vector/pgvector"
	_ "github.com/chirino/conversation-service/internal/plugin/vector/qdrant"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database and vector store migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("CONVERSATION_SERVICE_DB_URL"),
				Usage:    "Database connection URL, or a file path for sqlite",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("CONVERSATION_SERVICE_DB_KIND"),
				Usage:   "Store backend (postgres|sqlite)",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "vector-kind",
				Sources: cli.EnvVars("CONVERSATION_SERVICE_VECTOR_KIND"),
				Usage:   "Vector store (none|pgvector|sqlitevec|qdrant)",
				Value:   "pgvector",
			},
			&cli.StringFlag{
				Name:    "embedding-kind",
				Sources: cli.EnvVars("CONVERSATION_SERVICE_EMBEDDING_KIND"),
				Usage:   "Embedding provider; selects the vector dimension",
				Value:   "local",
			},
			&cli.StringFlag{
				Name:    "vector-qdrant-host",
				Sources: cli.EnvVars("CONVERSATION_SERVICE_VECTOR_QDRANT_HOST"),
				Usage:   "Qdrant host:port",
				Value:   "localhost:6334",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.VectorType = cmd.String("vector-kind")
			cfg.EmbedType = cmd.String("embedding-kind")
			cfg.QdrantHost = cmd.String("vector-qdrant-host")
			cfg.DatastoreMigrateAtStart = true
			cfg.VectorMigrateAtStart = true
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
