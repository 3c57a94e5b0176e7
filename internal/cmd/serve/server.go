package serve

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/api"
	"github.com/chirino/conversation-service/internal/cmd/app"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/metrics"
	routesystem "github.com/chirino/conversation-service/internal/plugin/route/system"
	registryroute "github.com/chirino/conversation-service/internal/registry/route"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config     *config.Config
	Components *app.Components
	Router     *gin.Engine
	Running    *RunningServer
	Management *RunningServer
	stop       context.CancelFunc
}

// Shutdown stops background work and gracefully shuts down the listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	var errs []error
	if s.Management != nil {
		errs = append(errs, s.Management.Close(ctx))
	}
	errs = append(errs, s.Running.Close(ctx))
	return errors.Join(errs...)
}

// StartServer builds the components, mounts the routes and starts listening.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting conversation service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"vector", cfg.VectorType,
		"embedding", cfg.EmbedType,
	)

	components, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if components.Ping != nil {
		routesystem.AddReadinessCheck("database", components.Ping)
	}

	router := newRouter(cfg, components)

	// Background services stop on Shutdown rather than on the signal context,
	// so in-flight requests can still trigger backfills while draining.
	bgCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	go components.Backfiller.Start(bgCtx)
	components.Backfiller.Trigger()

	var management *RunningServer
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(api.AccessLogMiddleware())
		}
		if err := mountAll(mgmtRouter, registryroute.ManagementRouteLoaders()); err != nil {
			stop()
			return nil, err
		}
		management, err = startListener("management", cfg.ManagementListener, mgmtRouter)
		if err != nil {
			stop()
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		log.Info("Management server listening", "port", management.Port)
	} else if err := mountAll(router, registryroute.ManagementRouteLoaders()); err != nil {
		stop()
		return nil, err
	}

	running, err := startListener("http", cfg.Listener, router)
	if err != nil {
		stop()
		if management != nil {
			_ = management.Close(context.Background())
		}
		return nil, err
	}
	log.Info("Server listening", "port", running.Port)

	routesystem.MarkReady()
	return &Server{
		Config:     cfg,
		Components: components,
		Router:     router,
		Running:    running,
		Management: management,
		stop:       stop,
	}, nil
}

func newRouter(cfg *config.Config, c *app.Components) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(api.AccessLogMiddleware())
	} else {
		router.Use(api.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(metrics.Middleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSOrigins != "" {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	h := &api.Handlers{Repo: c.Repo, Ask: c.Answerer}
	if c.Sync != nil {
		h.Sync = c.Sync
	}
	api.MountRoutes(router, h)
	return router
}

func mountAll(r *gin.Engine, loaders []registryroute.MountFunc) error {
	for _, loader := range loaders {
		if err := loader(r); err != nil {
			return fmt.Errorf("failed to load routes: %w", err)
		}
	}
	return nil
}
