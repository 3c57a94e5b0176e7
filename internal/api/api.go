// Package api exposes the consumer entry points over a small JSON HTTP surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/model"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/chirino/conversation-service/internal/service"
	"github.com/gin-gonic/gin"
)

// Syncer runs a sync.
type Syncer interface {
	Run(ctx context.Context, mode model.SyncMode) (*model.SyncRun, error)
}

// Asker answers questions about the stored conversations.
type Asker interface {
	Ask(ctx context.Context, question string, dateRange model.DateRange) (*service.Answer, error)
}

// Handlers serves the API. Sync and Ask may be nil when their dependencies
// are not configured; the routes then answer 503.
type Handlers struct {
	Repo registrystore.ConversationRepository
	Sync Syncer
	Ask  Asker
}

// MountRoutes mounts the API routes under /v1.
func MountRoutes(r *gin.Engine, h *Handlers) {
	g := r.Group("/v1")
	g.GET("/conversations", h.listConversations)
	g.GET("/conversations/:externalId", h.getConversation)
	g.GET("/stats", h.getStats)
	g.GET("/agents", h.listAgents)
	g.GET("/snippets", h.searchSnippets)
	g.POST("/sync", h.runSync)
	g.POST("/ask", h.ask)
	g.POST("/cache/clear", h.clearCache)
}

// AccessLogMiddleware logs every request except those for skipPaths.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		log.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
		)
	}
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var dependency *service.DependencyUnavailableError
	var timeout *service.TimeoutError
	var listFetch *service.ListFetchError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.Is(err, service.ErrSyncRunning):
		c.JSON(http.StatusConflict, gin.H{"code": "sync_running", "error": err.Error()})
	case errors.As(err, &timeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"code": "timeout", "error": err.Error()})
	case errors.As(err, &dependency):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "dependency_unavailable", "error": err.Error()})
	case errors.As(err, &listFetch):
		c.JSON(http.StatusBadGateway, gin.H{"code": "list_fetch_failed", "error": err.Error()})
	default:
		log.Error("API: request failed", "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"code": "dependency_unavailable", "error": what + " is not configured"})
}

func queryDateRange(c *gin.Context) (model.DateRange, error) {
	return registrystore.ParseDateRange(c.Query("start"), c.Query("end"))
}

func queryFilter(c *gin.Context) (registrystore.ListFilter, error) {
	dr, err := queryDateRange(c)
	if err != nil {
		return registrystore.ListFilter{}, err
	}
	return registrystore.ListFilter{DateRange: dr, AgentID: strings.TrimSpace(c.Query("agent"))}, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &registrystore.ValidationError{Field: key, Message: "must be an integer"}
	}
	return n, nil
}
