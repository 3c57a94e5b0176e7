// Package system registers the management endpoints: liveness, readiness and
// Prometheus metrics.
package system

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/conversation-service/internal/registry/route"
)

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

var (
	ready  atomic.Bool
	checks atomic.Pointer[[]namedCheck]
)

type namedCheck struct {
	name  string
	check ReadinessCheck
}

// MarkReady signals that the service has finished initializing.
func MarkReady() {
	ready.Store(true)
}

// AddReadinessCheck registers a check that /ready runs on every probe.
func AddReadinessCheck(name string, check ReadinessCheck) {
	for {
		old := checks.Load()
		var next []namedCheck
		if old != nil {
			next = append(next, *old...)
		}
		next = append(next, namedCheck{name: name, check: check})
		if checks.CompareAndSwap(old, &next) {
			return
		}
	}
}

func reset() {
	ready.Store(false)
	checks.Store(nil)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order:  0,
		Loader: mount,
	})
}

func mount(r *gin.Engine) error {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if !ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		failed := gin.H{}
		if list := checks.Load(); list != nil {
			for _, nc := range *list {
				if err := nc.check(ctx); err != nil {
					failed[nc.name] = err.Error()
				}
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return nil
}
