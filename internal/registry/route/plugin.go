// Package route collects the management endpoints (health, readiness,
// metrics) mounted beside the conversation API, either on the API router or
// on the dedicated management listener.
package route

import (
	"cmp"
	"slices"
	"sync"

	"github.com/gin-gonic/gin"
)

// MountFunc adds management endpoints to r.
type MountFunc func(r *gin.Engine) error

// Plugin is a management endpoint group; lower Order mounts first.
type Plugin struct {
	Order  int
	Loader MountFunc
}

var (
	mu      sync.Mutex
	groups  []Plugin
	ordered bool
)

// Register adds an endpoint group. Plugin packages call it from init().
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	groups = append(groups, p)
	ordered = false
}

// ManagementRouteLoaders returns the mount functions in Order.
func ManagementRouteLoaders() []MountFunc {
	mu.Lock()
	defer mu.Unlock()
	if !ordered {
		slices.SortStableFunc(groups, func(a, b Plugin) int { return cmp.Compare(a.Order, b.Order) })
		ordered = true
	}
	mounts := make([]MountFunc, len(groups))
	for i, g := range groups {
		mounts[i] = g.Loader
	}
	return mounts
}
