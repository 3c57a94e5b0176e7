package route

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestManagementRouteLoadersFollowOrder(t *testing.T) {
	saved := groups
	t.Cleanup(func() {
		groups = saved
		ordered = false
	})
	groups = nil

	var mounted []string
	mount := func(name string) MountFunc {
		return func(*gin.Engine) error {
			mounted = append(mounted, name)
			return nil
		}
	}
	Register(Plugin{Order: 20, Loader: mount("metrics")})
	Register(Plugin{Order: 10, Loader: mount("health")})
	Register(Plugin{Order: 20, Loader: mount("ready")})

	for _, m := range ManagementRouteLoaders() {
		assert.NoError(t, m(nil))
	}
	assert.Equal(t, []string{"health", "metrics", "ready"}, mounted)
}
