package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsMiddleware lets the dashboard call the API from the origins listed in
// allowed ("*" admits any origin). Preflight requests end here with 204.
func corsMiddleware(allowed string) gin.HandlerFunc {
	dashboards := parseOrigins(allowed)
	anyOrigin := dashboards["*"]
	return func(c *gin.Context) {
		if origin := strings.TrimSpace(c.GetHeader("Origin")); origin != "" && (anyOrigin || dashboards[origin]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Max-Age", "600")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// parseOrigins splits a comma-separated origin list, dropping blanks.
func parseOrigins(csv string) map[string]bool {
	set := map[string]bool{}
	for origin := range strings.SplitSeq(csv, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			set[origin] = true
		}
	}
	return set
}
