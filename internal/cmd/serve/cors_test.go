package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dashboardRouter(allowed string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(allowed))
	router.GET("/v1/stats", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func send(router *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/v1/stats", nil)
	req.Header.Set("Origin", origin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestParseOrigins(t *testing.T) {
	require.Empty(t, parseOrigins(""))
	require.Equal(t, map[string]bool{"https://a.example": true, "https://b.example": true},
		parseOrigins(" https://a.example, ,https://b.example"))
}

func TestCorsAllowsConfiguredDashboard(t *testing.T) {
	rec := send(dashboardRouter("https://dash.example"), http.MethodGet, "https://dash.example")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCorsRejectsOtherOriginAndAnswersPreflight(t *testing.T) {
	router := dashboardRouter("https://dash.example")
	assert.Empty(t, send(router, http.MethodGet, "https://evil.example").Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusNoContent, send(router, http.MethodOptions, "https://dash.example").Code)
}

func TestCorsWildcard(t *testing.T) {
	rec := send(dashboardRouter("*"), http.MethodGet, "https://anywhere.example")
	assert.Equal(t, "https://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
