package system

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reset()
	t.Cleanup(reset)
	r := gin.New()
	require.NoError(t, mount(r))

	assert.Equal(t, http.StatusOK, get(r, "/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/ready").Code)

	MarkReady()
	assert.Equal(t, http.StatusOK, get(r, "/ready").Code)

	var dbErr error
	AddReadinessCheck("database", func(context.Context) error { return dbErr })
	assert.Equal(t, http.StatusOK, get(r, "/ready").Code)

	dbErr = errors.New("connection refused")
	w := get(r, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, mount(r))
	w := get(r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
