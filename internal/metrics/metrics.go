package metrics

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	syncRunsTotal          *prometheus.CounterVec
	syncConversationsTotal *prometheus.CounterVec

	embeddingTruncationsTotal prometheus.Counter
	askTotal                  *prometheus.CounterVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initOnce sync.Once

// Init registers all Prometheus metrics with the given constant labels.
// Safe to call multiple times; only the first call registers. Until Init is
// called every recording helper in this package is a no-op.
func Init(constLabels prometheus.Labels) {
	initOnce.Do(func() {
		initInner(constLabels)
	})
}

func initInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_service_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_service_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_service_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	cacheHitsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_service_cache_hits_total",
		Help: "Total cache hits",
	}, []string{"cache"})

	cacheMissesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_service_cache_misses_total",
		Help: "Total cache misses",
	}, []string{"cache"})

	syncRunsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_service_sync_runs_total",
		Help: "Sync runs by mode and final state",
	}, []string{"mode", "state"})

	syncConversationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_service_sync_conversations_total",
		Help: "Conversations seen by sync runs, by outcome",
	}, []string{"outcome"})

	embeddingTruncationsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "conversation_service_embedding_truncations_total",
		Help: "Embedding inputs truncated to the model token limit",
	})

	askTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_service_ask_total",
		Help: "Question answering requests by outcome",
	}, []string{"outcome"})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "conversation_service_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "conversation_service_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// ObserveCache records a hit or miss for the named cache.
func ObserveCache(cache string, hit bool) {
	if cacheHitsTotal == nil {
		return
	}
	if hit {
		cacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		cacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// ObserveStore records the latency of a store operation started at start.
func ObserveStore(op string, start time.Time) {
	if StoreLatency == nil {
		return
	}
	StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveSyncRun counts a finished sync run and its per-conversation outcomes.
func ObserveSyncRun(mode, state string, added, skipped, failed int) {
	if syncRunsTotal == nil {
		return
	}
	syncRunsTotal.WithLabelValues(mode, state).Inc()
	syncConversationsTotal.WithLabelValues("added").Add(float64(added))
	syncConversationsTotal.WithLabelValues("skipped").Add(float64(skipped))
	syncConversationsTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveEmbeddingTruncation counts an embedding input that was cut short.
func ObserveEmbeddingTruncation() {
	if embeddingTruncationsTotal == nil {
		return
	}
	embeddingTruncationsTotal.Inc()
}

// ObserveAsk counts a question answering request by outcome.
func ObserveAsk(outcome string) {
	if askTotal == nil {
		return
	}
	askTotal.WithLabelValues(outcome).Inc()
}

// Middleware records HTTP request metrics for Prometheus.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
