package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestParseLabels(t *testing.T) {
	t.Setenv("POD_NAME", "pod-1")

	labels, err := ParseLabels("service=conversation-service,pod=${POD_NAME}")
	require.NoError(t, err)
	require.Equal(t, prometheus.Labels{"service": "conversation-service", "pod": "pod-1"}, labels)

	labels, err = ParseLabels("")
	require.NoError(t, err)
	require.Nil(t, labels)

	_, err = ParseLabels("novalue")
	require.Error(t, err)

	_, err = ParseLabels("1bad=x")
	require.Error(t, err)
}

func TestHelpersAreSafeBeforeInit(t *testing.T) {
	require.NotPanics(t, func() {
		ObserveCache("metadata", true)
		ObserveStore("list_conversations", time.Now())
		ObserveSyncRun("full", "DONE", 1, 2, 3)
		ObserveEmbeddingTruncation()
		ObserveAsk("answered")
	})
}
