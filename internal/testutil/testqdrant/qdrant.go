// Package testqdrant provides a Qdrant container shared by every test in the
// process, with a collection prefix per test so tests never see each other's
// points.
package testqdrant

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	startOnce sync.Once
	addr      string
	startErr  error
)

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// Instance locates the shared container for one test.
type Instance struct {
	// Addr is the gRPC host:port.
	Addr string
	// CollectionPrefix is unique to the calling test.
	CollectionPrefix string
}

// Start returns the shared Qdrant instance, starting it on first use.
// Skipped under -short.
func Start(tb testing.TB) Instance {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping qdrant container test in short mode")
	}
	startOnce.Do(func() { addr, startErr = start(context.Background()) })
	if startErr != nil {
		tb.Fatalf("start qdrant container: %v", startErr)
	}
	name := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(tb.Name()), "-"), "-")
	return Instance{
		Addr:             addr,
		CollectionPrefix: fmt.Sprintf("%s-%d", name, time.Now().UnixNano()),
	}
}

func start(ctx context.Context) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.13.4",
			ExposedPorts: []string{"6334/tcp"},
			WaitingFor:   wait.ForListeningPort("6334/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", err
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6334")
	if err != nil {
		return "", fmt.Errorf("mapped port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}
