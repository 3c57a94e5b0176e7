// Package testredis provides isolated Redis logical databases backed by one
// container shared by every test in the process.
package testredis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Redis ships with 16 logical databases.
const databases = 16

var (
	startOnce sync.Once
	addr      string
	startErr  error

	mu   sync.Mutex
	used [databases]bool
)

// NewURL reserves a logical database for the calling test and returns a
// redis:// URL selecting it. The database is flushed and released when the
// test finishes. Skipped under -short.
func NewURL(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping redis container test in short mode")
	}

	startOnce.Do(func() { addr, startErr = start(context.Background()) })
	if startErr != nil {
		tb.Fatalf("start redis container: %v", startErr)
	}

	db := reserve()
	if db < 0 {
		tb.Fatalf("all %d redis databases are in use", databases)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
		if err := client.FlushDB(ctx).Err(); err != nil {
			tb.Logf("flush redis db %d: %v", db, err)
		}
		_ = client.Close()
		release(db)
	})
	return fmt.Sprintf("redis://%s/%d", addr, db)
}

func reserve() int {
	mu.Lock()
	defer mu.Unlock()
	for i := range used {
		if !used[i] {
			used[i] = true
			return i
		}
	}
	return -1
}

func release(db int) {
	mu.Lock()
	used[db] = false
	mu.Unlock()
}

func start(ctx context.Context) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
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
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		return "", fmt.Errorf("mapped port: %w", err)
	}
	hostPort := fmt.Sprintf("%s:%s", host, port.Port())

	client := redis.NewClient(&redis.Options{Addr: hostPort})
	defer client.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return "", fmt.Errorf("ping: %w", err)
	}
	return hostPort, nil
}
