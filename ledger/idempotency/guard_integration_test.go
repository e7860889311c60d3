//go:build integration

package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedisContainer(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	return endpoint, func() {
		require.NoError(t, container.Terminate(ctx))
	}
}

func TestIntegration_Guard_ConcurrentAcquire(t *testing.T) {
	addr, cleanup := setupRedisContainer(t)
	t.Cleanup(cleanup)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	g, err := NewRedisGuard(client)
	require.NoError(t, err)

	ctx := context.Background()
	key := "it-" + uuid.NewString()

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)

	for range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if g.Acquire(ctx, key, uuid.New()) == nil {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
