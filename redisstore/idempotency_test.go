package redisstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStore(t *testing.T, ttl time.Duration) *IdempotencyStore {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container tests skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %s", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	rdb, err := Connect(ctx, endpoint, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, ttl)
}

func TestIdempotencyStore(t *testing.T) {
	s := newTestStore(t, time.Minute)
	ctx := context.Background()

	_, found, err := s.Lookup(ctx, "org-1", "k")
	require.NoError(t, err)
	assert.False(t, found)

	winner, claimed, err := s.Claim(ctx, "org-1", "k", "run_a")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "run_a", winner)

	winner, claimed, err = s.Claim(ctx, "org-1", "k", "run_b")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "run_a", winner)

	// keys are scoped per org
	_, claimed, err = s.Claim(ctx, "org-2", "k", "run_c")
	require.NoError(t, err)
	assert.True(t, claimed)

	ttl, err := s.rdb.TTL(ctx, key("org-1", "k")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	t.Run("release only by holder", func(t *testing.T) {
		require.NoError(t, s.Release(ctx, "org-1", "k", "run_b"))
		runID, found, err := s.Lookup(ctx, "org-1", "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "run_a", runID)

		require.NoError(t, s.Release(ctx, "org-1", "k", "run_a"))
		_, found, err = s.Lookup(ctx, "org-1", "k")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("concurrent claims", func(t *testing.T) {
		const n = 20
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claims  int
			winners = map[string]bool{}
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				w, ok, err := s.Claim(ctx, "org-1", "race", fmt.Sprintf("run_%d", i))
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				winners[w] = true
				if ok {
					claims++
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, claims)
		assert.Len(t, winners, 1)
	})
}
