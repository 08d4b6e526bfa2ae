package redis

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// setupRedis starts a throwaway Redis container. It skips when -short is
// set or no container runtime is available.
func setupRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container tests skipped in -short mode")
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
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{Addr: endpoint, KeyPrefix: fmt.Sprintf("test:%s:", t.Name())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedis(t *testing.T) {
	c := setupRedis(t)

	t.Run("lock", func(t *testing.T) {
		lm := NewLockManager(c)
		unlock, err := lm.Acquire(t.Context(), "exec:0xabc:1", time.Minute)
		require.NoError(t, err)

		_, err = lm.Acquire(t.Context(), "exec:0xabc:1", time.Minute)
		assert.ErrorIs(t, err, domain.ErrLockHeld)

		unlock()
		unlock()
		again, err := lm.Acquire(t.Context(), "exec:0xabc:1", time.Minute)
		require.NoError(t, err)
		again()
	})

	t.Run("lock expires", func(t *testing.T) {
		lm := NewLockManager(c)
		_, err := lm.Acquire(t.Context(), "short", 50*time.Millisecond)
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			unlock, err := lm.Acquire(t.Context(), "short", time.Minute)
			if err != nil {
				return false
			}
			unlock()
			return true
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("rate limiter", func(t *testing.T) {
		rl := NewRateLimiter(c)
		for i := range 3 {
			ok, err := rl.Allow(t.Context(), "submit", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "request %d", i)
		}
		ok, err := rl.Allow(t.Context(), "submit", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = rl.Allow(t.Context(), "other", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "keys are independent")
	})

	t.Run("pool price cache", func(t *testing.T) {
		pc := NewPoolPriceCache(c, time.Hour)
		_, _, err := pc.GetSqrtPrice(t.Context(), "0xAA")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		sqrt, _ := new(big.Int).SetString("79228162514264337593543950336", 10)
		ts := time.Unix(1_700_000_000, 123)
		require.NoError(t, pc.SetSqrtPrice(t.Context(), "0xAA", sqrt, ts))

		got, gotTS, err := pc.GetSqrtPrice(t.Context(), "0xaa")
		require.NoError(t, err)
		assert.Zero(t, got.Cmp(sqrt))
		assert.True(t, ts.Equal(gotTS))
	})

	t.Run("signal bus", func(t *testing.T) {
		sb := NewSignalBus(c)
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		ch, err := sb.Subscribe(ctx, "ch:arb")
		require.NoError(t, err)
		require.NoError(t, sb.Publish(t.Context(), "ch:arb", []byte("hello")))
		select {
		case msg := <-ch:
			assert.Equal(t, []byte("hello"), msg)
		case <-time.After(2 * time.Second):
			t.Fatal("no message")
		}

		require.NoError(t, sb.StreamAppend(t.Context(), "stream:arb", []byte("one")))
		require.NoError(t, sb.StreamAppend(t.Context(), "stream:arb", []byte("two")))
		msgs, err := sb.StreamRead(t.Context(), "stream:arb", "0", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, []byte("two"), msgs[1].Payload)

		msgs, err = sb.StreamRead(t.Context(), "stream:arb", msgs[1].ID, 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}
