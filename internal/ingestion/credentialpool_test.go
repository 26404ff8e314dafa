package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, tokens []string, quota int64, cooldown time.Duration) *CredentialPool {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewCredentialPool(rdb, "github_actions", tokens, quota, cooldown)
}

func TestCredentialPoolRotatesRoundRobin(t *testing.T) {
	pool := newTestPool(t, []string{"tok-a", "tok-b"}, 100, time.Minute)
	ctx := context.Background()

	first, err := pool.Acquire(ctx)
	require.NoError(t, err)
	second, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, second, "round robin must alternate tokens")
}

func TestCredentialPoolCoolsDownExhaustedToken(t *testing.T) {
	pool := newTestPool(t, []string{"tok-only"}, 2, time.Minute)
	ctx := context.Background()

	_, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = pool.Acquire(ctx)
	require.NoError(t, err)

	_, err = pool.Acquire(ctx)
	require.Error(t, err, "third acquire must fail once quota is exhausted")
}

func TestCredentialPoolReleaseRestoresQuota(t *testing.T) {
	pool := newTestPool(t, []string{"tok-only"}, 1, time.Minute)
	ctx := context.Background()

	token, err := pool.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, pool.Release(ctx, token))

	_, err = pool.Acquire(ctx)
	require.NoError(t, err, "released quota must be reusable")
}

func TestCredentialPoolNoTokensConfigured(t *testing.T) {
	pool := newTestPool(t, nil, 100, time.Minute)
	_, err := pool.Acquire(context.Background())
	require.Error(t, err)
}
