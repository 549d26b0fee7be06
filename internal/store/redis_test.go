package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStoreFromClient(client, ttl)
}

func TestRedisStoreLastStateMiss(t *testing.T) {
	_, r := newTestRedis(t, time.Hour)

	state, err := r.GetLastState(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestRedisStoreLastStateRoundTrip(t *testing.T) {
	mr, r := newTestRedis(t, time.Hour)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	in := domain.LastKnownState{
		Latitude:    12.97,
		Longitude:   77.59,
		Timestamp:   ts,
		Charge:      64,
		SpeedKmh:    31.5,
		PowerSource: domain.PowerBattery,
		CachedAt:    time.Now(),
	}
	require.NoError(t, r.SetLastState(ctx, "dev-1", in, time.Hour))

	got, err := r.GetLastState(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, 64, got.Charge)
	assert.Equal(t, domain.PowerBattery, got.PowerSource)

	assert.True(t, mr.Exists("device:dev-1:latest"))
	assert.Equal(t, time.Hour, mr.TTL("device:dev-1:latest"))
}

func TestRedisStoreLastStateExpires(t *testing.T) {
	mr, r := newTestRedis(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, r.SetLastState(ctx, "dev-1", domain.LastKnownState{CachedAt: time.Now()}, time.Hour))
	mr.FastForward(time.Hour + time.Second)

	got, err := r.GetLastState(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreStaleEntryIsMiss(t *testing.T) {
	_, r := newTestRedis(t, time.Hour)
	ctx := context.Background()

	// key survives (no redis expiry) but the entry is older than the TTL
	stale := domain.LastKnownState{CachedAt: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, r.SetLastState(ctx, "dev-1", stale, 0))

	got, err := r.GetLastState(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreAPIKey(t *testing.T) {
	mr, r := newTestRedis(t, time.Hour)
	require.NoError(t, mr.Set("device:auth:k-1", "dev-1"))

	id, err := r.GetAPIKey(context.Background(), "k-1")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", id)

	id, err = r.GetAPIKey(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestRedisStoreDevicesNear(t *testing.T) {
	_, r := newTestRedis(t, time.Hour)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.SetLastState(ctx, "bengaluru", domain.LastKnownState{Latitude: 12.97, Longitude: 77.59, CachedAt: now}, time.Hour))
	require.NoError(t, r.SetLastState(ctx, "mysuru", domain.LastKnownState{Latitude: 12.30, Longitude: 76.64, CachedAt: now}, time.Hour))

	ids, err := r.DevicesNear(ctx, 12.98, 77.60, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"bengaluru"}, ids)

	ids, err = r.DevicesNear(ctx, 12.98, 77.60, 200)
	require.NoError(t, err)
	assert.Equal(t, []string{"bengaluru", "mysuru"}, ids)
}
