package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilavathra-tackits/gps-tracker/internal/config"
	"github.com/lilavathra-tackits/gps-tracker/internal/store"
)

func newAuth(t *testing.T) (*Authenticator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{ValidAPIKeys: []string{"admin-key", ""}, AuthCacheTTLSeconds: 60}
	a := NewAuthenticator(cfg, store.NewRedisStoreFromClient(client, time.Hour), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return a, mr
}

func TestResolve_StaticKeyIsAdmin(t *testing.T) {
	a, _ := newAuth(t)

	p, ok := a.Resolve(context.Background(), "admin-key")
	require.True(t, ok)
	assert.True(t, p.Admin)
	assert.True(t, p.Owns("any-device"))
}

func TestResolve_EmptyKeyRejected(t *testing.T) {
	a, _ := newAuth(t)
	_, ok := a.Resolve(context.Background(), "")
	assert.False(t, ok)
}

func TestResolve_DeviceKeyFromRedis(t *testing.T) {
	a, mr := newAuth(t)
	require.NoError(t, mr.Set("device:auth:k-1", "dev-1"))

	p, ok := a.Resolve(context.Background(), "k-1")
	require.True(t, ok)
	assert.False(t, p.Admin)
	assert.Equal(t, "dev-1", p.DeviceID)
	assert.True(t, p.Owns("dev-1"))
	assert.False(t, p.Owns("dev-2"))
}

func TestResolve_UnknownKey(t *testing.T) {
	a, _ := newAuth(t)
	_, ok := a.Resolve(context.Background(), "nope")
	assert.False(t, ok)
}

func TestResolve_LocalCacheServesUntilExpiry(t *testing.T) {
	a, mr := newAuth(t)
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }
	require.NoError(t, mr.Set("device:auth:k-1", "dev-1"))

	_, ok := a.Resolve(context.Background(), "k-1")
	require.True(t, ok)

	mr.Del("device:auth:k-1")
	p, ok := a.Resolve(context.Background(), "k-1")
	require.True(t, ok, "served from local cache")
	assert.Equal(t, "dev-1", p.DeviceID)

	clock = clock.Add(61 * time.Second)
	_, ok = a.Resolve(context.Background(), "k-1")
	assert.False(t, ok, "expired entry falls through to redis")
}

func TestResolve_RedisDownRejects(t *testing.T) {
	a, mr := newAuth(t)
	mr.Close()

	_, ok := a.Resolve(context.Background(), "k-1")
	assert.False(t, ok)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{DeviceID: "dev-1"})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.True(t, p.Owns("dev-1"))
	assert.False(t, p.Owns("dev-2"))
	assert.True(t, Principal{Admin: true}.Owns("dev-2"))
}
