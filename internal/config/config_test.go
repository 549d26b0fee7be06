package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("CACHE_TTL_SECONDS", "")
	t.Setenv("GATE_DIRECT_PUSH", "")
	t.Setenv("MAX_CLOCK_SKEW_SECONDS", "")

	cfg := Load()
	assert.Equal(t, "8001", cfg.HTTPPort)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 4*time.Second, cfg.DirectPollInterval)
	assert.Equal(t, 80.0, cfg.RashSpeedKmh)
	assert.False(t, cfg.GateDirectPush)
	assert.Equal(t, 5*time.Minute, cfg.MaxClockSkew)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_WORKERS", "2")
	t.Setenv("GATE_DIRECT_PUSH", "true")
	t.Setenv("RASH_SPEED_KMH", "65.5")
	t.Setenv("VALID_API_KEYS", "a,b")
	t.Setenv("DB_MAX_CONNS", "not-a-number")
	t.Setenv("MAX_CLOCK_SKEW_SECONDS", "30")

	cfg := Load()
	assert.Equal(t, 2, cfg.PollWorkers)
	assert.True(t, cfg.GateDirectPush)
	assert.Equal(t, 65.5, cfg.RashSpeedKmh)
	assert.Equal(t, []string{"a", "b"}, cfg.ValidAPIKeys)
	assert.Equal(t, int32(15), cfg.DBMaxConns)
	assert.Equal(t, 30*time.Second, cfg.MaxClockSkew)
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: "5432", DBName: "d", DBMaxConns: 4}
	assert.Equal(t, "postgres://u:p@h:5432/d?pool_max_conns=4", cfg.DatabaseURL())
}
