package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lilavathra-tackits/gps-tracker/internal/config"
)

// Principal is the identity behind an API key: either an admin, or the
// owner of exactly one device.
type Principal struct {
	DeviceID string
	Admin    bool
}

// Owns reports whether p may act on deviceID.
func (p Principal) Owns(deviceID string) bool {
	return p.Admin || p.DeviceID == deviceID
}

type principalKey struct{}

// WithPrincipal attaches an authenticated principal to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal set by WithPrincipal, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type KeyStore interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	deviceID  string
	expiresAt time.Time
}

type Authenticator struct {
	localCache sync.Map
	keys       KeyStore
	ttl        time.Duration
	staticKeys map[string]bool
	log        *slog.Logger
	now        func() time.Time
}

func NewAuthenticator(cfg *config.Config, keys KeyStore, log *slog.Logger) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		keys:       keys,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
		log:        log,
		now:        time.Now,
	}
}

func (a *Authenticator) Resolve(ctx context.Context, apiKey string) (Principal, bool) {
	if apiKey == "" {
		return Principal{}, false
	}

	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return Principal{Admin: true}, true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.now().Before(entry.expiresAt) {
			return Principal{DeviceID: entry.deviceID}, true
		}
		a.localCache.Delete(apiKey)
	}

	// Level 2: key store lookup
	if a.keys == nil {
		return Principal{}, false
	}
	deviceID, err := a.keys.GetAPIKey(ctx, apiKey)
	if err != nil {
		a.log.Warn("api key lookup failed", "error", err)
		return Principal{}, false
	}
	if deviceID == "" {
		return Principal{}, false
	}

	a.localCache.Store(apiKey, cacheEntry{
		deviceID:  deviceID,
		expiresAt: a.now().Add(a.ttl),
	})

	return Principal{DeviceID: deviceID}, true
}
