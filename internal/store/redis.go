package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lilavathra-tackits/gps-tracker/internal/config"
	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
)

const (
	DeviceGeoKey        = "devices:geo"
	AlertChannelPattern = "device:*:alerts"
	DataChannelPattern  = "device:*:telemetry"
)

func lastStateKey(deviceID string) string {
	return fmt.Sprintf("device:%s:latest", deviceID)
}

func AlertChannel(deviceID string) string {
	return fmt.Sprintf("device:%s:alerts", deviceID)
}

func DataChannel(deviceID string) string {
	return fmt.Sprintf("device:%s:telemetry", deviceID)
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.CacheTTL), nil
}

func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// GetLastState returns (nil, nil) on a miss, including entries older than the TTL.
func (r *RedisStore) GetLastState(ctx context.Context, deviceID string) (*domain.LastKnownState, error) {
	raw, err := r.client.Get(ctx, lastStateKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get state for %s: %w", deviceID, err)
	}

	var state domain.LastKnownState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", deviceID, err)
	}
	if state.Expired(r.now(), r.ttl) {
		return nil, nil
	}
	return &state, nil
}

// SetLastState stores the state with ttl, indexes the position and
// publishes it on the device's telemetry channel in one round trip.
func (r *RedisStore) SetLastState(ctx context.Context, deviceID string, state domain.LastKnownState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	pubPayload, err := json.Marshal(map[string]interface{}{
		"device_id":    deviceID,
		"latitude":     state.Latitude,
		"longitude":    state.Longitude,
		"speed":        state.SpeedKmh,
		"charge":       state.Charge,
		"power_source": state.PowerSource,
		"timestamp":    state.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal state event: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, lastStateKey(deviceID), payload, ttl)
	pipe.GeoAdd(ctx, DeviceGeoKey, &redis.GeoLocation{
		Name:      deviceID,
		Longitude: state.Longitude,
		Latitude:  state.Latitude,
	})
	pipe.Publish(ctx, DataChannel(deviceID), pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// DevicesNear lists devices whose last cached position lies within
// radiusKm, nearest first.
func (r *RedisStore) DevicesNear(ctx context.Context, lat, lon, radiusKm float64) ([]string, error) {
	locs, err := r.client.GeoRadius(ctx, DeviceGeoKey, lon, lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geo radius failed: %w", err)
	}

	ids := make([]string, len(locs))
	for i, loc := range locs {
		ids[i] = loc.Name
	}
	return ids, nil
}

// GetAPIKey resolves an ingress key to the device it may write for.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("device:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

func (r *RedisStore) PublishAlert(ctx context.Context, deviceID string, payload []byte) error {
	return r.client.Publish(ctx, AlertChannel(deviceID), payload).Err()
}
