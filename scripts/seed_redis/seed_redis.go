package main

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/lilavathra-tackits/gps-tracker/internal/config"
)

func main() {
	cfg := config.Load()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	step1_api_keys(ctx, client)
	step2_verify(ctx, client)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/tracker")
}

func step1_api_keys(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 1: Seeding device API keys ─────────────")

	// Key pattern: device:auth:{api_key} → device_id
	// Resolved by auth.Authenticator after the static admin keys
	// TTL = 0 means permanent
	apiKeys := map[string]string{
		"device:auth:tracker_001_key": "tracker-001",
		"device:auth:tracker_002_key": "tracker-002",
		"device:auth:test_key":        "test-device",
	}

	for key, deviceID := range apiKeys {
		if err := client.Set(ctx, key, deviceID, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-40s → %s\n", key, deviceID)
	}
}

func step2_verify(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	var count int
	iter := client.Scan(ctx, 0, "device:auth:*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", count)

	val, err := client.Get(ctx, "device:auth:test_key").Result()
	if err != nil {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: device:auth:test_key → %s\n", val)
}
