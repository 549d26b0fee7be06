package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP
	HTTPPort string

	// TimescaleDB
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Last-known-state cache: "redis" or "memory"
	CacheBackend string
	CacheTTL     time.Duration

	// Upstream device data source
	UpstreamURL     string
	UpstreamTimeout time.Duration

	// Poll scheduler
	PollerEnabled      bool
	PollWorkers        int
	DirectPollInterval time.Duration

	// Ingestion policy
	GateDirectPush bool
	MaxClockSkew   time.Duration

	// Evaluator thresholds
	RashSpeedKmh    float64
	AccelKmhPerHour float64
	MovementKm      float64
	IdleMinutes     float64
	MaintenanceDays int
	MaintenanceKm   float64
	ActiveWindow    time.Duration

	// Alert fan-out
	AlertChannelSize int
	AlertWorkers     int

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string

	LogLevel string
}

// Load reads configuration from the environment, after merging a .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8001"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "tracker_user"),
		DBPassword:          getEnv("DB_PASSWORD", "tracker_password"),
		DBName:              getEnv("DB_NAME", "gps_tracker"),
		DBMaxConns:          int32(getEnvInt("DB_MAX_CONNS", 15)),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		CacheBackend:        getEnv("CACHE_BACKEND", "redis"),
		CacheTTL:            getEnvSeconds("CACHE_TTL_SECONDS", 3600),
		UpstreamURL:         getEnv("UPSTREAM_URL", "http://127.0.0.1:8000/api/gps/"),
		UpstreamTimeout:     getEnvSeconds("UPSTREAM_TIMEOUT_SECONDS", 5),
		PollerEnabled:       getEnvBool("POLLER_ENABLED", true),
		PollWorkers:         getEnvInt("POLL_WORKERS", 8),
		DirectPollInterval:  getEnvSeconds("DIRECT_POLL_SECONDS", 4),
		GateDirectPush:      getEnvBool("GATE_DIRECT_PUSH", false),
		MaxClockSkew:        getEnvSeconds("MAX_CLOCK_SKEW_SECONDS", 300),
		RashSpeedKmh:        getEnvFloat("RASH_SPEED_KMH", 80),
		AccelKmhPerHour:     getEnvFloat("ACCEL_KMH_PER_HOUR", 100),
		MovementKm:          getEnvFloat("MOVEMENT_KM", 0.5),
		IdleMinutes:         getEnvFloat("IDLE_MINUTES", 10),
		MaintenanceDays:     getEnvInt("MAINTENANCE_DAYS", 30),
		MaintenanceKm:       getEnvFloat("MAINTENANCE_KM", 1000),
		ActiveWindow:        getEnvSeconds("ACTIVE_WINDOW_SECONDS", 600),
		AlertChannelSize:    getEnvInt("ALERT_CHANNEL_SIZE", 10000),
		AlertWorkers:        getEnvInt("ALERT_WORKERS", 3),
		AuthCacheTTLSeconds: getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:        strings.Split(getEnv("VALID_API_KEYS", ""), ","),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}
}

// DatabaseURL builds the pgx connection string.
func (c *Config) DatabaseURL() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName +
		"?pool_max_conns=" + strconv.Itoa(int(c.DBMaxConns))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}
