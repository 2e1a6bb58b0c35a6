package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string

	// Asset trees
	ProjectDir    string
	CoreAssetsDir string

	// Locking
	LockTimeout time.Duration
	LockMaxHold time.Duration // 0 disables stale lock reaping

	// Storage
	WatchDebounce  time.Duration
	DisableWatcher bool
	ParseWorkers   int
	RescanInterval time.Duration // periodic full reload, 0 disables
	TrashRetention time.Duration // 0 keeps trashed files forever
	TrashSchedule  string        // cron expression for trash cleanup

	// Notifications
	SuppressWindow time.Duration

	// WebSocket inbound rate limit
	WSMessageRate  int
	WSMessageBurst int

	// HTTP rate limits per IP and minute, 0 disables
	RateLimitAPI       int
	RateLimitWrites    int
	RateLimitWebSocket int

	// Cross-instance relay
	RedisURL   string
	InstanceID string

	AllowedOrigins string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	return &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: getEnv("ENVIRONMENT", "development"),

		ProjectDir:    getEnv("PROJECT_DIR", cwd),
		CoreAssetsDir: getEnv("CORE_ASSETS_DIR", "./preinstalled"),

		LockTimeout: getDurationEnv("LOCK_TIMEOUT", 30*time.Second),
		LockMaxHold: getDurationEnv("LOCK_MAX_HOLD", 15*time.Minute),

		WatchDebounce:  getDurationEnv("WATCH_DEBOUNCE", 300*time.Millisecond),
		DisableWatcher: getBoolEnv("DISABLE_WATCHER", false),
		ParseWorkers:   getIntEnv("PARSE_WORKERS", runtime.NumCPU()),
		RescanInterval: getDurationEnv("RESCAN_INTERVAL", 0),
		TrashRetention: getDurationEnv("TRASH_RETENTION", 30*24*time.Hour),
		TrashSchedule:  getEnv("TRASH_CLEANUP_SCHEDULE", "0 3 * * *"),

		SuppressWindow: getDurationEnv("SUPPRESS_WINDOW", 3*time.Second),

		WSMessageRate:  getIntEnv("WS_MESSAGE_RATE", 50),
		WSMessageBurst: getIntEnv("WS_MESSAGE_BURST", 100),

		RateLimitAPI:       getIntEnv("RATE_LIMIT_GLOBAL_API", 200),
		RateLimitWrites:    getIntEnv("RATE_LIMIT_WRITES", 60),
		RateLimitWebSocket: getIntEnv("RATE_LIMIT_WEBSOCKET", 20),

		RedisURL:   getEnv("REDIS_URL", ""),
		InstanceID: getEnv("INSTANCE_ID", uuid.New().String()),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
	}
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("30s") or a bare number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
