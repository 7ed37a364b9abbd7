package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL          string
	CollectionConfigPath string
	Port                 string
	LogLevel             string

	// Fetch engine
	PageSize            int
	QueryTimeout        time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// Anchor persistence
	AnchorBackend string
	SQLitePath    string

	// Plugin framework
	PluginRetryMax     int
	PluginRetryBackoff time.Duration
	PluginRPCTimeout   time.Duration
}

func Load() Config {
	return Config{
		DatabaseURL:          getEnvRequired("DATABASE_URL"),
		CollectionConfigPath: getEnvRequired("COLLECTION_CONFIG_PATH"),
		Port:                 getEnv("PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		PageSize:             getEnvInt("PAGE_SIZE", 500),
		QueryTimeout:         getEnvDuration("QUERY_TIMEOUT", 5*time.Second),
		BreakerMaxFailures:   getEnvInt("BREAKER_MAX_FAILURES", 5),
		BreakerResetTimeout:  getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		AnchorBackend:        getEnv("ANCHOR_BACKEND", "postgres"),
		SQLitePath:           getEnv("SQLITE_PATH", "anchors.db"),
		PluginRetryMax:       getEnvInt("PLUGIN_RETRY_MAX", 3),
		PluginRetryBackoff:   getEnvDuration("PLUGIN_RETRY_BACKOFF", 100*time.Millisecond),
		PluginRPCTimeout:     getEnvDuration("PLUGIN_RPC_TIMEOUT", 5*time.Second),
	}
}

func getEnvRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic("required environment variable " + key + " is not set")
	}
	return v
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return n
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return d
	}
	return fallback
}
