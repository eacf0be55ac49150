package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds service configuration read from the environment.
type Config struct {
	HTTPAddr        string
	NATSUrl         string
	PostgresDSN     string // empty selects the in-memory store
	FeedDir         string
	SchemaDir       string
	MaxRecords      int
	DedupeCap       int
	WindowLimit     int
	AnalyzeInterval time.Duration
	CompressMinSize int
}

// Load reads environment variables and returns a Config with defaults
// applied.
func Load() *Config {
	return &Config{
		HTTPAddr:        getEnv("OPSWATCH_HTTP_ADDR", ":8080"),
		NATSUrl:         getEnv("OPSWATCH_NATS_URL", "nats://localhost:4222"),
		PostgresDSN:     getEnv("OPSWATCH_PG_DSN", ""),
		FeedDir:         getEnv("OPSWATCH_FEED_DIR", "feeds.d"),
		SchemaDir:       getEnv("OPSWATCH_SCHEMA_DIR", "schemas"),
		MaxRecords:      getEnvInt("OPSWATCH_MAX_RECORDS", 10000),
		DedupeCap:       getEnvInt("OPSWATCH_DEDUPE_CAP", 100000),
		WindowLimit:     getEnvInt("OPSWATCH_WINDOW_LIMIT", 100),
		AnalyzeInterval: time.Duration(getEnvInt("OPSWATCH_ANALYZE_INTERVAL_MS", 5000)) * time.Millisecond,
		CompressMinSize: getEnvInt("OPSWATCH_COMPRESS_MIN_BYTES", 4096),
	}
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
