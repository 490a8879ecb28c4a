package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application. Loaded once at startup
// and treated as immutable.
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string // Postgres store when set; SQLite otherwise
	SQLitePath  string
	RedisURL    string // optional rate-limiter backend

	// Resource bounds
	MaxMessageBytes   int
	HotMessagesLimit  int
	HotAtomsLimit     int
	SeenLimit         int
	DedupLimit        int
	KeepaliveInterval time.Duration

	// Origin allowlist for the tool server (DNS-rebinding defense)
	AllowedOrigins []string

	// Rate limiting
	RateLimitWhitelist []string
}

// Load reads configuration from environment variables. In development it
// loads from a .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENVIRONMENT", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/ubl.db"),
		RedisURL:           os.Getenv("REDIS_URL"),
		MaxMessageBytes:    getEnvInt("MAX_MESSAGE_BYTES", 8000),
		HotMessagesLimit:   getEnvInt("HOT_MESSAGES_LIMIT", 500),
		HotAtomsLimit:      getEnvInt("HOT_ATOMS_LIMIT", 2000),
		SeenLimit:          getEnvInt("SEEN_LIMIT", 2000),
		DedupLimit:         getEnvInt("DEDUP_LIMIT", 5000),
		KeepaliveInterval:  time.Duration(getEnvInt("KEEPALIVE_INTERVAL_MS", 15000)) * time.Millisecond,
		AllowedOrigins:     splitList(os.Getenv("ALLOWED_ORIGINS")),
		RateLimitWhitelist: splitList(os.Getenv("RATE_LIMIT_WHITELIST")),
	}

	if cfg.Env == "production" && cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		panic("DATABASE_URL or SQLITE_PATH is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
