// Package config loads service configuration from DECISIOND_* env vars.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	// DB is the database DSN: postgres:// selects the PostgreSQL
	// backend, anything else is treated as a SQLite path.
	DB   string
	Addr string

	RedisURL string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string

	SecretKey   string
	TokenTTL    time.Duration
	CORSOrigins []string
	Environment string
}

// FromEnv reads the configuration, applying development defaults for
// anything unset.
func FromEnv() Config {
	cfg := Config{
		DB:          envOr("DECISIOND_DB", "decisiond.db"),
		Addr:        envOr("DECISIOND_ADDR", ":8000"),
		RedisURL:    os.Getenv("DECISIOND_REDIS_URL"),
		S3Endpoint:  os.Getenv("DECISIOND_S3_ENDPOINT"),
		S3AccessKey: os.Getenv("DECISIOND_S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("DECISIOND_S3_SECRET_KEY"),
		S3Bucket:    os.Getenv("DECISIOND_S3_BUCKET"),
		S3Region:    envOr("DECISIOND_S3_REGION", "us-east-1"),
		SecretKey:   os.Getenv("DECISIOND_SECRET_KEY"),
		TokenTTL:    30 * time.Minute,
		Environment: envOr("DECISIOND_ENVIRONMENT", "development"),
	}

	if v := os.Getenv("DECISIOND_TOKEN_TTL_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			cfg.TokenTTL = time.Duration(minutes) * time.Minute
		}
	}
	if v := os.Getenv("DECISIOND_CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
