package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process configuration. Everything comes from environment
// variables so main stays lean; unset values fall back to development
// defaults.
type Server struct {
	Addr       string
	AdminToken string

	// PostgresDSN enables the SQL-backed stores when set; empty means the
	// in-memory stores (single-node deployments at small events).
	PostgresDSN string

	Redis RedisConfig

	// KafkaBrokers enables the kafka publish adapter when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// LiveResultTTL bounds staleness of the live leaderboard; DetailTTL
	// covers the full per-lap/per-special payload.
	LiveResultTTL time.Duration
	DetailTTL     time.Duration

	// DeviceRateLimit caps submissions per device per DeviceRateWindow.
	// Zero disables the throttle.
	DeviceRateLimit  int
	DeviceRateWindow time.Duration
}

// RedisConfig captures connection settings for the optional redis cache tier.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:          envOr("CRONO_ADDR", ":8080"),
		AdminToken:    envOr("CRONO_ADMIN_TOKEN", "dev-admin-token"),
		PostgresDSN:   os.Getenv("CRONO_POSTGRES_DSN"),
		KafkaTopic:    envOr("CRONO_KAFKA_TOPIC", "crono.events"),
		LiveResultTTL: envDuration("CRONO_LIVE_TTL", 5*time.Second),
		DetailTTL:     envDuration("CRONO_DETAIL_TTL", 30*time.Second),

		DeviceRateLimit:  envInt("CRONO_DEVICE_RATE_LIMIT", 600),
		DeviceRateWindow: envDuration("CRONO_DEVICE_RATE_WINDOW", time.Minute),
		Redis: RedisConfig{
			URL:          os.Getenv("CRONO_REDIS_URL"),
			PoolSize:     envInt("CRONO_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CRONO_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("CRONO_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CRONO_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CRONO_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
	if brokers := os.Getenv("CRONO_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
