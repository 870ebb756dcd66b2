// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Registry sources
const (
	RegistryMemory   = "memory"
	RegistryPostgres = "postgres"
)

// Config holds application configuration
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	Brokers     []string
	APIKeys     map[string]string
	LogLevel    string

	OTLPEndpoint    string
	TraceSampleRate float64

	RegistrySource   string
	ProbeInterval    time.Duration
	BatchWorkers     int
	SessionIdleLimit time.Duration
}

// Load reads the environment. Unset variables take defaults; malformed
// values are errors.
func Load() (Config, error) {
	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		APIKeys:          map[string]string{},
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
		TraceSampleRate:  1.0,
		RegistrySource:   getEnv("REGISTRY_SOURCE", RegistryMemory),
		ProbeInterval:    30 * time.Second,
		BatchWorkers:     8,
		SessionIdleLimit: 15 * time.Minute,
	}

	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		for _, broker := range strings.Split(b, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.Brokers = append(cfg.Brokers, broker)
			}
		}
	}

	if key := os.Getenv("API_KEY"); key != "" {
		cfg.APIKeys[key] = "env-client"
	}

	if v := os.Getenv("TRACE_SAMPLE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 || rate > 1 {
			return Config{}, fmt.Errorf("TRACE_SAMPLE_RATE must be between 0 and 1, got %q", v)
		}
		cfg.TraceSampleRate = rate
	}

	switch cfg.RegistrySource {
	case RegistryMemory:
	case RegistryPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("REGISTRY_SOURCE=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("REGISTRY_SOURCE must be memory or postgres, got %q", cfg.RegistrySource)
	}

	var err error
	if cfg.ProbeInterval, err = durationEnv("CONNECTIVITY_PROBE_INTERVAL", cfg.ProbeInterval); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdleLimit, err = durationEnv("SESSION_IDLE_LIMIT", cfg.SessionIdleLimit); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("BATCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("BATCH_WORKERS must be a positive integer, got %q", v)
		}
		cfg.BatchWorkers = n
	}

	return cfg, nil
}

// Debug reports whether verbose development logging was requested
func (c Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration, got %q", key, v)
	}
	return d, nil
}
