package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	RedisURL    string

	// Backend REST API
	APIBaseURL string
	APIToken   string
	APITimeout time.Duration

	// Session runtime
	TickInterval      time.Duration
	AnalysisInterval  time.Duration
	CriticalThreshold time.Duration
	GuardTTL          time.Duration
	GuardStore        string // redis or memory

	Events EventConfig
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return FromEnv(), nil
}

func FromEnv() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:3000"),
		APIToken:   getEnv("API_TOKEN", ""),
		APITimeout: getEnvDuration("API_TIMEOUT", 30*time.Second),

		TickInterval:      getEnvDuration("TICK_INTERVAL", time.Second),
		AnalysisInterval:  getEnvDuration("ANALYSIS_INTERVAL", 5*time.Second),
		CriticalThreshold: getEnvDuration("CRITICAL_THRESHOLD", 5*time.Minute),
		GuardTTL:          getEnvDuration("GUARD_TTL", 24*time.Hour),
		GuardStore:        getEnv("GUARD_STORE", "memory"),

		Events: EventConfig{
			Enabled:      getEnvBool("EVENTS_ENABLED", true),
			Publisher:    getEnv("EVENTS_PUBLISHER", "mock"),
			KafkaBrokers: getEnv("KAFKA_BROKERS", "localhost:9092"),
			SessionTopic: getEnv("SESSION_TOPIC", "tryout_session_events"),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
