package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Database configuration
	DatabasePath string

	// Fitbit API configuration
	FitbitClientID     string
	FitbitClientSecret string
	// Code Fitbit sends on subscriber endpoint verification
	FitbitVerifyCode string
	// Optional subscriber id sent on subscription create/delete
	FitbitSubscriberID string

	// Internal API configuration
	InternalAPIKey string

	// Worker configuration
	WorkerBatchSize    int
	WorkerPollInterval time.Duration

	// Poller configuration
	PollInterval time.Duration

	// Backfill configuration
	BackfillChunkDelay time.Duration

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Logging configuration
	LogLevel string
}

// Load reads configuration from environment variables
// It fails fast if required variables are missing
func Load() (*Config, error) {
	cfg := &Config{
		// Optional values with defaults
		Host:               getEnv("HOST", "localhost"),
		Port:               getEnvInt("PORT", 4201),
		DatabasePath:       getEnv("DATABASE_PATH", "./data.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		FitbitSubscriberID: getEnv("FITBIT_SUBSCRIBER_ID", ""),
		WorkerBatchSize:    getEnvInt("WORKER_BATCH_SIZE", 10),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Minute),
		PollInterval:       getEnvDuration("POLL_INTERVAL", time.Hour),
		BackfillChunkDelay: getEnvDuration("BACKFILL_CHUNK_DELAY", time.Second),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", false),
		MetricsHost:        getEnv("METRICS_HOST", "localhost"),
		MetricsPort:        getEnvInt("METRICS_PORT", 4202),
	}

	// Required values
	var missingVars []string

	cfg.FitbitClientID = os.Getenv("FITBIT_CLIENT_ID")
	if cfg.FitbitClientID == "" {
		missingVars = append(missingVars, "FITBIT_CLIENT_ID")
	}

	cfg.FitbitClientSecret = os.Getenv("FITBIT_CLIENT_SECRET")
	if cfg.FitbitClientSecret == "" {
		missingVars = append(missingVars, "FITBIT_CLIENT_SECRET")
	}

	cfg.FitbitVerifyCode = os.Getenv("FITBIT_VERIFY_CODE")
	if cfg.FitbitVerifyCode == "" {
		missingVars = append(missingVars, "FITBIT_VERIFY_CODE")
	}

	cfg.InternalAPIKey = os.Getenv("INTERNAL_API_KEY")
	if cfg.InternalAPIKey == "" {
		missingVars = append(missingVars, "INTERNAL_API_KEY")
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvDuration gets a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
