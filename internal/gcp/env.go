package gcp

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt reads an integer environment variable. Unparseable values fall
// back to the default and are logged.
func GetEnvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Ignoring invalid integer environment variable", "key", key, "value", raw, "error", err)
		return fallback
	}
	return v
}

// GetEnvDuration reads a time.ParseDuration formatted environment variable.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Ignoring invalid duration environment variable", "key", key, "value", raw, "error", err)
		return fallback
	}
	return v
}

// ProjectID returns PROJECT_ID, falling back to GOOGLE_CLOUD_PROJECT.
func ProjectID() string {
	return GetEnv("PROJECT_ID", GetEnv("GOOGLE_CLOUD_PROJECT", ""))
}
