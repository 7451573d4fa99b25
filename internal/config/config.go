// Package config centralises configuration parsing for the planner server and client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration values for plannerd and plannerctl.
type Config struct {
	HTTPAddress     string
	MetricsAddress  string // Empty serves /metrics on HTTPAddress.
	PostgresURL     string // Empty selects the in-memory repository.
	KafkaBrokers    []string
	MoveEventsTopic string
	JWTSecret       string
	JWTIssuer       string

	PlannerBaseURL  string
	PlannerToken    string
	CacheDir        string
	RevalidationTTL time.Duration
	HTTPTimeout     time.Duration
	Timezone        string
	VerifyBackoff   []time.Duration
	FetchFanout     int // Concurrent per-day fallback fetches.
}

// Load reads environment variables into Config, applying defaults for local dev.
func Load() Config {
	cfg := Config{
		HTTPAddress:     getEnv("HTTP_ADDRESS", ":8080"),
		MetricsAddress:  getEnv("METRICS_ADDRESS", ""),
		PostgresURL:     getEnv("POSTGRES_URL", ""),
		MoveEventsTopic: getEnv("MOVE_EVENTS_TOPIC", "planned_workout_moved"),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:       getEnv("JWT_ISSUER", "plannersync.identity"),
		PlannerBaseURL:  getEnv("PLANNER_BASE_URL", "http://localhost:8080"),
		PlannerToken:    getEnv("PLANNER_TOKEN", ""),
		CacheDir:        getEnv("CACHE_DIR", defaultCacheDir()),
		RevalidationTTL: getDurationEnv("REVALIDATION_TTL", 5*time.Minute),
		HTTPTimeout:     getDurationEnv("HTTP_TIMEOUT", 10*time.Second),
		Timezone:        getEnv("CALENDAR_TIMEZONE", "UTC"),
		FetchFanout:     getIntEnv("FETCH_FANOUT", 4),
		VerifyBackoff:   getDurationsEnv("VERIFY_BACKOFF", []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}),
	}

	cfg.KafkaBrokers = splitAndTrim(getEnv("KAFKA_BROKERS", ""))
	return cfg
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ResponseCachePath is the SQLite file backing the revalidation cache's disk tier.
func (c Config) ResponseCachePath() string {
	return filepath.Join(c.CacheDir, "responses.db")
}

// MonthCacheDir holds one JSON envelope per cached month.
func (c Config) MonthCacheDir() string {
	return filepath.Join(c.CacheDir, "months")
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "plannersync")
	}
	return ".plannersync"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getDurationsEnv parses a comma separated list; any malformed entry selects the fallback.
func getDurationsEnv(key string, fallback []time.Duration) []time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parts := splitAndTrim(value)
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		parsed, err := time.ParseDuration(part)
		if err != nil || parsed < 0 {
			return fallback
		}
		out = append(out, parsed)
	}
	return out
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
