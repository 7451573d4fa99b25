package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDRESS", "POSTGRES_URL", "KAFKA_BROKERS", "MOVE_EVENTS_TOPIC", "REVALIDATION_TTL", "VERIFY_BACKOFF", "CALENDAR_TIMEZONE"} {
		t.Setenv(key, "")
	}
	t.Setenv("CACHE_DIR", "/tmp/plannersync")
	cfg := Load()

	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Empty(t, cfg.PostgresURL)
	require.Empty(t, cfg.KafkaBrokers)
	require.Equal(t, "planned_workout_moved", cfg.MoveEventsTopic)
	require.Equal(t, 5*time.Minute, cfg.RevalidationTTL)
	require.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}, cfg.VerifyBackoff)
	require.Equal(t, filepath.Join("/tmp/plannersync", "months"), cfg.MonthCacheDir())
	require.Equal(t, filepath.Join("/tmp/plannersync", "responses.db"), cfg.ResponseCachePath())

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("VERIFY_BACKOFF", "10ms,20ms")
	t.Setenv("REVALIDATION_TTL", "30s")
	t.Setenv("FETCH_FANOUT", "8")
	t.Setenv("CALENDAR_TIMEZONE", "Europe/Berlin")

	cfg := Load()
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, cfg.VerifyBackoff)
	require.Equal(t, 30*time.Second, cfg.RevalidationTTL)
	require.Equal(t, 8, cfg.FetchFanout)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", loc.String())
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("VERIFY_BACKOFF", "10ms,soon")
	t.Setenv("HTTP_TIMEOUT", "forever")
	t.Setenv("FETCH_FANOUT", "many")
	t.Setenv("CALENDAR_TIMEZONE", "Mars/Olympus")

	cfg := Load()
	require.Len(t, cfg.VerifyBackoff, 3)
	require.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 4, cfg.FetchFanout)

	_, err := cfg.Location()
	require.Error(t, err)
}
