package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "event-booking-engine", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "pessimistic", cfg.Booking.LockStrategy)
	assert.Equal(t, 5*time.Second, cfg.Booking.LockTimeout)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=eventbooking sslmode=disable", cfg.Database.DSN())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("BOOKING_LOCK_STRATEGY", "Optimistic")
	t.Setenv("BOOKING_LOCK_TIMEOUT", "250ms")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "optimistic", cfg.Booking.LockStrategy)
	assert.Equal(t, 250*time.Millisecond, cfg.Booking.LockTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadWithPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "booking.env")
	require.NoError(t, os.WriteFile(path, []byte("REDIS_ENABLED=true\nREDIS_PORT=6380\n"), 0o600))

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr())

	_, err = LoadWithPath(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad strategy", map[string]string{"BOOKING_LOCK_STRATEGY": "mutex"}},
		{"bad port", map[string]string{"SERVER_PORT": "70000"}},
		{"default secret in production", map[string]string{"APP_ENVIRONMENT": "production"}},
		{"no attempts", map[string]string{"BOOKING_OPTIMISTIC_MAX_ATTEMPTS": "0"}},
		{"no workers", map[string]string{"BOOKING_NOTIFY_WORKERS": "0"}},
		{"kafka without brokers", map[string]string{"KAFKA_ENABLED": "true", "KAFKA_BROKERS": " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
