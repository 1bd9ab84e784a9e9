package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8001", cfg.Client.ProducerURL)
	assert.Equal(t, "http://localhost:8002", cfg.Client.ConsumerURL)
	assert.Equal(t, time.Second, cfg.Client.BaseDelay)
	assert.Equal(t, 5, cfg.Client.MaxAttempts)
	assert.Equal(t, ":8001", cfg.Relay.ProducerAddr)
	assert.Equal(t, 15*time.Second, cfg.Relay.HeartbeatInterval)
	assert.Equal(t, []string{"*"}, cfg.Relay.AllowedOrigins)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("PRODUCER_URL", "https://producer.example.com")
	t.Setenv("CONSUMER_URL", "https://consumer.example.com")
	t.Setenv("RECONNECT_BASE_DELAY", "250ms")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "https://producer.example.com", cfg.Client.ProducerURL)
	assert.Equal(t, "https://consumer.example.com", cfg.Client.ConsumerURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.BaseDelay)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Relay.AllowedOrigins)
}

func TestParse_Invalid(t *testing.T) {
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("RECONNECT_BASE_DELAY", "soon")
		_, err := Parse()
		assert.Error(t, err)
	})

	t.Run("non-positive attempts", func(t *testing.T) {
		t.Setenv("RECONNECT_MAX_ATTEMPTS", "0")
		_, err := Parse()
		assert.ErrorContains(t, err, "RECONNECT_MAX_ATTEMPTS")
	})
}
