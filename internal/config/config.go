package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Client holds the settings of a chat client.
type Client struct {
	ProducerURL  string        `env:"PRODUCER_URL" envDefault:"http://localhost:8001"`
	ConsumerURL  string        `env:"CONSUMER_URL" envDefault:"http://localhost:8002"`
	Room         string        `env:"CHAT_ROOM" envDefault:"anonymous-anime-universe"`
	BaseDelay    time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"1s"`
	MaxAttempts  int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"5"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
}

// Relay holds the settings of the producer and consumer servers.
type Relay struct {
	ProducerAddr      string        `env:"PRODUCER_ADDR" envDefault:":8001"`
	ConsumerAddr      string        `env:"CONSUMER_ADDR" envDefault:":8002"`
	ChatTopic         string        `env:"CHAT_TOPIC" envDefault:"anonymous-anime-universe"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"15s"`
	HistoryLimit      int           `env:"HISTORY_LIMIT" envDefault:"1000"`
	SendRateLimit     float64       `env:"SEND_RATE_LIMIT" envDefault:"10"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Config holds all configuration for the application.
type Config struct {
	Client Client
	Relay  Relay
}

// New loads configuration from a .env file, if present, and the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return Parse()
}

// Parse reads configuration from the environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Client.MaxAttempts <= 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be positive, got %d", c.Client.MaxAttempts)
	}
	if c.Client.BaseDelay <= 0 {
		return fmt.Errorf("RECONNECT_BASE_DELAY must be positive, got %s", c.Client.BaseDelay)
	}
	if c.Relay.ChatTopic == "" {
		return fmt.Errorf("CHAT_TOPIC must not be empty")
	}
	return nil
}
