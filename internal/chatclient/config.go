package chatclient

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nfrund/relaychat/internal/chat"
)

// Default relay addresses point at local development ports.
const (
	DefaultProducerURL = "http://localhost:8001"
	DefaultConsumerURL = "http://localhost:8002"

	// ChatPath is the connection endpoint on the consumer side.
	ChatPath = "/ws/chat"
	// SendPath is the send endpoint on the producer side.
	SendPath = "/chat/send"
	// HistoryPath is the polling endpoint on the consumer side.
	HistoryPath = "/chat/messages"
	// HealthPath is served by both sides.
	HealthPath = "/health"

	DefaultBaseDelay    = time.Second
	DefaultMaxAttempts  = 5
	DefaultDialTimeout  = 10 * time.Second
	DefaultPollInterval = 2 * time.Second
	DefaultGroupID      = "chat-consumer-group"
)

// Config holds the addresses and retry settings of a chat client.
type Config struct {
	// ProducerURL is the base address of the write side.
	ProducerURL string
	// ConsumerURL is the base address of the read side.
	ConsumerURL string
	// Room is the room the client joins. Sends that name no room go to it.
	Room string

	BaseDelay    time.Duration
	MaxAttempts  int
	DialTimeout  time.Duration
	PollInterval time.Duration
	GroupID      string
}

func (c Config) withDefaults() Config {
	if c.ProducerURL == "" {
		c.ProducerURL = DefaultProducerURL
	}
	if c.ConsumerURL == "" {
		c.ConsumerURL = DefaultConsumerURL
	}
	c.ProducerURL = strings.TrimRight(c.ProducerURL, "/")
	c.ConsumerURL = strings.TrimRight(c.ConsumerURL, "/")
	if c.Room == "" {
		c.Room = chat.DefaultRoom
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.GroupID == "" {
		c.GroupID = DefaultGroupID
	}
	return c
}

// WebSocketURL derives the chat connection address from the consumer base:
// http becomes ws and https becomes wss. The room, when set, is passed as
// the room query parameter.
func (c Config) WebSocketURL() string {
	base := strings.TrimRight(c.ConsumerURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if c.Room == "" {
		return base + ChatPath
	}
	return base + ChatPath + "?room=" + url.QueryEscape(c.Room)
}

// Option configures a Client or Poller.
type Option func(*options)

type options struct {
	dialer     Dialer
	clock      Clock
	httpClient *http.Client
	logger     *slog.Logger
}

func defaultOptions() options {
	return options{
		dialer:     WebSocketDialer{},
		clock:      realClock{},
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithClock replaces the clock used to schedule reconnects.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithHTTPClient sets the client used for send, poll and health requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
