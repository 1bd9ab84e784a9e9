package consumer

import (
	"encoding/json"
	"time"

	"github.com/nfrund/relaychat/internal/pubsub"
)

// Defaults applied to consume and history requests.
const (
	DefaultConsumeTopic = "test-topic"
	DefaultConsumeGroup = "relaychat-consumer-api-group"
	DefaultMaxMessages  = 10
	DefaultTimeout      = 5.0

	// HistoryLimit caps the records returned by one history request.
	HistoryLimit = 50
	// MaxTimeout caps how long /consume waits for new records, in seconds.
	MaxTimeout = 30.0
)

// ConsumeRequest is the body of /consume.
type ConsumeRequest struct {
	Topic       string   `json:"topic" validate:"max=249"`
	GroupID     string   `json:"group_id" validate:"max=255"`
	MaxMessages *int     `json:"max_messages,omitempty" validate:"omitempty,min=1,max=1000"`
	Timeout     *float64 `json:"timeout,omitempty" validate:"omitempty,min=0"`
}

// ChatMessagesRequest is the body of /chat/messages.
type ChatMessagesRequest struct {
	Topic         string `json:"topic" validate:"max=249"`
	GroupID       string `json:"group_id" validate:"max=255"`
	LastMessageID string `json:"last_message_id,omitempty"`
}

// JoinRequest carries the query of /ws/chat.
type JoinRequest struct {
	Room string `query:"room" validate:"max=128"`
}

// MessageInfo is one retained record as returned to HTTP readers.
type MessageInfo struct {
	Topic     string          `json:"topic"`
	Partition int32           `json:"partition"`
	Offset    int64           `json:"offset"`
	Key       *string         `json:"key"`
	Value     json.RawMessage `json:"value"`
	Timestamp string          `json:"timestamp"`
}

// ConsumeResponse is returned by /consume.
type ConsumeResponse struct {
	Success  bool          `json:"success"`
	Messages []MessageInfo `json:"messages"`
	Count    int           `json:"count"`
	Topic    string        `json:"topic"`
	GroupID  string        `json:"group_id"`
}

// ChatMessagesResponse is returned by /chat/messages.
type ChatMessagesResponse struct {
	Success  bool          `json:"success"`
	Messages []MessageInfo `json:"messages"`
	Count    int           `json:"count"`
	Topic    string        `json:"topic"`
}

// TopicInfo describes one topic in /topics.
type TopicInfo struct {
	Topic      string `json:"topic"`
	Partitions int    `json:"partitions"`
	Records    int    `json:"records"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Timestamp         string `json:"timestamp"`
	BrokerConnected   bool   `json:"broker_connected"`
	ActiveConnections int    `json:"active_connections"`
}

func messageInfo(rec pubsub.Record) MessageInfo {
	info := MessageInfo{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Value:     json.RawMessage(rec.Value),
		Timestamp: rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if rec.Key != "" {
		key := rec.Key
		info.Key = &key
	}
	return info
}
