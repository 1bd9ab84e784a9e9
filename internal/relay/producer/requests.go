package producer

// DefaultProduceTopic is used by /produce when the request names no topic.
const DefaultProduceTopic = "test-topic"

// MessageRequest is one generic produce request.
type MessageRequest struct {
	Topic     string         `json:"topic" validate:"max=249"`
	Key       *string        `json:"key,omitempty"`
	Message   map[string]any `json:"message" validate:"required"`
	Partition *int32         `json:"partition,omitempty"`
}

// MessageResponse reports where a produced message landed.
type MessageResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
	Timestamp string `json:"timestamp"`
}

// SendResponse is returned by /chat/send.
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
	Timestamp string `json:"timestamp"`
}

// BatchResult is the outcome of one message of a batch.
type BatchResult struct {
	Success bool   `json:"success"`
	Topic   string `json:"topic"`
	Offset  int64  `json:"offset"`
	Message string `json:"message"`
}

// BatchResponse is returned by /produce/batch.
type BatchResponse struct {
	Success      bool          `json:"success"`
	MessagesSent int           `json:"messages_sent"`
	Results      []BatchResult `json:"results"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
	BrokerConnected bool   `json:"broker_connected"`
}
