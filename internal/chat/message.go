package chat

import "fmt"

// DefaultRoom is the room a message lands in when the sender does not name one.
const DefaultRoom = "anonymous-anime-universe"

// MaxTextLength is the soft limit on message body length, in characters.
// Clients warn past it; the relay does not enforce it.
const MaxTextLength = 500

// Frame type tags carried in the "type" field of every relay frame.
const (
	TypeChatMessage = "chat_message"
	TypeHeartbeat   = "heartbeat"
)

// ChatMessage is a chat message as delivered to observers and held in local state.
type ChatMessage struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Room      string `json:"room"`
	Type      string `json:"type"`
	// ActiveConnections is the relay's live connection count as last reported
	// on the connection, when the relay provides one.
	ActiveConnections *int `json:"active_connections,omitempty"`
}

// OutboundMessage is the body of a send request. The relay assigns id and timestamp.
type OutboundMessage struct {
	Username string `json:"username" validate:"required,maxrunes=64"`
	Text     string `json:"text" validate:"required"`
	Room     string `json:"room" validate:"max=128"`
}

// Frame is the JSON schema of a single frame pushed over the chat connection.
type Frame struct {
	Type              string `json:"type"`
	MessageID         string `json:"message_id,omitempty"`
	Username          string `json:"username,omitempty"`
	Text              string `json:"text,omitempty"`
	Timestamp         string `json:"timestamp,omitempty"`
	Room              string `json:"room,omitempty"`
	ActiveConnections *int   `json:"active_connections,omitempty"`
}

// IsChat reports whether the frame carries a chat message.
func (f Frame) IsChat() bool {
	return f.Type == TypeChatMessage
}

// ToMessage normalizes a chat frame into a ChatMessage. fallbackID is used
// when the relay omitted message_id.
func (f Frame) ToMessage(fallbackID string) ChatMessage {
	id := f.MessageID
	if id == "" {
		id = fallbackID
	}
	return ChatMessage{
		ID:                id,
		Username:          f.Username,
		Text:              f.Text,
		Timestamp:         f.Timestamp,
		Room:              f.Room,
		Type:              f.Type,
		ActiveConnections: f.ActiveConnections,
	}
}

// RecordID builds the id of a message that only has a broker position,
// in the "topic-partition-offset" form.
func RecordID(topic string, partition int32, offset int64) string {
	return fmt.Sprintf("%s-%d-%d", topic, partition, offset)
}
