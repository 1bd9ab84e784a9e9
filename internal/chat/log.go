package chat

import "sync"

// MessageLog is the session-local, ordered list of messages shown to a user.
// Every id is accepted at most once for the life of the log, including ids
// whose messages have since been evicted.
type MessageLog struct {
	mu       sync.RWMutex
	limit    int
	messages []ChatMessage
	seen     map[string]struct{}
}

// NewMessageLog creates a log that keeps at most limit messages. A limit of
// zero or less keeps everything.
func NewMessageLog(limit int) *MessageLog {
	return &MessageLog{
		limit: limit,
		seen:  make(map[string]struct{}),
	}
}

// Append adds the messages whose ids have not been seen before and returns
// them in the order they were added. Messages without an id are rejected.
func (l *MessageLog) Append(msgs ...ChatMessage) []ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	var added []ChatMessage
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, dup := l.seen[m.ID]; dup {
			continue
		}
		l.seen[m.ID] = struct{}{}
		l.messages = append(l.messages, m)
		added = append(added, m)
	}

	if l.limit > 0 && len(l.messages) > l.limit {
		drop := len(l.messages) - l.limit
		l.messages = append([]ChatMessage(nil), l.messages[drop:]...)
	}
	return added
}

// Contains reports whether id has ever been appended.
func (l *MessageLog) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[id]
	return ok
}

// Messages returns a copy of the retained messages, oldest first.
func (l *MessageLog) Messages() []ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of retained messages.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last returns the most recently appended message, if any.
func (l *MessageLog) Last() (ChatMessage, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return ChatMessage{}, false
	}
	return l.messages[len(l.messages)-1], true
}
