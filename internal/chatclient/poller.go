package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nfrund/relaychat/internal/chat"
)

// historyRequest is the body of POST /chat/messages.
type historyRequest struct {
	Topic         string `json:"topic"`
	GroupID       string `json:"group_id"`
	LastMessageID string `json:"last_message_id,omitempty"`
}

// HistoryRecord is one retained broker record as returned by the consumer side.
type HistoryRecord struct {
	Topic     string     `json:"topic"`
	Partition int32      `json:"partition"`
	Offset    int64      `json:"offset"`
	Key       *string    `json:"key"`
	Value     chat.Frame `json:"value"`
	Timestamp string     `json:"timestamp"`
}

// Message converts the record to a ChatMessage, naming it by broker position
// when the payload carries no message_id.
func (r HistoryRecord) Message() chat.ChatMessage {
	m := r.Value.ToMessage(chat.RecordID(r.Topic, r.Partition, r.Offset))
	if m.Timestamp == "" {
		m.Timestamp = r.Timestamp
	}
	if m.Type == "" {
		m.Type = chat.TypeChatMessage
	}
	return m
}

type historyResponse struct {
	Success  bool            `json:"success"`
	Messages []HistoryRecord `json:"messages"`
	Count    int             `json:"count"`
	Topic    string          `json:"topic"`
}

// Poller retrieves chat messages by periodically asking the consumer side for
// recent history. It is the polling counterpart of Client: new messages are
// deduplicated through a MessageLog and delivered to subscribers as
// EventMessage, and failed polls as EventError.
type Poller struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	log    *chat.MessageLog
	obs    observers
}

// NewPoller creates a poller. log may be shared with other sources so that a
// message seen through the push connection is not delivered twice; nil
// creates a private log.
func NewPoller(cfg Config, log *chat.MessageLog, opts ...Option) *Poller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = chat.NewMessageLog(0)
	}
	return &Poller{
		cfg:    cfg.withDefaults(),
		http:   o.httpClient,
		logger: o.logger.With("component", "poller"),
		log:    log,
	}
}

// Subscribe registers h for all future events.
func (p *Poller) Subscribe(h Handler) *Subscription {
	return p.obs.add(h)
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.obs.dispatch(Event{Kind: EventError, Err: err}, func() bool { return ctx.Err() == nil })
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll performs a single fetch and returns the messages not seen before,
// which are also delivered to subscribers.
func (p *Poller) Poll(ctx context.Context) ([]chat.ChatMessage, error) {
	reqBody := historyRequest{Topic: p.cfg.Room, GroupID: p.cfg.GroupID}
	if last, ok := p.log.Last(); ok {
		reqBody.LastMessageID = last.ID
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode history request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.ConsumerURL+HistoryPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("poll messages: unexpected status %s", resp.Status)
	}

	var result historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ParseError{Err: err}
	}
	if !result.Success {
		return nil, nil
	}

	incoming := make([]chat.ChatMessage, 0, len(result.Messages))
	for _, r := range result.Messages {
		if r.Value.Type != "" && !r.Value.IsChat() {
			continue
		}
		incoming = append(incoming, r.Message())
	}

	added := p.log.Append(incoming...)
	for i := range added {
		m := added[i]
		p.obs.dispatch(Event{Kind: EventMessage, Message: &m}, func() bool { return ctx.Err() == nil })
	}
	if len(added) > 0 {
		p.logger.Debug("Polled new messages", "count", len(added))
	}
	return added, nil
}

// Log returns the poller's message log.
func (p *Poller) Log() *chat.MessageLog {
	return p.log
}
