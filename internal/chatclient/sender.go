package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nfrund/relaychat/internal/chat"
)

// Health is the reachability of both relay sides.
type Health struct {
	Producer bool `json:"producer"`
	Consumer bool `json:"consumer"`
}

// SendMessage posts a message to the producer side. It does not depend on
// the chat connection and leaves local state alone; echoing the message is up
// to the caller. A failure returns false and is reported to subscribers once.
func (c *Client) SendMessage(ctx context.Context, username, text, room string) bool {
	if err := c.Send(ctx, chat.OutboundMessage{Username: username, Text: text, Room: room}); err != nil {
		c.obs.dispatch(Event{Kind: EventError, Err: err}, nil)
		return false
	}
	return true
}

// Send posts msg to the producer side and returns a *SendError on failure.
// Unlike SendMessage it does not notify subscribers.
func (c *Client) Send(ctx context.Context, msg chat.OutboundMessage) error {
	if msg.Room == "" {
		msg.Room = c.cfg.Room
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return &SendError{Err: fmt.Errorf("encode message: %w", err)}
	}

	url := c.cfg.ProducerURL + SendPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &SendError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Error sending message", "error", err)
		return &SendError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Error("Failed to send message", "status", resp.Status)
		return &SendError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.Debug("Send response was not JSON", "error", err)
		return nil
	}
	c.logger.Debug("Message sent", "message_id", result["message_id"])
	return nil
}

// Health probes GET /health on both relay sides.
func (c *Client) Health(ctx context.Context) Health {
	return Health{
		Producer: probe(ctx, c.http, c.cfg.ProducerURL+HealthPath, c.logger),
		Consumer: probe(ctx, c.http, c.cfg.ConsumerURL+HealthPath, c.logger),
	}
}

func probe(ctx context.Context, hc *http.Client, url string, logger *slog.Logger) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := hc.Do(req)
	if err != nil {
		logger.Error("Health check failed", "url", url, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}
