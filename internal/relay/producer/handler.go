// Package producer is the write side of the chat relay: it accepts chat
// sends and generic produce requests over HTTP and hands them to the broker.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/relaychat/internal/chat"
	appmiddleware "github.com/nfrund/relaychat/internal/middleware"
	"github.com/nfrund/relaychat/internal/pubsub"
)

// source tags every message enriched by /produce.
const source = "relaychat-producer"

// Broker is the part of the message broker the producer needs.
type Broker interface {
	Produce(ctx context.Context, topic, key string, value []byte) (pubsub.Record, error)
	Healthy() bool
}

// Handler holds dependencies for the producer's HTTP handlers.
type Handler struct {
	broker Broker
	now    func() time.Time
	newID  func() string
}

// NewHandler creates a producer handler publishing through b.
func NewHandler(b Broker) *Handler {
	return &Handler{
		broker: b,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Register mounts the producer routes. sendRate is the per-IP allowance for
// /chat/send in requests per second.
func (h *Handler) Register(e *echo.Echo, sendRate float64) {
	e.GET("/", h.Info)
	e.GET("/health", h.Health)
	e.POST("/chat/send", h.Send, appmiddleware.RateLimiter(sendRate))
	e.POST("/produce", h.Produce)
	e.POST("/produce/batch", h.ProduceBatch)
}

// Info describes the API.
func (h *Handler) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Chat Relay Producer API",
		"endpoints": map[string]string{
			"health":           "/health",
			"send":             "/chat/send",
			"produce":          "/produce",
			"produce in batch": "/produce/batch",
		},
	})
}

// Health reports whether the broker accepts messages.
func (h *Handler) Health(c echo.Context) error {
	ok := h.broker.Healthy()
	resp := HealthResponse{
		Status:          "healthy",
		Timestamp:       h.now().Format(time.RFC3339),
		BrokerConnected: ok,
	}
	if !ok {
		resp.Status = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// Send accepts a chat message, assigns its id and timestamp, and publishes
// it as a chat_message frame to the room's topic.
func (h *Handler) Send(c echo.Context) error {
	var req chat.OutboundMessage
	if err := c.Bind(&req); err != nil {
		return err
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Room = strings.TrimSpace(req.Room)
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Room == "" {
		req.Room = chat.DefaultRoom
	}

	ts := h.now().Format(time.RFC3339)
	frame := chat.Frame{
		Type:      chat.TypeChatMessage,
		MessageID: h.newID(),
		Username:  req.Username,
		Text:      req.Text,
		Timestamp: ts,
		Room:      req.Room,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode chat frame: %w", err)
	}

	rec, err := h.broker.Produce(c.Request().Context(), req.Room, req.Username, payload)
	if err != nil {
		appmiddleware.FromContext(c.Request().Context()).Error("Failed to produce chat message", "room", req.Room, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Failed to send message")
	}

	return c.JSON(http.StatusOK, SendResponse{
		Success:   true,
		MessageID: frame.MessageID,
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Timestamp: ts,
	})
}

// Produce publishes an arbitrary JSON object, enriched with producer metadata.
func (h *Handler) Produce(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	rec, err := h.produce(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Success:   true,
		Message:   "Message sent successfully",
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Timestamp: h.now().Format(time.RFC3339),
	})
}

// ProduceBatch publishes several produce requests in order. The whole
// batch is validated before anything is published.
func (h *Handler) ProduceBatch(c echo.Context) error {
	var reqs []MessageRequest
	if err := (&echo.DefaultBinder{}).BindBody(c, &reqs); err != nil {
		return err
	}
	for i := range reqs {
		if err := c.Validate(&reqs[i]); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("message %d: %v", i, err))
		}
	}

	results := make([]BatchResult, 0, len(reqs))
	for _, req := range reqs {
		rec, err := h.produce(c.Request().Context(), req)
		if err != nil {
			return err
		}
		results = append(results, BatchResult{
			Success: true,
			Topic:   rec.Topic,
			Offset:  rec.Offset,
			Message: "Queued for delivery",
		})
	}

	return c.JSON(http.StatusOK, BatchResponse{
		Success:      true,
		MessagesSent: len(results),
		Results:      results,
	})
}

func (h *Handler) produce(ctx context.Context, req MessageRequest) (pubsub.Record, error) {
	if req.Partition != nil && *req.Partition != 0 {
		return pubsub.Record{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("partition %d does not exist", *req.Partition))
	}
	topic := req.Topic
	if topic == "" {
		topic = DefaultProduceTopic
	}
	var key string
	if req.Key != nil {
		key = *req.Key
	}

	now := h.now()
	enhanced := make(map[string]any, len(req.Message)+3)
	for k, v := range req.Message {
		enhanced[k] = v
	}
	enhanced["timestamp"] = now.Format(time.RFC3339)
	enhanced["source"] = source
	enhanced["server_time"] = float64(now.UnixNano()) / float64(time.Second)

	payload, err := json.Marshal(enhanced)
	if err != nil {
		return pubsub.Record{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("encode message: %v", err))
	}

	rec, err := h.broker.Produce(ctx, topic, key, payload)
	if err != nil {
		return pubsub.Record{}, echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to produce message: %v", err))
	}
	return rec, nil
}
