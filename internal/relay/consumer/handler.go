// Package consumer is the read side of the chat relay. It pushes chat frames
// to WebSocket clients as they are produced and serves retained messages
// over HTTP for clients that poll.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/relaychat/internal/chat"
	"github.com/nfrund/relaychat/internal/pubsub"
)

// Broker is the part of the message broker the consumer needs.
type Broker interface {
	Subscribe(ctx context.Context, topic string, handler pubsub.Handler) error
	Log() *pubsub.RecordLog
	Healthy() bool
}

// errNotStarted is returned when a room is joined before Start.
var errNotStarted = errors.New("consumer not started")

// Options configures a Handler.
type Options struct {
	// Topics are relayed to WebSocket clients from Start on. The first is the
	// room of clients that name none. Empty relays the default room. Other
	// rooms are followed when a client first joins them.
	Topics []string
	// AllowedOrigins restricts WebSocket upgrades; empty or "*" allows any.
	AllowedOrigins []string
	// PollEvery is how often /consume checks for new records while waiting.
	PollEvery time.Duration
}

// Handler holds dependencies for the consumer's HTTP handlers.
type Handler struct {
	broker Broker
	hub    *Hub
	opts   Options
	accept *websocket.AcceptOptions
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	ctx       context.Context
	following map[string]bool
}

// NewHandler creates a consumer handler reading from b and pushing through hub.
func NewHandler(b Broker, hub *Hub, logger *slog.Logger, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Topics) == 0 {
		opts.Topics = []string{chat.DefaultRoom}
	}
	if opts.PollEvery <= 0 {
		opts.PollEvery = 50 * time.Millisecond
	}
	return &Handler{
		broker:    b,
		hub:       hub,
		opts:      opts,
		accept:    acceptOptions(opts.AllowedOrigins),
		logger:    logger.With("component", "consumer"),
		now:       func() time.Time { return time.Now().UTC() },
		following: make(map[string]bool),
	}
}

// Start subscribes the hub to the chat topics. Deliveries stop when ctx is
// canceled, including those of rooms followed later.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	for _, topic := range h.opts.Topics {
		if err := h.follow(topic); err != nil {
			return err
		}
	}
	return nil
}

// follow subscribes the hub to room's topic once.
func (h *Handler) follow(room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.following[room] {
		return nil
	}
	if h.ctx == nil {
		return errNotStarted
	}
	if err := h.broker.Subscribe(h.ctx, room, h.relay); err != nil {
		return fmt.Errorf("subscribe to %s: %w", room, err)
	}
	h.following[room] = true
	h.logger.Info("Relaying chat topic to WebSocket clients", "topic", room)
	return nil
}

// relay forwards chat_message records to the hub. Anything else on the
// topic is skipped.
func (h *Handler) relay(ctx context.Context, msg pubsub.Message) error {
	rec := pubsub.RecordFromMessage(msg)
	frame, ok := chatFrame(rec)
	if !ok {
		return nil
	}
	if !h.hub.Broadcast(ctx, rec.Topic, frame) {
		h.logger.Warn("Hub stopped, frame not relayed", "topic", rec.Topic, "offset", rec.Offset)
	}
	return nil
}

// chatFrame decodes rec as a chat frame, naming it by position when it
// carries no message_id.
func chatFrame(rec pubsub.Record) (chat.Frame, bool) {
	var frame chat.Frame
	if err := json.Unmarshal(rec.Value, &frame); err != nil || !frame.IsChat() {
		return chat.Frame{}, false
	}
	if frame.MessageID == "" {
		frame.MessageID = chat.RecordID(rec.Topic, rec.Partition, rec.Offset)
	}
	if frame.Timestamp == "" && !rec.Timestamp.IsZero() {
		frame.Timestamp = rec.Timestamp.UTC().Format(time.RFC3339)
	}
	if frame.Room == "" {
		frame.Room = rec.Topic
	}
	return frame, true
}

// Register mounts the consumer routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/", h.Status)
	e.GET("/api", h.Info)
	e.GET("/health", h.Health)
	e.GET("/topics", h.Topics)
	e.POST("/consume", h.Consume)
	e.POST("/chat/messages", h.ChatMessages)
	e.GET("/ws/chat", h.Chat)
}

// Chat joins a WebSocket client to the room named by the room query
// parameter, or to the first relayed topic when none is given.
func (h *Handler) Chat(c echo.Context) error {
	var req JoinRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	room := strings.TrimSpace(req.Room)
	if room == "" {
		room = h.opts.Topics[0]
	}
	if err := h.follow(room); err != nil {
		h.logger.Error("Failed to follow room", "room", room, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "room unavailable")
	}
	return h.hub.Serve(c, room, h.accept)
}

// Info describes the API.
func (h *Handler) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Chat Relay Consumer API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":  "/health",
			"consume": "/consume",
			"topics":  "/topics",
			"chat":    "/chat/messages",
			"ws":      "/ws/chat",
		},
	})
}

// Health reports broker availability and the live connection count.
func (h *Handler) Health(c echo.Context) error {
	ok := h.broker.Healthy()
	resp := HealthResponse{
		Status:            "healthy",
		Timestamp:         h.now().Format(time.RFC3339),
		BrokerConnected:   ok,
		ActiveConnections: h.hub.ActiveConnections(),
	}
	if !ok {
		resp.Status = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// Topics lists retained topics.
func (h *Handler) Topics(c echo.Context) error {
	infos := h.broker.Log().Topics()
	out := make([]TopicInfo, 0, len(infos))
	for _, t := range infos {
		out = append(out, TopicInfo{Topic: t.Name, Partitions: t.Partitions, Records: t.Records})
	}
	return c.JSON(http.StatusOK, out)
}

// Consume returns records of a topic from the group's committed position
// and advances it. When nothing is available it waits up to the request
// timeout for new records.
func (h *Handler) Consume(c echo.Context) error {
	var req ConsumeRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Topic == "" {
		req.Topic = DefaultConsumeTopic
	}
	if req.GroupID == "" {
		req.GroupID = DefaultConsumeGroup
	}
	limit := DefaultMaxMessages
	if req.MaxMessages != nil {
		limit = *req.MaxMessages
	}
	timeout := DefaultTimeout
	if req.Timeout != nil {
		timeout = *req.Timeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	log := h.broker.Log()
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Duration(timeout*float64(time.Second)))
	defer cancel()

	from := log.Committed(req.GroupID, req.Topic)
	records := log.Read(req.Topic, from, limit)
	if len(records) == 0 {
		records = h.await(ctx, log, req.Topic, from, limit)
	}

	msgs := make([]MessageInfo, 0, len(records))
	for _, rec := range records {
		if !json.Valid(rec.Value) {
			continue
		}
		msgs = append(msgs, messageInfo(rec))
	}
	if n := len(records); n > 0 {
		log.Commit(req.GroupID, req.Topic, records[n-1].Offset+1)
	}

	return c.JSON(http.StatusOK, ConsumeResponse{
		Success:  true,
		Messages: msgs,
		Count:    len(msgs),
		Topic:    req.Topic,
		GroupID:  req.GroupID,
	})
}

func (h *Handler) await(ctx context.Context, log *pubsub.RecordLog, topic string, from int64, limit int) []pubsub.Record {
	ticker := time.NewTicker(h.opts.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if records := log.Read(topic, from, limit); len(records) > 0 {
				return records
			}
		}
	}
}

// ChatMessages returns retained chat messages of a topic. With a known
// last_message_id it returns the messages after it; otherwise those among
// the most recent HistoryLimit records. At most HistoryLimit messages are
// returned.
func (h *Handler) ChatMessages(c echo.Context) error {
	var req ChatMessagesRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Topic = strings.TrimSpace(req.Topic); req.Topic == "" {
		req.Topic = chat.DefaultRoom
	}

	log := h.broker.Log()
	var records []pubsub.Record
	found := false
	if req.LastMessageID != "" {
		records, found = after(log.Read(req.Topic, 0, 0), req.LastMessageID)
	}
	if !found {
		records = log.Tail(req.Topic, HistoryLimit)
	}

	msgs := make([]MessageInfo, 0, len(records))
	for _, rec := range records {
		if len(msgs) == HistoryLimit {
			break
		}
		if _, ok := chatFrame(rec); ok {
			msgs = append(msgs, messageInfo(rec))
		}
	}
	return c.JSON(http.StatusOK, ChatMessagesResponse{
		Success:  true,
		Messages: msgs,
		Count:    len(msgs),
		Topic:    req.Topic,
	})
}

// after returns the records following the chat message named id.
func after(records []pubsub.Record, id string) ([]pubsub.Record, bool) {
	for i, rec := range records {
		if frame, ok := chatFrame(rec); ok && frame.MessageID == id {
			return records[i+1:], true
		}
	}
	return nil, false
}
