package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/relaychat/internal/chat"
)

const (
	// DefaultHeartbeat is how often each connection receives a heartbeat frame.
	DefaultHeartbeat = 15 * time.Second

	writeTimeout = 10 * time.Second
	sendBuffer   = 256
)

// wsClient is a single connected WebSocket client.
type wsClient struct {
	id   string
	room string
	conn *websocket.Conn
	// send is a buffered channel of outbound frames for this client.
	send chan []byte
	hub  *Hub
}

// delivery is a frame bound for the clients of one room.
type delivery struct {
	room  string
	frame chat.Frame
}

// Hub owns the set of live chat connections and fans frames out to them.
type Hub struct {
	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan delivery

	active    atomic.Int64
	heartbeat time.Duration
	logger    *slog.Logger

	// done is closed when Run returns.
	done     chan struct{}
	doneOnce sync.Once
}

// NewHub creates a hub. A heartbeat of zero uses DefaultHeartbeat.
func NewHub(logger *slog.Logger, heartbeat time.Duration) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Hub{
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan delivery, sendBuffer),
		heartbeat:  heartbeat,
		logger:     logger.With("component", "hub"),
		done:       make(chan struct{}),
	}
}

// Run manages client registration and fan-out until ctx is canceled. On
// return every client's send channel is closed, which closes its connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Chat hub started")
	defer func() {
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.active.Store(0)
		h.doneOnce.Do(func() { close(h.done) })
		h.logger.Info("Chat hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.active.Store(int64(len(h.clients)))
			h.logger.Info("Client connected", "client_id", c.id, "room", c.room, "active_connections", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.active.Store(int64(len(h.clients)))
				h.logger.Info("Client disconnected", "client_id", c.id, "active_connections", len(h.clients))
			}

		case d := <-h.broadcast:
			frame := d.frame
			n := len(h.clients)
			frame.ActiveConnections = &n
			payload, err := json.Marshal(frame)
			if err != nil {
				h.logger.Error("Failed to encode frame", "error", err)
				continue
			}
			for c := range h.clients {
				if c.room != d.room {
					continue
				}
				select {
				case c.send <- payload:
				default:
					h.logger.Warn("Client send channel full, dropping frame", "client_id", c.id)
				}
			}
			h.logger.Debug("Broadcasted", "room", d.room, "username", frame.Username, "active_connections", n)
		}
	}
}

// Broadcast queues frame for every client joined to room, stamped with the
// current connection count. It blocks while the hub is busy and returns
// false once the hub has stopped or ctx is done.
func (h *Hub) Broadcast(ctx context.Context, room string, frame chat.Frame) bool {
	select {
	case h.broadcast <- delivery{room: room, frame: frame}:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// ActiveConnections returns the number of registered clients.
func (h *Hub) ActiveConnections() int {
	return int(h.active.Load())
}

// acceptOptions builds the upgrade options for allowedOrigins; empty or "*"
// allows any origin.
func acceptOptions(allowedOrigins []string) *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = allowedOrigins
	}
	return opts
}

// Serve upgrades the request to a WebSocket and joins it to room until the
// connection closes. Frames sent by the client are read and discarded.
func (h *Hub) Serve(c echo.Context, room string, opts *websocket.AcceptOptions) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		h.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return nil
	}

	client := &wsClient{
		id:   uuid.NewString(),
		room: room,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return nil
	}

	go client.writePump()
	client.readPump()
	return nil
}

// readPump drains inbound frames until the connection closes, then
// unregisters the client.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				c.hub.logger.Debug("WebSocket closed by client", "client_id", c.id)
			} else if !errors.Is(err, context.Canceled) {
				c.hub.logger.Debug("WebSocket read ended", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

// writePump writes queued frames and periodic heartbeats to the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.hub.heartbeat)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(payload); err != nil {
				c.hub.logger.Debug("WebSocket write error", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			n := c.hub.ActiveConnections()
			payload, _ := json.Marshal(chat.Frame{Type: chat.TypeHeartbeat, ActiveConnections: &n})
			if err := c.write(payload); err != nil {
				c.hub.logger.Debug("Heartbeat failed", "client_id", c.id, "error", err)
				return
			}
		}
	}
}

func (c *wsClient) write(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}
