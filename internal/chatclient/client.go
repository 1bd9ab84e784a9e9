// Package chatclient is a resilient real-time chat client. It keeps one
// WebSocket connection open to the relay's consumer side, delivers pushed
// chat frames to subscribers, sends messages through the producer side and
// reconnects with a bounded linear backoff when the connection drops.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nfrund/relaychat/internal/chat"
)

// ErrDisconnected is returned by Connect when Disconnect interrupted it.
var ErrDisconnected = errors.New("client disconnected")

// State is the lifecycle state of the chat connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Client maintains a single logical connection to a chat relay.
//
// Every Connect and Disconnect starts a new generation. Goroutines, timers
// and dispatches carry the generation they were started under and do nothing
// once it is stale. After Disconnect returns, no delivery from a torn-down
// connection starts; one already running in a handler may still finish.
type Client struct {
	cfg    Config
	wsURL  string
	dialer Dialer
	clock  Clock
	http   *http.Client
	logger *slog.Logger
	obs    observers

	mu        sync.Mutex
	state     State
	gen       uint64
	conn      Conn
	stopRead  context.CancelFunc
	stopDial  context.CancelFunc
	timer     Timer
	attempts  int
	exhausted bool
	presence  *int
	seq       uint64
}

// New creates an idle client. Nothing is dialed until Connect.
func New(cfg Config, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.withDefaults()

	return &Client{
		cfg:    cfg,
		wsURL:  cfg.WebSocketURL(),
		dialer: o.dialer,
		clock:  o.clock,
		http:   o.httpClient,
		logger: o.logger.With("component", "chatclient"),
	}
}

// Subscribe registers h for all future events.
func (c *Client) Subscribe(h Handler) *Subscription {
	return c.obs.add(h)
}

// Connect opens the chat connection. It is a no-op while a connection is
// already being established or open. A pending reconnect is replaced by an
// immediate attempt. After the reconnect ceiling was reached, Connect starts
// a fresh retry budget.
//
// A failed attempt is reported to subscribers, returned as a *ConnectError
// and handed to the retry policy.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	if c.exhausted {
		c.attempts = 0
		c.exhausted = false
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	return c.dial(ctx, gen)
}

// Disconnect tears the connection down, cancels any pending reconnect and
// returns the client to idle. It is safe to call at any time and more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == StateOpen
	c.gen++
	c.stopTimerLocked()
	if c.stopDial != nil {
		c.stopDial()
		c.stopDial = nil
	}
	if c.stopRead != nil {
		c.stopRead()
		c.stopRead = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateIdle
	c.attempts = 0
	c.exhausted = false
	c.presence = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.logger.Info("Disconnected from chat relay")
	if wasOpen {
		c.obs.dispatch(Event{Kind: EventDisconnected}, nil)
	}
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnects made since the last successful open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// ActiveConnections returns the relay's live connection count, if the relay
// reported one on the current connection.
func (c *Client) ActiveConnections() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.presence == nil {
		return 0, false
	}
	return *c.presence, true
}

func (c *Client) dial(ctx context.Context, gen uint64) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.stopDial = cancel
	c.mu.Unlock()

	c.logger.Info("Connecting to chat relay", "url", c.wsURL)
	conn, err := c.dialer.Dial(ctx, c.wsURL)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrDisconnected
	}
	c.stopDial = nil

	if err != nil {
		c.state = StateClosed
		c.mu.Unlock()

		cerr := &ConnectError{URL: c.wsURL, Err: err}
		c.logger.Error("Failed to connect to chat relay", "url", c.wsURL, "error", err)
		c.emit(gen, Event{Kind: EventError, Err: cerr})
		c.scheduleReconnect(gen)
		return cerr
	}

	readCtx, stopRead := context.WithCancel(context.Background())
	c.state = StateOpen
	c.conn = conn
	c.stopRead = stopRead
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("Connected to chat relay", "url", c.wsURL)
	c.emit(gen, Event{Kind: EventConnected})
	go c.readLoop(readCtx, conn, gen)
	return nil
}

// readLoop delivers frames serially, in arrival order, until the connection fails.
func (c *Client) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(conn, gen, err)
			return
		}
		c.handleFrame(gen, data)
	}
}

func (c *Client) handleFrame(gen uint64, data []byte) {
	var f chat.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("Failed to parse message", "error", err)
		c.emit(gen, Event{Kind: EventError, Err: &ParseError{Frame: data, Err: err}})
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if f.ActiveConnections != nil {
		n := *f.ActiveConnections
		c.presence = &n
	}
	if !f.IsChat() {
		c.mu.Unlock()
		c.logger.Debug("Consumed non-chat frame", "type", f.Type)
		return
	}
	if f.Room != "" && f.Room != c.cfg.Room {
		c.mu.Unlock()
		c.logger.Debug("Dropped frame from another room", "room", f.Room)
		return
	}
	c.seq++
	fallbackID := syntheticID(f.Room, c.seq)
	var presence *int
	if c.presence != nil {
		n := *c.presence
		presence = &n
	}
	c.mu.Unlock()

	m := f.ToMessage(fallbackID)
	m.ActiveConnections = presence
	c.emit(gen, Event{Kind: EventMessage, Message: &m})
}

func (c *Client) handleClose(conn Conn, gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.stopRead != nil {
		c.stopRead()
		c.stopRead = nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Warn("Chat connection closed", "error", err)
	c.emit(gen, Event{Kind: EventDisconnected})
	c.scheduleReconnect(gen)
}

// scheduleReconnect applies the retry policy after a close or failed dial:
// attempt N waits N times the base delay, and the ceiling ends retrying.
func (c *Client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxAttempts {
		c.exhausted = true
		c.mu.Unlock()

		c.logger.Error("Max reconnection attempts reached", "attempts", c.cfg.MaxAttempts)
		c.emit(gen, Event{Kind: EventError, Err: ErrReconnectExhausted})
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := time.Duration(attempt) * c.cfg.BaseDelay
	c.state = StateReconnecting
	c.timer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	c.logger.Info("Attempting to reconnect", "attempt", attempt, "max", c.cfg.MaxAttempts, "delay", delay)
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = StateConnecting
	c.mu.Unlock()

	_ = c.dial(context.Background(), gen)
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Client) emit(gen uint64, ev Event) {
	c.obs.dispatch(ev, func() bool { return c.generation() == gen })
}

// syntheticID names a chat frame the relay sent without message_id. The
// sequence is per client and never reset, so ids stay unique for the session.
func syntheticID(room string, seq uint64) string {
	if room == "" {
		room = chat.DefaultRoom
	}
	return fmt.Sprintf("local-%s-%d", room, seq)
}
