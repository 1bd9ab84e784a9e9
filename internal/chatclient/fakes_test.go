package chatclient

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// fakeConn is an in-memory Conn fed by push and ended by drop.
type fakeConn struct {
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) push(frame string) { c.frames <- []byte(frame) }

// drop simulates the relay going away.
func (c *fakeConn) drop() { c.Close() }

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// fakeDialer hands out queued results in order, failing once the queue is empty.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
	urls    []string
}

type dialResult struct {
	conn *fakeConn
	err  error
}

var errUnreachable = errors.New("network unreachable")

func (d *fakeDialer) queue(results ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, results...)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if len(d.results) == 0 {
		return nil, errUnreachable
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) dialedURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// blockingDialer holds every dial open until a connection is released to it
// or the dial is canceled.
type blockingDialer struct {
	mu      sync.Mutex
	dials   int
	started chan struct{}
	release chan Conn
}

func newBlockingDialer() *blockingDialer {
	return &blockingDialer{started: make(chan struct{}, 8), release: make(chan Conn)}
}

func (d *blockingDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	d.started <- struct{}{}

	select {
	case conn := <-d.release:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *blockingDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// manualClock records scheduled reconnects and fires them on demand.
type manualClock struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []*manualTimer
}

type manualTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{f: f}
	c.delays = append(c.delays, d)
	c.pending = append(c.pending, t)
	return t
}

// fireNext runs the oldest unfired timer, even if it was stopped, to model
// a timer that raced its cancellation. It reports whether one existed.
func (c *manualClock) fireNext() bool {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return false
	}
	t := c.pending[0]
	c.pending = c.pending[1:]
	c.mu.Unlock()

	t.mu.Lock()
	t.fired = true
	f := t.f
	t.mu.Unlock()
	f()
	return true
}

func (c *manualClock) scheduled() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.delays))
	copy(out, c.delays)
	return out
}

// allStopped reports whether every unfired timer has been stopped.
func (c *manualClock) allStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.pending {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			return false
		}
	}
	return true
}

func (c *manualClock) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// recorder collects events in order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func newRecorder() *recorder {
	return &recorder{}
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) of(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
