package chatclient

import (
	"sync"
	"sync/atomic"

	"github.com/nfrund/relaychat/internal/chat"
)

// EventKind identifies what happened.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to every active subscription. Message is set for
// EventMessage, Err for EventError.
type Event struct {
	Kind    EventKind
	Message *chat.ChatMessage
	Err     error
}

// Handler receives events. Handlers are called serially per source and must
// not block for long; hosts marshal onto their own UI loop if needed.
type Handler func(Event)

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	handler Handler
	active  atomic.Bool
	owner   *observers
}

// Unsubscribe revokes the subscription. Once it returns no new delivery to the
// handler starts; a delivery already in progress on another goroutine may
// still finish. It may be called from within the handler and more than once.
func (s *Subscription) Unsubscribe() {
	if !s.active.Swap(false) {
		return
	}
	s.owner.remove(s)
}

// observers is the registry of subscriptions shared by Client and Poller.
type observers struct {
	mu   sync.RWMutex
	subs []*Subscription
}

func (o *observers) add(h Handler) *Subscription {
	s := &Subscription{handler: h, owner: o}
	s.active.Store(true)

	o.mu.Lock()
	o.subs = append(o.subs, s)
	o.mu.Unlock()
	return s
}

func (o *observers) remove(s *Subscription) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, sub := range o.subs {
		if sub == s {
			o.subs = append(o.subs[:i], o.subs[i+1:]...)
			return
		}
	}
}

// dispatch delivers ev to every active subscription while live reports true.
// live is checked before each handler so a teardown between two handlers
// stops the remaining deliveries.
func (o *observers) dispatch(ev Event, live func() bool) {
	o.mu.RLock()
	subs := make([]*Subscription, len(o.subs))
	copy(subs, o.subs)
	o.mu.RUnlock()

	for _, s := range subs {
		if live != nil && !live() {
			return
		}
		if !s.active.Load() {
			continue
		}
		s.handler(ev)
	}
}

func (o *observers) len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}
