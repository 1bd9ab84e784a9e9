package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Metadata keys describing a record's position, set on every produced message.
const (
	MetaPartition = "partition"
	MetaOffset    = "offset"
	MetaTimestamp = "timestamp"
)

// ErrBrokerClosed is returned by Produce after Close.
var ErrBrokerClosed = errors.New("broker closed")

// Broker is the relay's message broker: every produced message is retained in
// a RecordLog at a fresh offset and then published on the bus for live
// subscribers.
type Broker struct {
	bus    PubSub
	log    *RecordLog
	logger *slog.Logger
	now    func() time.Time

	// produceMu keeps offset order and publish order the same.
	produceMu sync.Mutex
	closed    atomic.Bool
}

// NewBroker creates a broker over bus, retaining records in log.
func NewBroker(bus PubSub, log *RecordLog, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		bus:    bus,
		log:    log,
		logger: logger.With("component", "broker"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Produce appends value to topic and publishes it.
func (b *Broker) Produce(ctx context.Context, topic, key string, value []byte) (Record, error) {
	if b.closed.Load() {
		return Record{}, ErrBrokerClosed
	}

	b.produceMu.Lock()
	defer b.produceMu.Unlock()

	rec := b.log.Append(topic, key, value, b.now())
	msg := Message{
		Topic:   topic,
		Key:     key,
		Payload: value,
		Metadata: map[string]string{
			MetaPartition: strconv.FormatInt(int64(rec.Partition), 10),
			MetaOffset:    strconv.FormatInt(rec.Offset, 10),
			MetaTimestamp: rec.Timestamp.Format(time.RFC3339Nano),
		},
	}
	if err := b.bus.Publish(ctx, msg); err != nil {
		return rec, fmt.Errorf("publish to %s: %w", topic, err)
	}
	b.logger.Debug("Message delivered", "topic", topic, "partition", rec.Partition, "offset", rec.Offset)
	return rec, nil
}

// Subscribe delivers every message produced to topic from now on.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.bus.Subscribe(ctx, topic, handler)
}

// Log returns the retained records.
func (b *Broker) Log() *RecordLog {
	return b.log
}

// Healthy reports whether the broker still accepts messages.
func (b *Broker) Healthy() bool {
	return !b.closed.Load()
}

// Close stops the broker and its bus.
func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.bus.Close()
}

// RecordFromMessage rebuilds a Record from a message delivered by the broker.
func RecordFromMessage(msg Message) Record {
	rec := Record{Topic: msg.Topic, Key: msg.Key, Value: msg.Payload}
	if p, err := strconv.ParseInt(msg.Metadata[MetaPartition], 10, 32); err == nil {
		rec.Partition = int32(p)
	}
	if o, err := strconv.ParseInt(msg.Metadata[MetaOffset], 10, 64); err == nil {
		rec.Offset = o
	}
	if ts, err := time.Parse(time.RFC3339Nano, msg.Metadata[MetaTimestamp]); err == nil {
		rec.Timestamp = ts
	}
	return rec
}

// Shutdown closes the broker when its owning container shuts down.
func (b *Broker) Shutdown() error {
	return b.Close()
}
