package pubsub

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewBroker(NewWatermillBridge(logger), NewRecordLog(100), logger)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBroker_ProduceDeliversAndRetains(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []Record
	require.NoError(t, b.Subscribe(ctx, "chat", func(ctx context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, RecordFromMessage(msg))
		return nil
	}))

	for _, v := range []string{"one", "two", "three"} {
		_, err := b.Produce(ctx, "chat", "k", []byte(v))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, rec := range got {
		assert.Equal(t, int64(i), rec.Offset)
		assert.Equal(t, "chat", rec.Topic)
		assert.Equal(t, "k", rec.Key)
		assert.False(t, rec.Timestamp.IsZero())
	}
	assert.Equal(t, "three", string(got[2].Value))
	assert.Len(t, b.Log().Read("chat", 0, 0), 3)
}

func TestBroker_Close(t *testing.T) {
	b := newTestBroker(t)
	require.True(t, b.Healthy())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.False(t, b.Healthy())
	_, err := b.Produce(context.Background(), "chat", "", []byte("x"))
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestWatermillBridge_MetadataRoundTrip(t *testing.T) {
	msg := Message{
		Topic:    "chat",
		Key:      "alice",
		Payload:  []byte(`{}`),
		Metadata: map[string]string{"offset": "7", "topic": "spoofed"},
	}
	back := mapToPubSubMessage(mapToWatermillMessage(msg))

	assert.Equal(t, "chat", back.Topic)
	assert.Equal(t, "alice", back.Key)
	assert.Equal(t, map[string]string{"offset": "7"}, back.Metadata)
}
