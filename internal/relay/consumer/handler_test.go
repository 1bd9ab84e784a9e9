package consumer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/relaychat/internal/chat"
	"github.com/nfrund/relaychat/internal/pubsub"
	"github.com/nfrund/relaychat/internal/server"
)

const room = "lobby"

type fixture struct {
	broker *pubsub.Broker
	hub    *Hub
	srv    *httptest.Server
}

func newFixture(t *testing.T, heartbeat time.Duration) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := pubsub.NewBroker(pubsub.NewWatermillBridge(logger), pubsub.NewRecordLog(100), logger)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger, heartbeat)
	go hub.Run(ctx)

	h := NewHandler(b, hub, logger, Options{Topics: []string{room}, PollEvery: 5 * time.Millisecond})
	require.NoError(t, h.Start(ctx))

	s := server.New("consumer-test", server.Options{})
	h.Register(s.E)
	srv := httptest.NewServer(s.E)

	t.Cleanup(func() {
		cancel()
		srv.Close()
		b.Close()
	})
	return &fixture{broker: b, hub: hub, srv: srv}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	return f.dialRoom(t, "")
}

func (f *fixture) dialRoom(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/chat"
	if name != "" {
		url += "?room=" + name
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(context.Background(), url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) produce(t *testing.T, topic string, v any) pubsub.Record {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	rec, err := f.broker.Produce(context.Background(), topic, "k", payload)
	require.NoError(t, err)
	return rec
}

func (f *fixture) post(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func chatFrameFor(id, text string) chat.Frame {
	return chat.Frame{Type: chat.TypeChatMessage, MessageID: id, Username: "ana", Text: text, Timestamp: "2024-05-01T12:00:00Z", Room: room}
}

func readFrame(t *testing.T, conn *websocket.Conn) chat.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame chat.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestWebSocket_RelaysChatFrames(t *testing.T) {
	f := newFixture(t, time.Hour)
	a := f.dial(t)
	b := f.dial(t)
	require.Eventually(t, func() bool { return f.hub.ActiveConnections() == 2 }, 2*time.Second, 5*time.Millisecond)

	f.produce(t, room, map[string]string{"type": "system", "text": "ignored"})
	f.produce(t, room, chatFrameFor("m1", "first"))
	rec := f.produce(t, room, map[string]string{"type": chat.TypeChatMessage, "username": "bo", "text": "second"})

	for _, conn := range []*websocket.Conn{a, b} {
		first := readFrame(t, conn)
		assert.Equal(t, "m1", first.MessageID)
		assert.Equal(t, "first", first.Text)
		require.NotNil(t, first.ActiveConnections)
		assert.Equal(t, 2, *first.ActiveConnections)

		second := readFrame(t, conn)
		assert.Equal(t, chat.RecordID(room, 0, rec.Offset), second.MessageID)
		assert.Equal(t, room, second.Room)
		assert.NotEmpty(t, second.Timestamp)
	}
}

func TestWebSocket_FramesStayInTheirRoom(t *testing.T) {
	f := newFixture(t, time.Hour)
	lobby := f.dial(t)
	side := f.dialRoom(t, "side")
	require.Eventually(t, func() bool { return f.hub.ActiveConnections() == 2 }, 2*time.Second, 5*time.Millisecond)

	f.produce(t, "side", map[string]string{"type": chat.TypeChatMessage, "username": "bo", "text": "in side"})
	f.produce(t, room, chatFrameFor("m1", "in lobby"))

	got := readFrame(t, side)
	assert.Equal(t, "in side", got.Text)
	assert.Equal(t, "side", got.Room)

	got = readFrame(t, lobby)
	assert.Equal(t, "in lobby", got.Text, "the side room's frame is not delivered to the lobby")
}

func TestWebSocket_RejectsLongRoomName(t *testing.T) {
	f := newFixture(t, time.Hour)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/chat?room=" + strings.Repeat("r", 129)

	_, resp, err := websocket.DefaultDialer.DialContext(context.Background(), url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, f.hub.ActiveConnections())
}

func TestChat_BeforeStartIsUnavailable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := pubsub.NewBroker(pubsub.NewWatermillBridge(logger), pubsub.NewRecordLog(10), logger)
	defer b.Close()
	h := NewHandler(b, NewHub(logger, time.Hour), logger, Options{})

	s := server.New("consumer-test", server.Options{})
	h.Register(s.E)
	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebSocket_Heartbeat(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	conn := f.dial(t)

	frame := readFrame(t, conn)
	assert.Equal(t, chat.TypeHeartbeat, frame.Type)
	require.NotNil(t, frame.ActiveConnections)
	assert.Equal(t, 1, *frame.ActiveConnections)
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	f := newFixture(t, time.Hour)
	conn := f.dial(t)
	require.Eventually(t, func() bool { return f.hub.ActiveConnections() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	assert.Eventually(t, func() bool { return f.hub.ActiveConnections() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestChatMessages(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.produce(t, room, chatFrameFor("m1", "one"))
	f.produce(t, room, map[string]string{"type": "system"})
	f.produce(t, room, chatFrameFor("m2", "two"))
	f.produce(t, room, chatFrameFor("m3", "three"))

	ids := func(resp ChatMessagesResponse) []string {
		var out []string
		for _, m := range resp.Messages {
			var frame chat.Frame
			require.NoError(t, json.Unmarshal(m.Value, &frame))
			out = append(out, frame.MessageID)
		}
		return out
	}

	var all ChatMessagesResponse
	require.Equal(t, http.StatusOK, f.post(t, "/chat/messages", `{"topic":"lobby","group_id":"g"}`, &all))
	assert.True(t, all.Success)
	assert.Equal(t, 3, all.Count)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(all))
	assert.Equal(t, int64(2), all.Messages[1].Offset)

	var newer ChatMessagesResponse
	f.post(t, "/chat/messages", `{"topic":"lobby","last_message_id":"m2"}`, &newer)
	assert.Equal(t, []string{"m3"}, ids(newer))

	var unknown ChatMessagesResponse
	f.post(t, "/chat/messages", `{"topic":"lobby","last_message_id":"local-lobby-1"}`, &unknown)
	assert.Equal(t, 3, unknown.Count)

	var latest ChatMessagesResponse
	f.post(t, "/chat/messages", `{"topic":"lobby","last_message_id":"m3"}`, &latest)
	assert.Equal(t, 0, latest.Count)
	assert.NotNil(t, latest.Messages)
}

func TestChatMessages_Limit(t *testing.T) {
	f := newFixture(t, time.Hour)
	for i := 0; i < HistoryLimit+5; i++ {
		f.produce(t, "busy", chat.Frame{Type: chat.TypeChatMessage, Username: "ana", Text: "x"})
	}

	var resp ChatMessagesResponse
	f.post(t, "/chat/messages", `{"topic":"busy"}`, &resp)
	require.Equal(t, HistoryLimit, resp.Count)
	assert.Equal(t, int64(5), resp.Messages[0].Offset)
}

func TestConsume_AdvancesGroup(t *testing.T) {
	f := newFixture(t, time.Hour)
	for _, n := range []int{1, 2, 3} {
		f.produce(t, "events", map[string]int{"n": n})
	}

	var first ConsumeResponse
	require.Equal(t, http.StatusOK, f.post(t, "/consume", `{"topic":"events","group_id":"g1","max_messages":2}`, &first))
	assert.Equal(t, 2, first.Count)
	assert.Equal(t, "g1", first.GroupID)
	require.NotNil(t, first.Messages[0].Key)
	assert.Equal(t, "k", *first.Messages[0].Key)

	var second ConsumeResponse
	f.post(t, "/consume", `{"topic":"events","group_id":"g1","max_messages":2}`, &second)
	require.Equal(t, 1, second.Count)
	assert.Equal(t, int64(2), second.Messages[0].Offset)

	var other ConsumeResponse
	f.post(t, "/consume", `{"topic":"events","group_id":"g2"}`, &other)
	assert.Equal(t, 3, other.Count)

	var empty ConsumeResponse
	f.post(t, "/consume", `{"topic":"events","group_id":"g1","timeout":0.05}`, &empty)
	assert.Equal(t, 0, empty.Count)
}

func TestConsume_WaitsForNewRecords(t *testing.T) {
	f := newFixture(t, time.Hour)

	go func() {
		time.Sleep(50 * time.Millisecond)
		payload, _ := json.Marshal(map[string]int{"n": 1})
		_, _ = f.broker.Produce(context.Background(), "late", "", payload)
	}()

	var resp ConsumeResponse
	f.post(t, "/consume", `{"topic":"late","group_id":"g","timeout":2}`, &resp)
	require.Equal(t, 1, resp.Count)
	assert.Nil(t, resp.Messages[0].Key)
}

func TestConsume_InvalidRequest(t *testing.T) {
	f := newFixture(t, time.Hour)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/consume", `{"max_messages":0}`, nil))
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/consume", `{"timeout":-1}`, nil))
}

func TestTopicsHealthAndStatus(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.produce(t, "b-topic", map[string]int{"n": 1})
	f.produce(t, "a-topic", map[string]int{"n": 1})
	f.produce(t, "__internal", map[string]int{"n": 1})

	resp, err := http.Get(f.srv.URL + "/topics")
	require.NoError(t, err)
	var topics []TopicInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&topics))
	resp.Body.Close()
	require.Len(t, topics, 2)
	assert.Equal(t, "a-topic", topics[0].Topic)
	assert.Equal(t, 1, topics[0].Partitions)

	resp, err = http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.BrokerConnected)

	resp, err = http.Get(f.srv.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Chat Relay Consumer")
	assert.Contains(t, string(body), "a-topic")
	assert.NotContains(t, string(body), "__internal")

	require.NoError(t, f.broker.Close())
	resp, err = http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
