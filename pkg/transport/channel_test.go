package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/pagewire/pkg/protocol"
)

type recordingSink struct {
	mu         sync.Mutex
	connected  []int64
	envelopes  []*protocol.Envelope
	closed     chan struct{}
	got        chan struct{}
	rejectPage int64

	// gate, when set, holds every OnEnvelope call until it is closed.
	gate chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		closed: make(chan struct{}),
		got:    make(chan struct{}, 64),
	}
}

func (s *recordingSink) OnConnect(_ context.Context, pageID int64, _ *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pageID == s.rejectPage {
		return errors.New("no such page")
	}
	s.connected = append(s.connected, pageID)
	return nil
}

func (s *recordingSink) OnEnvelope(_ context.Context, env *protocol.Envelope, _ *Channel) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.envelopes = append(s.envelopes, env)
	s.mu.Unlock()
	s.got <- struct{}{}
}

func (s *recordingSink) OnClose(context.Context, *Channel) {
	close(s.closed)
}

func (s *recordingSink) snapshot() []*protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Envelope, len(s.envelopes))
	copy(out, s.envelopes)
	return out
}

type channelFixture struct {
	sink   *recordingSink
	client *websocket.Conn
	server chan *Channel
}

func startChannel(t *testing.T, sink *recordingSink, cfg *ChannelConfig) *channelFixture {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverCh := make(chan *Channel, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ch := NewChannel(conn, 7, WithSessionID("sess-1"), WithChannelConfig(cfg))
		serverCh <- ch
		_ = ch.Serve(context.Background(), sink)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &channelFixture{sink: sink, client: client, server: serverCh}
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}

func TestChannelAnnouncesID(t *testing.T) {
	f := startChannel(t, newRecordingSink(), nil)

	msg := readMessage(t, f.client)
	assert.Equal(t, "websocket_update", msg["type"])
	assert.Equal(t, float64(7), msg["data"])
}

func TestChannelDeliversEventsInOrder(t *testing.T) {
	sink := newRecordingSink()
	f := startChannel(t, sink, nil)
	readMessage(t, f.client)

	send := func(s string) {
		require.NoError(t, f.client.WriteMessage(websocket.TextMessage, []byte(s)))
	}
	send(`{"type":"connect","page_id":3}`)
	send(`not json`)
	for _, et := range []string{"a", "b", "c", "d"} {
		send(`{"type":"event","event_data":{"event_type":"` + et + `","page_id":3,"id":1,"session_id":"spoof"}}`)
	}
	waitFor(t, sink.got, 4)

	envs := sink.snapshot()
	require.Len(t, envs, 4)
	for i, et := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, et, envs[i].EventType)
		assert.Equal(t, int64(7), envs[i].ConnectionID)
		assert.Equal(t, "sess-1", envs[i].SessionID)
	}

	sink.mu.Lock()
	assert.Equal(t, []int64{3}, sink.connected)
	sink.mu.Unlock()

	ch := <-f.server
	assert.Equal(t, int64(3), ch.PageID())
}

func TestChannelRejectedConnect(t *testing.T) {
	sink := newRecordingSink()
	sink.rejectPage = 99
	f := startChannel(t, sink, nil)
	readMessage(t, f.client)

	require.NoError(t, f.client.WriteMessage(websocket.TextMessage, []byte(`{"type":"connect","page_id":99}`)))
	require.NoError(t, f.client.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"event","event_data":{"event_type":"click","page_id":99}}`)))
	waitFor(t, sink.got, 1)

	ch := <-f.server
	assert.Equal(t, int64(0), ch.PageID())
}

func TestChannelIgnoresSecondConnect(t *testing.T) {
	sink := newRecordingSink()
	f := startChannel(t, sink, nil)
	readMessage(t, f.client)

	for _, raw := range []string{
		`{"type":"connect","page_id":3}`,
		`{"type":"connect","page_id":4}`,
		`{"type":"connect","page_id":3}`,
		`{"type":"event","event_data":{"event_type":"click","page_id":3}}`,
	} {
		require.NoError(t, f.client.WriteMessage(websocket.TextMessage, []byte(raw)))
	}
	waitFor(t, sink.got, 1)

	sink.mu.Lock()
	assert.Equal(t, []int64{3}, sink.connected)
	sink.mu.Unlock()
	ch := <-f.server
	assert.Equal(t, int64(3), ch.PageID())
}

func TestChannelCloseDrainsQueuedEvents(t *testing.T) {
	sink := newRecordingSink()
	sink.gate = make(chan struct{})
	f := startChannel(t, sink, nil)
	readMessage(t, f.client)
	ch := <-f.server

	const n = 5
	for i := 0; i < n; i++ {
		require.NoError(t, f.client.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"event","event_data":{"event_type":"click","page_id":1}}`)))
	}
	require.NoError(t, f.client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	// Done closes only after the read loop has queued everything.
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close")
	}
	close(sink.gate)

	waitFor(t, sink.got, n)
	select {
	case <-sink.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose was not called")
	}
	assert.Len(t, sink.snapshot(), n)
}

func TestChannelPush(t *testing.T) {
	f := startChannel(t, newRecordingSink(), nil)
	readMessage(t, f.client)
	ch := <-f.server

	require.NoError(t, ch.Push(context.Background(), protocol.PageUpdate(nil, nil)))
	msg := readMessage(t, f.client)
	assert.Equal(t, "page_update", msg["type"])
	assert.Equal(t, []any{}, msg["data"])
}

func TestChannelClientCloseRunsOnClose(t *testing.T) {
	sink := newRecordingSink()
	f := startChannel(t, sink, nil)
	readMessage(t, f.client)
	ch := <-f.server

	require.NoError(t, f.client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	select {
	case <-sink.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose was not called")
	}
	assert.ErrorIs(t, ch.Push(context.Background(), protocol.PageUpdate(nil, nil)), ErrClosed)
}

func TestChannelServerClose(t *testing.T) {
	sink := newRecordingSink()
	f := startChannel(t, sink, nil)
	readMessage(t, f.client)
	ch := <-f.server

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	select {
	case <-sink.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose was not called")
	}
	select {
	case <-ch.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestChannelRateLimit(t *testing.T) {
	sink := newRecordingSink()
	f := startChannel(t, sink, &ChannelConfig{EventRate: 0.001, EventBurst: 2})
	readMessage(t, f.client)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.client.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"event","event_data":{"event_type":"click","page_id":1}}`)))
	}
	// A connect is never rate limited and marks the end of the burst.
	require.NoError(t, f.client.WriteMessage(websocket.TextMessage, []byte(`{"type":"connect","page_id":1}`)))
	waitFor(t, sink.got, 2)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.connected) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, sink.snapshot(), 2)
}

func TestChannelConfigDefaults(t *testing.T) {
	cfg := (&ChannelConfig{EventRate: 5}).withDefaults()
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
	assert.Equal(t, int64(protocol.MaxMessageSize), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.MaxEventQueue)
	assert.Equal(t, 20, cfg.EventBurst)

	var nilCfg *ChannelConfig
	assert.Equal(t, DefaultChannelConfig(), nilCfg.withDefaults())
}
