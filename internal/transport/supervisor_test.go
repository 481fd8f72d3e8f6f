// internal/transport/supervisor_test.go

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsServer is a fake event-channel collaborator: it records every frame
// the client sends and lets tests push frames or drop connections.
type wsServer struct {
	srv      *httptest.Server
	received chan Event

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()

	ws := &wsServer{received: make(chan Event, 64)}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		ws.mu.Lock()
		ws.conns = append(ws.conns, conn)
		ws.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev Event
			if json.Unmarshal(data, &ev) == nil {
				ws.received <- ev
			}
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) push(t *testing.T, ev Event) {
	t.Helper()

	ws.mu.Lock()
	defer ws.mu.Unlock()
	require.NotEmpty(t, ws.conns)

	conn := ws.conns[len(ws.conns)-1]
	require.NoError(t, conn.WriteJSON(ev))
}

func (ws *wsServer) dropAll() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, conn := range ws.conns {
		conn.Close()
	}
}

func (ws *wsServer) next(t *testing.T) Event {
	t.Helper()

	select {
	case ev := <-ws.received:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return Event{}
	}
}

func newTestSupervisor(t *testing.T, url string) *Supervisor {
	t.Helper()

	s := NewSupervisor(Config{
		URL:                 url,
		ConnectWaitAttempts: 10,
		ConnectWaitInterval: 20 * time.Millisecond,
		ReconnectDelay:      20 * time.Millisecond,
		DialTimeout:         time.Second,
	})
	t.Cleanup(s.Close)
	return s
}

func TestEnsureConnected(t *testing.T) {
	ws := newWSServer(t)
	s := newTestSupervisor(t, ws.url())

	require.False(t, s.IsConnected())
	require.NoError(t, s.EnsureConnected(context.Background()))
	assert.True(t, s.IsConnected())

	// Idempotent once live.
	require.NoError(t, s.EnsureConnected(context.Background()))
}

func TestEnsureConnectedBoundedFailure(t *testing.T) {
	ws := newWSServer(t)
	url := ws.url()
	ws.srv.Close()

	s := NewSupervisor(Config{
		URL:                 url,
		ConnectWaitAttempts: 3,
		ConnectWaitInterval: 10 * time.Millisecond,
		ReconnectDelay:      10 * time.Millisecond,
		DialTimeout:         100 * time.Millisecond,
	})
	defer s.Close()

	assert.ErrorIs(t, s.EnsureConnected(context.Background()), ErrConnectionUnavailable)
}

func TestEnsureConnectedHonorsContext(t *testing.T) {
	ws := newWSServer(t)
	url := ws.url()
	ws.srv.Close()

	s := newTestSupervisor(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, s.EnsureConnected(ctx), context.DeadlineExceeded)
}

func TestEmitWithoutConnection(t *testing.T) {
	ws := newWSServer(t)
	s := newTestSupervisor(t, ws.url())

	ev, err := NewEvent(EventSendMessage, SendMessagePayload{ChannelID: "c1", Content: "x"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Emit(ev), ErrConnectionUnavailable)
}

func TestJoinEmitsAndIsIdempotent(t *testing.T) {
	ws := newWSServer(t)
	s := newTestSupervisor(t, ws.url())

	require.NoError(t, s.EnsureConnected(context.Background()))
	require.NoError(t, s.Join("room-1"))

	ev := ws.next(t)
	assert.Equal(t, string(EventJoin), ev.Type)

	var payload JoinPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "room-1", payload.ChannelID)

	// A second join for the same channel is a no-op.
	require.NoError(t, s.Join("room-1"))
	select {
	case ev := <-ws.received:
		t.Fatalf("unexpected frame: %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, []string{"room-1"}, s.Joined())
}

func TestReconnectReplaysJoins(t *testing.T) {
	ws := newWSServer(t)
	s := newTestSupervisor(t, ws.url())

	var mu sync.Mutex
	var lifecycle []string
	s.Subscribe(func(ev Event) {
		if ev.Type == string(EventConnected) || ev.Type == string(EventDisconnected) {
			mu.Lock()
			lifecycle = append(lifecycle, ev.Type)
			mu.Unlock()
		}
	})

	require.NoError(t, s.EnsureConnected(context.Background()))
	require.NoError(t, s.Join("room-1"))
	assert.Equal(t, string(EventJoin), ws.next(t).Type)

	ws.dropAll()

	// The supervisor must come back by itself and re-join room-1 before
	// anything else is sent on the new connection.
	ev := ws.next(t)
	assert.Equal(t, string(EventJoin), ev.Type)

	var payload JoinPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "room-1", payload.ChannelID)

	require.Eventually(t, s.IsConnected, 2*time.Second, 10*time.Millisecond)

	// A send after the reconnect goes through on the rejoined channel.
	out, err := NewEvent(EventSendMessage, SendMessagePayload{ChannelID: "room-1", Content: "back"})
	require.NoError(t, err)
	require.NoError(t, s.Emit(out))
	assert.Equal(t, string(EventSendMessage), ws.next(t).Type)

	mu.Lock()
	assert.Equal(t, []string{"connect", "disconnect", "connect"}, lifecycle)
	mu.Unlock()
}

func TestLeaveRemovesChannel(t *testing.T) {
	ws := newWSServer(t)
	s := newTestSupervisor(t, ws.url())

	require.NoError(t, s.EnsureConnected(context.Background()))
	require.NoError(t, s.Join("room-1"))
	assert.Equal(t, string(EventJoin), ws.next(t).Type)

	s.Leave("room-1")
	assert.Equal(t, string(EventLeave), ws.next(t).Type)
	assert.Empty(t, s.Joined())
}

func TestIncomingEventsDispatchInOrder(t *testing.T) {
	ws := newWSServer(t)
	s := newTestSupervisor(t, ws.url())

	got := make(chan Event, 16)
	unsubscribe := s.Subscribe(func(ev Event) {
		if ev.Type == string(EventNewMessage) {
			got <- ev
		}
	})
	defer unsubscribe()

	require.NoError(t, s.EnsureConnected(context.Background()))

	for i := 0; i < 3; i++ {
		ev, err := NewEvent(EventNewMessage, map[string]int{"seq": i})
		require.NoError(t, err)
		ws.push(t, ev)
	}

	for i := 0; i < 3; i++ {
		select {
		case ev := <-got:
			var payload map[string]int
			require.NoError(t, json.Unmarshal(ev.Data, &payload))
			assert.Equal(t, i, payload["seq"])
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}
}

func TestUnsubscribeStopsDispatch(t *testing.T) {
	ws := newWSServer(t)
	s := newTestSupervisor(t, ws.url())

	got := make(chan Event, 1)
	unsubscribe := s.Subscribe(func(ev Event) {
		if ev.Type == string(EventNewMessage) {
			got <- ev
		}
	})

	require.NoError(t, s.EnsureConnected(context.Background()))
	unsubscribe()

	ev, err := NewEvent(EventNewMessage, nil)
	require.NoError(t, err)
	ws.push(t, ev)

	select {
	case <-got:
		t.Fatal("dispatch after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
