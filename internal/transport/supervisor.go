// internal/transport/supervisor.go

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/launchpod/chatkit/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Maximum number of queued outgoing frames
	sendBuffer = 256
)

var (
	ErrConnectionUnavailable = errors.New("connection unavailable")
	ErrSendBufferFull        = errors.New("send buffer full")
	ErrClosed                = errors.New("transport closed")
)

// Config controls how the supervisor dials and waits.
type Config struct {
	URL    string
	Header http.Header

	DialTimeout         time.Duration
	ConnectWaitAttempts int
	ConnectWaitInterval time.Duration
	ReconnectDelay      time.Duration

	Logger *logrus.Entry
}

// Supervisor owns the single socket session for the client. It dials
// lazily, re-dials after a drop, and replays channel joins on every new
// connection because the transport does not persist membership across
// drops.
type Supervisor struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *logrus.Entry

	mu        sync.RWMutex
	conn      *websocket.Conn
	send      chan []byte
	connected bool
	dialing   bool
	closed    bool
	joined    map[string]struct{}
	subs      map[int]func(Event)
	nextSub   int

	done chan struct{}
}

// NewSupervisor creates a supervisor; no connection is made until
// EnsureConnected is called.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ConnectWaitAttempts <= 0 {
		cfg.ConnectWaitAttempts = 10
	}
	if cfg.ConnectWaitInterval <= 0 {
		cfg.ConnectWaitInterval = 200 * time.Millisecond
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Supervisor{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		log:    cfg.Logger.WithField("component", "transport"),
		joined: make(map[string]struct{}),
		subs:   make(map[int]func(Event)),
		done:   make(chan struct{}),
	}
}

// IsConnected reports whether a live connection is attached.
func (s *Supervisor) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// EnsureConnected makes sure the session is live, dialing if necessary.
// It waits a bounded number of short intervals for the connection to come
// up and fails with ErrConnectionUnavailable if it does not.
func (s *Supervisor) EnsureConnected(ctx context.Context) error {
	if s.IsConnected() {
		return nil
	}
	if err := s.startDial(false); err != nil {
		return err
	}

	for i := 0; i < s.cfg.ConnectWaitAttempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		case <-time.After(s.cfg.ConnectWaitInterval):
		}
		if s.IsConnected() {
			return nil
		}
	}

	return ErrConnectionUnavailable
}

// Join marks intent to receive events for a channel. Joins are idempotent
// and survive reconnects: the supervisor replays them on every new
// connection before the session is considered live again.
func (s *Supervisor) Join(channelID string) error {
	s.mu.Lock()
	_, already := s.joined[channelID]
	s.joined[channelID] = struct{}{}
	n := len(s.joined)
	connected := s.connected
	s.mu.Unlock()

	metrics.JoinedChannels.Set(float64(n))

	if already || !connected {
		return nil
	}

	ev, err := NewEvent(EventJoin, JoinPayload{ChannelID: channelID})
	if err != nil {
		return err
	}
	return s.Emit(ev)
}

// Leave drops a channel from the joined set. The leave frame itself is
// best effort: a failure to emit only means the server keeps sending
// events we no longer dispatch to anyone.
func (s *Supervisor) Leave(channelID string) {
	s.mu.Lock()
	delete(s.joined, channelID)
	n := len(s.joined)
	connected := s.connected
	s.mu.Unlock()

	metrics.JoinedChannels.Set(float64(n))

	if !connected {
		return
	}
	if ev, err := NewEvent(EventLeave, JoinPayload{ChannelID: channelID}); err == nil {
		_ = s.Emit(ev)
	}
}

// Joined returns a snapshot of the channels the session intends to
// receive events for.
func (s *Supervisor) Joined() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]string, 0, len(s.joined))
	for ch := range s.joined {
		channels = append(channels, ch)
	}
	return channels
}

// Emit queues an event for the live connection.
func (s *Supervisor) Emit(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.RLock()
	send := s.send
	connected := s.connected
	s.mu.RUnlock()

	if !connected || send == nil {
		return ErrConnectionUnavailable
	}

	select {
	case send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Subscribe registers a handler for every dispatched event, including the
// synthesized connect/disconnect lifecycle events. The returned function
// removes the subscription.
func (s *Supervisor) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close tears the session down for good; the supervisor cannot be reused.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	close(s.done)
	if conn != nil {
		conn.Close()
	}
}

func (s *Supervisor) startDial(isReconnect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.dialing || s.connected {
		return nil
	}
	s.dialing = true

	go s.dialLoop(isReconnect)
	return nil
}

func (s *Supervisor) dialLoop(isReconnect bool) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn, resp, err := s.dialer.Dial(s.cfg.URL, s.cfg.Header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			s.log.WithError(err).WithField("status", status).Warn("dial failed, retrying")

			select {
			case <-s.done:
				return
			case <-time.After(s.cfg.ReconnectDelay):
			}
			continue
		}

		s.attach(conn, isReconnect)
		return
	}
}

// attach wires a fresh connection in. Channel joins are replayed on the
// raw connection before the session is marked connected, so nothing can
// be sent on a channel the server has not re-subscribed us to.
func (s *Supervisor) attach(conn *websocket.Conn, isReconnect bool) {
	for _, channelID := range s.Joined() {
		ev, err := NewEvent(EventJoin, JoinPayload{ChannelID: channelID})
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			s.log.WithError(err).Warn("join replay failed")
			conn.Close()
			go s.dialLoop(isReconnect)
			return
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.send = make(chan []byte, sendBuffer)
	s.connected = true
	s.dialing = false
	send := s.send
	s.mu.Unlock()

	if isReconnect {
		metrics.Reconnects.Inc()
		s.log.Info("session re-established")
	} else {
		s.log.Info("session established")
	}

	go s.writePump(conn, send)
	go s.readPump(conn)

	s.dispatch(Event{Type: string(EventConnected), Timestamp: time.Now()})
}

func (s *Supervisor) readPump(conn *websocket.Conn) {
	defer s.handleDisconnect(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.WithError(err).Warn("read error")
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.WithError(err).Warn("dropping malformed frame")
			continue
		}

		s.dispatch(ev)
	}
}

func (s *Supervisor) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Supervisor) handleDisconnect(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn != conn {
		// A stale pump from an already-replaced connection.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.send = nil
	s.connected = false
	closed := s.closed
	if !closed {
		s.dialing = true
	}
	s.mu.Unlock()

	conn.Close()

	if closed {
		return
	}

	s.log.Warn("session dropped")
	s.dispatch(Event{Type: string(EventDisconnected), Timestamp: time.Now()})

	go s.dialLoop(true)
}

// dispatch delivers an event to every subscriber in turn. Events are
// dispatched in the order the transport delivers them; subscribers must
// not block.
func (s *Supervisor) dispatch(ev Event) {
	s.mu.RLock()
	handlers := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
