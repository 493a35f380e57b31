package wshub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mqtt-relay/pkg/relay"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxInboundFrame caps client frames; clients are not expected to send
	// anything meaningful.
	maxInboundFrame = 1024

	// sendBufSize is the per-session outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — the bridge sits on a trusted kiosk network and the
	// original backend served any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub is the session registry and fan-out channel. It tracks every open
// WebSocket session and broadcasts relayed envelopes to all of them.
type Hub struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[*session]struct{}
}

// session represents one connected real-time client.
type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	// mu guards closed. The send channel is only ever closed by closeSend,
	// and every send goes through trySend, so a session closing between a
	// broadcast snapshot and the send drops that one delivery instead of
	// panicking the relay loop.
	mu     sync.Mutex
	closed bool
}

// trySend queues data for the session's writePump. It reports false when the
// session is closed or its buffer is full; it never blocks and never panics.
func (s *session) trySend(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the session's send channel exactly once.
func (s *session) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// New creates an empty Hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:   logger.With().Str("component", "WSHub").Logger(),
		sessions: make(map[*session]struct{}),
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the session.
// The "connected" greeting is sent to this session only; there is no replay of
// earlier broadcasts. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(s)
	defer h.unregister(s)

	h.logger.Info().Str("session_id", s.id).Msg("WebSocket client connected.")

	if data, err := json.Marshal(relay.NewConnectedEnvelope()); err == nil {
		s.trySend(data)
	}

	go s.writePump()
	s.readPump(h.logger) // blocks until connection closes

	h.logger.Info().Str("session_id", s.id).Msg("WebSocket client disconnected.")
}

// Broadcast serializes the envelope once and delivers it to every session
// currently open. A session whose outgoing buffer is full (or that is closing)
// is dropped and logged; the failure never reaches the broker-side caller and
// never affects delivery to the other sessions.
func (h *Hub) Broadcast(env relay.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Str("type", env.Type).Msg("Failed to marshal envelope, dropping broadcast.")
		return
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.trySend(data) {
			h.logger.Warn().Str("session_id", s.id).Msg("Session closed or send buffer full, dropping session.")
			h.unregister(s)
		}
	}
}

// Count returns the number of currently open sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close tears down all open sessions. Used at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	targets := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
		delete(h.sessions, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.closeSend()
	}
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(s *session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

// unregister removes the session from the registry. Idempotent: a session may
// be unregistered both by a failed broadcast and by its own ServeHTTP defer.
func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	s.closeSend()
}

// writePump drains the session's send channel and forwards envelopes to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per session.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or session removed).
				s.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. The relay is broadcast-only: client frames
// are logged and discarded. Blocks until the connection closes.
func (s *session) readPump(logger zerolog.Logger) {
	defer s.conn.Close()
	s.conn.SetReadLimit(maxInboundFrame)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		logger.Debug().Str("session_id", s.id).Str("message", string(msg)).Msg("Received frame from WebSocket client, ignoring.")
	}
}
