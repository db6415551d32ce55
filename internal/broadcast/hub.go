// Package broadcast pushes newly ingested jobs to every connected browser
// session. Delivery is best-effort and at-most-once per session: a session
// whose buffer is full misses the event, and late joiners get no replay.
// The job store stays the source of truth; a full reload reconciles.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"jobboard/ingestion-service/internal/model"
)

// EventNewJob is the push event name clients listen for.
const EventNewJob = "newJobAvailable"

// WebSocket keepalive timings.
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Clients never send payloads; only control frames are expected.
	maxMessageSize = 4096

	// Per-session queue; a session this far behind starts missing events.
	sendBuffer = 64
)

// Publisher fans jobs out to live sessions. Publish must not block on any
// individual session.
type Publisher interface {
	Publish(ctx context.Context, jobs []model.PersistedJob)
}

// Event is the wire envelope of a push.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub tracks the open websocket sessions of this process.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[*session]struct{}
	closed   bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins restricts websocket upgrades to the given Origin
// headers. With no origins configured every origin is accepted.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
}

// NewHub returns an empty Hub.
func NewHub(log *zap.SugaredLogger, opts ...HubOption) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:      log,
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish sends each job, in order, as one event to every session open at
// the time of the call. Full session buffers drop the event for that session.
func (h *Hub) Publish(_ context.Context, jobs []model.PersistedJob) {
	for _, job := range jobs {
		payload, err := json.Marshal(Event{Event: EventNewJob, Data: job})
		if err != nil {
			h.log.Warnw("Failed to encode job event", "job_id", job.ID, "error", err.Error())
			continue
		}
		sent, dropped := h.broadcast(payload)
		h.log.Debugw("Job event published",
			"job_id", job.ID,
			"sessions", sent,
			"dropped", dropped,
		)
	}
}

// broadcast enqueues payload on every session without blocking. The read
// lock is held across the sends so unregister cannot close a channel mid-send.
func (h *Hub) broadcast(payload []byte) (sent, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.sessions {
		select {
		case s.send <- payload:
			sent++
		default:
			dropped++
		}
	}
	return sent, dropped
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ServeWS upgrades the request to a websocket and registers the session
// until the peer disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.log.Debugw("WebSocket upgrade failed", "error", err.Error(), "remote", r.RemoteAddr)
		return
	}

	s := newSession(h, conn)
	if !h.register(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go s.writePump()
	go s.readPump()
}

// Close disconnects every session and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for s := range h.sessions {
		delete(h.sessions, s)
		s.closeSend()
	}
}

func (h *Hub) register(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	h.log.Debugw("Session connected", "session_id", s.id, "sessions", len(h.sessions))
	return true
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	s.closeSend()
	h.log.Debugw("Session disconnected", "session_id", s.id, "sessions", len(h.sessions))
}

// session is one live websocket connection.
type session struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func newSession(h *Hub, conn *websocket.Conn) *session {
	return &session{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

func (s *session) closeSend() {
	s.closeOnce.Do(func() { close(s.send) })
}

// readPump drains the connection so control frames are processed, and
// unregisters the session when the peer goes away.
func (s *session) readPump() {
	defer func() {
		s.hub.unregister(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				s.hub.log.Warnw("WebSocket read error", "session_id", s.id, "error", err.Error())
			}
			return
		}
	}
}

// writePump is the only writer of the connection.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.hub.unregister(s)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.unregister(s)
				return
			}
		}
	}
}
