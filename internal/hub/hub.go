// ABOUTME: In-memory fan-out hub pushing lifecycle envelopes to WebSocket subscribers
// ABOUTME: Late subscribers catch up on the active QR payload; failed writes prune the socket

package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single envelope write so one stuck socket cannot
// stall a broadcast.
const writeTimeout = 10 * time.Second

// Envelope types pushed to subscribers.
const (
	TypeQR            = "qr"
	TypeAuthenticated = "authenticated"
	TypeDisconnected  = "disconnected"
)

// Envelope is one server-to-client push frame. There is no client-to-server
// message schema.
type Envelope struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// QRSource reports the currently active QR payload, or "" when none exists.
// Used for catch-up so a late subscriber sees current state, not only future
// transitions.
type QRSource func() string

// subscriber wraps one push socket. The write mutex serializes catch-up and
// broadcast writes to the same connection.
type subscriber struct {
	id     string
	remote string

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(env)
}

// Hub holds the set of currently subscribed push sockets.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	qrSource QRSource
	logger   *slog.Logger
}

// New creates an empty hub. Pass nil logger for default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]*subscriber),
		logger: logger.With("component", "hub"),
	}
}

// SetQRSource installs the catch-up source consulted on every Subscribe.
func (h *Hub) SetQRSource(src QRSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.qrSource = src
}

// Subscribe registers a push socket and returns its subscription ID.
// If a QR payload is currently active it is sent to the new subscriber
// immediately; a failed catch-up write removes the subscriber again.
func (h *Hub) Subscribe(conn *websocket.Conn, remote string) string {
	sub := &subscriber{
		id:     uuid.New().String(),
		remote: remote,
		conn:   conn,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return sub.id
	}
	h.subs[sub.id] = sub
	src := h.qrSource
	h.mu.Unlock()

	h.logger.Info("subscriber connected", "remote", remote, "sub_id", sub.id)

	if src != nil {
		if qr := src(); qr != "" {
			if err := sub.send(Envelope{Type: TypeQR, Data: qr}); err != nil {
				h.logger.Warn("catch-up send failed", "remote", remote, "error", err)
				h.Unsubscribe(sub.id)
			}
		}
	}
	return sub.id
}

// Unsubscribe removes a subscriber and closes its socket.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		_ = sub.conn.Close()
		h.logger.Info("subscriber removed", "remote", sub.remote, "sub_id", id)
	}
}

// Broadcast pushes an envelope to every subscriber. One subscriber's failed
// write never prevents delivery to the rest; the failing socket is pruned.
func (h *Hub) Broadcast(env Envelope) {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.send(env); err != nil {
			h.logger.Warn("broadcast send failed", "remote", sub.remote, "error", err)
			h.Unsubscribe(sub.id)
		}
	}
}

// Len returns the current subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.conn.Close()
	}
}
