package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"devpress/internal/middleware"
	"devpress/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max watchers of a single post
	maxConnsPerPost = 500
	// Max total connections
	maxTotalConns = 10000
)

// Connection limit errors returned by Register.
var (
	ErrServerFull = errors.New("server connection limit reached")
	ErrPostFull   = errors.New("post connection limit reached")
)

// Hub maps postID -> set of Clients watching that post.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	totalConns int
	closed     bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[uint]map[*Client]struct{})}
}

// Register adds a watcher for postID. conn may be nil in tests.
func (h *Hub) Register(postID, userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.totalConns >= maxTotalConns {
		return nil, ErrServerFull
	}

	m, ok := h.conns[postID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[postID] = m
	}
	if len(m) >= maxConnsPerPost {
		return nil, ErrPostFull
	}

	client := newClient(h, conn, postID, userID)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnections.Inc()
	return client, nil
}

// UnregisterClient removes the client and closes its send channel. Calling it
// twice for the same client is a no-op.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[client.PostID]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	close(client.Send)
	h.totalConns--
	observability.WebSocketConnections.Dec()
	if len(m) == 0 {
		delete(h.conns, client.PostID)
	}
}

// Broadcast sends message to all watchers of postID.
func (h *Hub) Broadcast(postID uint, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[postID] {
		c.TrySend(message)
	}
}

// Watchers returns the number of open connections for postID.
func (h *Hub) Watchers(postID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[postID])
}

// StartWiring connects the Notifier to this hub: it subscribes to the post
// activity pattern and forwards each message to that post's watchers.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPostSubscriber(ctx, func(channel, payload string) {
		var postID uint
		if _, err := fmt.Sscanf(channel, "post:activity:%d", &postID); err != nil {
			middleware.Logger.Warn("invalid activity channel", slog.String("channel", channel))
			return
		}
		h.Broadcast(postID, []byte(payload))
	})
}

// Shutdown closes every client's send channel. Each WritePump flushes what
// is queued, writes a going-away close frame and closes its connection, so
// the connection keeps a single writer.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, clients := range h.conns {
		for client := range clients {
			close(client.Send)
			observability.WebSocketConnections.Dec()
		}
	}
	h.conns = make(map[uint]map[*Client]struct{})
	h.totalConns = 0
	return nil
}

// closeFrame is the payload WritePump sends once its channel is closed.
func (h *Hub) closeFrame() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")
	}
	return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
}
