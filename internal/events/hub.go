package events

import (
	"sync"

	"github.com/bizzylink/apiserver/internal/metrics"
	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
)

const defaultClientBuffer = 16

// Client is one connected event stream. A user may hold several.
type Client struct {
	UserID int
	Admin  bool
	events chan types.Event
}

// Events delivers the client's events. It is closed on Unregister.
func (c *Client) Events() <-chan types.Event {
	return c.events
}

// Hub tracks connected clients per user and the admins room.
type Hub struct {
	mu      sync.RWMutex
	clients map[int]map[*Client]struct{}
	admins  map[*Client]struct{}
	closed  bool
	buffer  int
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[int]map[*Client]struct{}),
		admins:  make(map[*Client]struct{}),
		buffer:  defaultClientBuffer,
		logger:  logger,
	}
}

// Register adds a stream for userID. Admin streams also join the admins room.
// After CloseAll the returned client's channel is already closed.
func (h *Hub) Register(userID int, admin bool) *Client {
	client := &Client{
		UserID: userID,
		Admin:  admin,
		events: make(chan types.Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(client.events)
		return client
	}

	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
	if admin {
		h.admins[client] = struct{}{}
	}
	metrics.SSEClients.Inc()
	return client
}

// Unregister removes the stream and closes its channel. Calling it twice is safe.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	streams, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := streams[client]; !ok {
		return
	}
	delete(streams, client)
	if len(streams) == 0 {
		delete(h.clients, client.UserID)
	}
	delete(h.admins, client)
	close(client.events)
	metrics.SSEClients.Dec()
}

// CloseAll disconnects every stream and refuses new ones. Streams see their
// channel closed and return, so in-flight requests can drain on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for userID, streams := range h.clients {
		for client := range streams {
			close(client.events)
			metrics.SSEClients.Dec()
		}
		delete(h.clients, userID)
	}
	clear(h.admins)
	h.logger.Info("event streams closed")
}

// SendToUser delivers event to every stream of userID and returns how many
// streams accepted it. Slow streams whose buffer is full miss the event.
func (h *Hub) SendToUser(userID int, event types.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients[userID] {
		if h.offer(client, event) {
			delivered++
		}
	}
	return delivered
}

// SendToAdmins delivers event to the admins room.
func (h *Hub) SendToAdmins(event types.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.admins {
		if h.offer(client, event) {
			delivered++
		}
	}
	return delivered
}

// Connected reports whether userID has at least one open stream.
func (h *Hub) Connected(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// ClientCount returns the number of open streams.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, streams := range h.clients {
		total += len(streams)
	}
	return total
}

func (h *Hub) offer(client *Client, event types.Event) bool {
	select {
	case client.events <- event:
		return true
	default:
		h.logger.Warn("dropping event for slow client",
			zap.Int("user_id", client.UserID),
			zap.String("type", event.Type),
		)
		return false
	}
}
