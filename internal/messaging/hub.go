package messaging

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutormarket/internal/model"
)

const sendBuffer = 64

// Client is one live connection. It is created by Gateway.Connect and must
// be released with Gateway.Disconnect, which leaves every joined topic.
type Client struct {
	ID   string
	User model.User

	send chan Event

	mu     sync.Mutex
	closed bool
	topics map[string]struct{}
}

func newClient(u model.User) *Client {
	return &Client{
		ID:     uuid.NewString(),
		User:   u,
		send:   make(chan Event, sendBuffer),
		topics: map[string]struct{}{},
	}
}

// Events yields frames for this client. It is closed on disconnect.
func (c *Client) Events() <-chan Event { return c.send }

// enqueue never blocks. A client that cannot keep up is closed and must
// reconnect and refetch history.
func (c *Client) enqueue(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Joined reports whether the client is subscribed to the conversation.
func (c *Client) Joined(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[conversationTopic(conversationID)]
	return ok
}

// Hub maps topics to the clients of this process.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{topics: map[string]map[*Client]struct{}{}, logger: logger}
}

func (h *Hub) join(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[topic]
	if !ok {
		set = map[*Client]struct{}{}
		h.topics[topic] = set
	}
	set[c] = struct{}{}

	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) leave(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(topic, c)
}

func (h *Hub) remove(topic string, c *Client) {
	if set, ok := h.topics[topic]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

func (h *Hub) leaveAll(c *Client) {
	c.mu.Lock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		h.remove(t, c)
	}
}

// Deliver hands ev to every local client on topic. It is the broadcaster's
// DeliverFunc.
func (h *Hub) Deliver(topic string, ev Event) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(ev) {
			h.logger.Warn("dropping slow client", zap.String("client_id", c.ID), zap.String("user_id", c.User.ID))
			h.leaveAll(c)
		}
	}
}

// Subscribers returns how many local clients are on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
