package session

import (
	"sync"

	"github.com/deployflow/engine/internal/flow"
	"github.com/deployflow/engine/internal/progress"
	"github.com/deployflow/engine/internal/visual"
)

// Message types sent to session subscribers.
const (
	MessageSnapshot   = "snapshot"
	MessageOps        = "ops"
	MessageMetadata   = "metadata"
	MessageDeployment = "deployment"
)

// Message is one frame of the live session stream.
type Message struct {
	Type       string           `json:"type"`
	Graph      *visual.Graph    `json:"graph,omitempty"`
	Ops        []visual.Op      `json:"ops,omitempty"`
	Metadata   *flow.Metadata   `json:"metadata,omitempty"`
	Validation *Validation      `json:"validation,omitempty"`
	Deployment *progress.Update `json:"deployment,omitempty"`
}

// Hub fans session messages out to subscribers. Sends never block: a client
// whose buffer is full is dropped and its channel closed.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// Client is one subscriber of a hub.
type Client struct {
	hub  *Hub
	send chan Message
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{clients: map[*Client]struct{}{}}
}

// Join registers a client with a buffer of size messages. Joining a closed
// hub returns a client whose channel is already closed.
func (h *Hub) Join(size int) *Client {
	c := &Client{hub: h, send: make(chan Message, size)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.close()
		return c
	}
	h.clients[c] = struct{}{}
	return c
}

// Messages is closed when the client leaves or is dropped.
func (c *Client) Messages() <-chan Message { return c.send }

// Leave unregisters the client.
func (c *Client) Leave() {
	c.hub.mu.Lock()
	delete(c.hub.clients, c)
	c.hub.mu.Unlock()
	c.close()
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcast delivers msg to every client.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			c.close()
		}
	}
}

// Apply forwards a batch of visual ops. It makes Hub a visual.Sink.
func (h *Hub) Apply(ops []visual.Op) {
	h.Broadcast(Message{Type: MessageOps, Ops: ops})
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

var _ visual.Sink = (*Hub)(nil)
