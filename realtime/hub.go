// Package realtime pushes workflow events to connected clients. Delivery is
// best-effort: the durable notification row and the persisted log state are
// written before anything is pushed, so a dead socket never affects a
// transition that has already committed.
package realtime

import (
	"log"
	"sync"
	"time"
)

// Event is the transient envelope pushed to connected clients.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps an envelope with the current time.
func NewEvent(eventType string, data interface{}) Event {
	return Event{Type: eventType, Data: data, Timestamp: time.Now()}
}

// Conn is the transport side of a registered client. *websocket.Conn from
// gorilla/websocket satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// LabResolver returns the user ids belonging to a supervisor's lab: the
// supervisor plus every student whose supervisor_id references them.
type LabResolver func(supervisorID int) ([]int, error)

// Client is one registered connection. All writes go through its mutex so
// concurrent transitions cannot interleave frames on the same socket.
type Client struct {
	userID int
	conn   Conn
	mu     sync.Mutex
}

// Send writes one event to the client.
func (cl *Client) Send(ev Event) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.conn.WriteJSON(ev)
}

// UserID returns the user this connection belongs to.
func (cl *Client) UserID() int { return cl.userID }

// Hub tracks live connections per user id. One Hub is constructed at process
// start and injected wherever events are emitted; it is torn down with Close
// at shutdown.
type Hub struct {
	mu       sync.RWMutex
	conns    map[int]map[*Client]bool
	resolver LabResolver
}

func NewHub(resolver LabResolver) *Hub {
	return &Hub{
		conns:    make(map[int]map[*Client]bool),
		resolver: resolver,
	}
}

// Register adds a connection for a user and returns its client handle.
// A user may hold several connections (multiple tabs or devices).
func (h *Hub) Register(userID int, c Conn) *Client {
	client := &Client{userID: userID, conn: c}

	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.conns[userID]
	if !ok {
		clients = make(map[*Client]bool)
		h.conns[userID] = clients
	}
	clients[client] = true
	return client
}

// Unregister removes a client. Safe to call twice.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.conns[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.conns, client.userID)
		}
	}
}

// ConnectionCount reports how many connections a user currently holds.
func (h *Hub) ConnectionCount(userID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// SendToUser delivers an event to every connection of one user. Connections
// that fail the write are pruned and closed; the failure is never surfaced
// to the caller.
func (h *Hub) SendToUser(userID int, ev Event) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns[userID]))
	for client := range h.conns[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.Send(ev); err != nil {
			h.Unregister(client)
			_ = client.conn.Close()
		}
	}
}

// SendToLab delivers an event to the supervisor and all of their students.
func (h *Hub) SendToLab(supervisorID int, ev Event) {
	members, err := h.resolver(supervisorID)
	if err != nil {
		log.Printf("realtime: failed to resolve lab members for supervisor %d: %v", supervisorID, err)
		return
	}
	for _, userID := range members {
		h.SendToUser(userID, ev)
	}
}

// Broadcast delivers an event to every connected user.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	userIDs := make([]int, 0, len(h.conns))
	for userID := range h.conns {
		userIDs = append(userIDs, userID)
	}
	h.mu.RUnlock()

	for _, userID := range userIDs {
		h.SendToUser(userID, ev)
	}
}

// Close tears down every connection. Called once at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, clients := range h.conns {
		for client := range clients {
			_ = client.conn.Close()
		}
		delete(h.conns, userID)
	}
}
