// Package hub fans agent events out to connected UI clients. Every
// subscriber sees every event; the agent serves a single local user, so
// there is no per-user routing.
package hub

import (
	"encoding/json"
	"sync"
	"time"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	ID     string
	Writer Writer
}

// Envelope is the wire shape of every event pushed to the UI.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	At   int64       `json:"at"`
}

type Hub struct {
	mu          sync.RWMutex
	connections map[*Connection]struct{}
	now         func() time.Time
}

func New() *Hub {
	return &Hub{
		connections: make(map[*Connection]struct{}),
		now:         time.Now,
	}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, conn)
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Emit wraps data in an envelope and broadcasts it. Connections whose
// writes fail are closed and dropped.
func (h *Hub) Emit(eventType string, data interface{}) {
	message, err := json.Marshal(Envelope{Type: eventType, Data: data, At: h.now().UnixMilli()})
	if err != nil {
		return
	}
	h.Broadcast(message)
}

func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}
