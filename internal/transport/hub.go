package transport

import (
	"sync"

	"github.com/nexusroom/server/internal/room"
)

// Hub fans outbound room frames out to live connections for one room.
// It is the room's only Sender; the room never holds a *Conn directly.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn // characterID -> connection
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

func (h *Hub) register(characterID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[characterID] = c
}

func (h *Hub) unregister(characterID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, characterID)
}

// Send implements room.Sender. A frame with To set is delivered to one
// connection; an empty To broadcasts to everyone currently registered.
func (h *Hub) Send(out room.Outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if out.To != "" {
		if c, ok := h.conns[out.To]; ok {
			c.sendEnvelope(out.Type, out.Payload)
		}
		return
	}
	for _, c := range h.conns {
		c.sendEnvelope(out.Type, out.Payload)
	}
}
