package gateway

import (
	"github.com/noisewatch/ingestd/internal/logger"
	"github.com/noisewatch/ingestd/model"
)

// broadcast fans event/payload out to every connected dashboard client.
// Sends are non-blocking: a client whose outbound queue is full is skipped
// for this message rather than stalling the broadcaster.
func (h *Hub) broadcast(event string, payload interface{}) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.sendJSON(event, payload) {
			sent++
		}
	}
	logger.Debugw("broadcast", "event", event, "clients", sent, "total", len(clients))
}

// broadcastLive sends a just-accepted Reading to every dashboard as
// `data:live`. It fires from the buffer-append hook, before the reading is
// queued or sequenced, so it necessarily carries no seq — dashboards treat
// data:live as a preview, not the durable record.
func (h *Hub) broadcastLive(r model.Reading) {
	h.broadcast("data:live", r)
}
