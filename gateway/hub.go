// Package gateway is the ingress gateway: device/dashboard connection
// lifecycle, per-device buffering and flush handoff, live fan-out to
// dashboards, and the REST surface built on top of the same registry.
package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noisewatch/ingestd/internal/config"
	"github.com/noisewatch/ingestd/internal/logger"
	"github.com/noisewatch/ingestd/model"
	"github.com/noisewatch/ingestd/queue"
	"github.com/noisewatch/ingestd/store"
)

// serverState tracks gateway lifecycle for graceful shutdown.
type serverState int32

const (
	stateRunning serverState = iota
	stateDraining
	stateStopped
)

// Hub owns the device registry, the dashboard client set, and the channels
// that serialize registration against broadcast. It has no HTTP concerns
// of its own; Server (lifecycle.go) wires it to net/http.
type Hub struct {
	cfg   *config.Config
	queue queue.Store
	mx    queue.MetricsStore
	ts    store.TimeSeries

	mu      sync.RWMutex
	devices map[string]*Device
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	state  atomic.Int32
}

// NewHub constructs a Hub. Call Run in its own goroutine before accepting
// connections, and Stop to drain on shutdown.
func NewHub(cfg *config.Config, q queue.Store, mx queue.MetricsStore, ts store.TimeSeries) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		queue:      q,
		mx:         mx,
		ts:         ts,
		devices:    make(map[string]*Device),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes dashboard register/unregister requests until Stop cancels
// the hub's context. Registration is serialized here so broadcast never
// races client-set mutation.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.handleRegister(c)
		case c := <-h.unregister:
			h.handleUnregister(c)
		}
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= maxClients {
		h.mu.Unlock()
		logger.Warnw("dashboard client limit reached, rejecting connection", "client_id", c.id)
		c.close()
		return
	}
	h.clients[c] = true
	snapshot := h.nodeSnapshotLocked()
	h.mu.Unlock()

	logger.Infow("dashboard connected", "client_id", c.id, "total_clients", len(h.clients))
	c.sendJSON("nodes:list", snapshot)
}

func (h *Hub) handleUnregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	logger.Infow("dashboard disconnected", "client_id", c.id)
}

func (h *Hub) nodeSnapshotLocked() []interface{} {
	out := make([]interface{}, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d.Summary())
	}
	return out
}

// deviceByID returns the currently registered Device for nodeID, if any.
func (h *Hub) deviceByID(nodeID string) (*Device, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.devices[nodeID]
	return d, ok
}

// ConnectionCounts reports how many devices and dashboard clients are
// currently registered, for the health endpoint.
func (h *Hub) ConnectionCounts() (nodes int, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices), len(h.clients)
}

// NodesSnapshot returns the REST view of every currently connected device.
func (h *Hub) NodesSnapshot() []model.NodeSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.NodeSummary, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d.Summary())
	}
	return out
}

// registerDevice installs or replaces the registry entry for nodeID.
// Reconnection under any socket overwrites the prior entry unconditionally;
// there is no session token or generation counter fencing an older socket
// out, so the most recent identify always wins.
func (h *Hub) registerDevice(d *Device) {
	h.mu.Lock()
	h.devices[d.NodeID] = d
	h.mu.Unlock()
	h.broadcast("node:connected", map[string]any{"nodeId": d.NodeID, "metadata": d.Metadata})
}

// unregisterDevice removes nodeID from the registry if conn is still the
// owner (a reconnect under a new socket must not clobber the newer entry
// on the old socket's disconnect).
func (h *Hub) unregisterDevice(nodeID string, conn *deviceConn) {
	h.mu.Lock()
	d, ok := h.devices[nodeID]
	if !ok || d.conn != conn {
		h.mu.Unlock()
		return
	}
	delete(h.devices, nodeID)
	h.mu.Unlock()

	d.Detach()
	if err := d.Flush(h.ctx, h.queue); err != nil {
		logger.Warnw("disconnect flush failed", "node_id", nodeID, "error", err)
	}
	h.broadcast("node:disconnected", map[string]any{"nodeId": nodeID})
}

// Stop closes all dashboard and device connections, cancels the hub
// context, and waits (bounded by shutdownTimeout) for background work to
// finish. Buffers are drained best-effort before connections close.
func (h *Hub) Stop() {
	h.state.Store(int32(stateDraining))
	logger.Infow("gateway draining")

	h.mu.Lock()
	devices := make([]*Device, 0, len(h.devices))
	for _, d := range h.devices {
		devices = append(devices, d)
	}
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, d := range devices {
		if err := d.Flush(h.ctx, h.queue); err != nil {
			logger.Warnw("shutdown flush failed", "node_id", d.NodeID, "error", err)
		}
		d.mu.Lock()
		conn := d.conn
		d.mu.Unlock()
		if conn != nil {
			conn.close()
		}
	}
	for _, c := range clients {
		c.close()
	}

	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Infow("gateway connections drained")
	case <-time.After(shutdownTimeout):
		logger.Warnw("gateway shutdown timed out waiting for connections", "timeout", shutdownTimeout)
	}

	h.state.Store(int32(stateStopped))
	logger.Infow("gateway stopped")
}
