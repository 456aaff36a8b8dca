// Package testing holds in-memory fakes used in place of live Redis/Mongo
// backends across the gateway and ingester test suites.
package testing

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/noisewatch/ingestd/model"
)

// MemQueue is an in-memory queue.Store + queue.MetricsStore.
type MemQueue struct {
	mu      sync.Mutex
	queues  map[string][]json.RawMessage
	metrics map[string]model.Metrics
}

// NewMemQueue constructs an empty MemQueue.
func NewMemQueue() *MemQueue {
	return &MemQueue{
		queues:  make(map[string][]json.RawMessage),
		metrics: make(map[string]model.Metrics),
	}
}

// Append implements queue.Store.
func (m *MemQueue) Append(_ context.Context, nodeID string, readings []model.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range readings {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		m.queues[nodeID] = append(m.queues[nodeID], b)
	}
	return nil
}

// Len implements queue.Store.
func (m *MemQueue) Len(_ context.Context, nodeID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queues[nodeID])), nil
}

// PopFront implements queue.Store.
func (m *MemQueue) PopFront(_ context.Context, nodeID string, n int64) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[nodeID]
	if int64(len(q)) < n {
		n = int64(len(q))
	}
	out := q[:n]
	m.queues[nodeID] = q[n:]
	return out, nil
}

// DiscoverNodes implements queue.Store.
func (m *MemQueue) DiscoverNodes(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nodes []string
	for nodeID, q := range m.queues {
		if len(q) > 0 {
			nodes = append(nodes, nodeID)
		}
	}
	sort.Strings(nodes)
	return nodes, nil
}

// RecordFlush implements queue.MetricsStore.
func (m *MemQueue) RecordFlush(_ context.Context, nodeID string, delta int64, lastFlushMS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.metrics[nodeID]
	cur.TotalRecords += delta
	cur.LastFlush = lastFlushMS
	m.metrics[nodeID] = cur
	return nil
}

// Get implements queue.MetricsStore.
func (m *MemQueue) Get(_ context.Context, nodeID string) (model.Metrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics[nodeID], nil
}
