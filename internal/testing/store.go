package testing

import (
	"context"
	"sort"
	"sync"

	"github.com/noisewatch/ingestd/model"
	"github.com/noisewatch/ingestd/store"
)

// MemSeries is an in-memory store.TimeSeries.
type MemSeries struct {
	mu       sync.Mutex
	records  []model.Record
	counters map[string]int64
	// seen tracks (nodeId, seq) pairs already inserted so BulkInsert can
	// silently drop duplicates without aborting the rest of the batch,
	// mimicking Mongo's unordered duplicate-key behavior.
	seen map[string]map[int64]bool
}

// NewMemSeries constructs an empty MemSeries.
func NewMemSeries() *MemSeries {
	return &MemSeries{
		counters: make(map[string]int64),
		seen:     make(map[string]map[int64]bool),
	}
}

// BulkInsert implements store.TimeSeries.
func (m *MemSeries) BulkInsert(_ context.Context, records []model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if m.seen[r.NodeID] == nil {
			m.seen[r.NodeID] = make(map[int64]bool)
		}
		if m.seen[r.NodeID][r.Seq] {
			continue // duplicate (nodeId, seq): dropped, siblings unaffected
		}
		m.seen[r.NodeID][r.Seq] = true
		m.records = append(m.records, r)
	}
	return nil
}

// Series implements store.TimeSeries.
func (m *MemSeries) Series(_ context.Context, nodeID string, q store.SeriesQuery) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []model.Record
	for _, r := range m.records {
		if r.NodeID != nodeID {
			continue
		}
		if q.UsesSeqRange() {
			if q.FromSeq != 0 && r.Seq < q.FromSeq {
				continue
			}
			if q.ToSeq != 0 && r.Seq > q.ToSeq {
				continue
			}
		} else {
			if q.FromTs != 0 && r.Ts < q.FromTs {
				continue
			}
			if q.ToTs != 0 && r.Ts > q.ToTs {
				continue
			}
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq < matched[j].Seq })

	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	if int64(len(matched)) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Latest implements store.TimeSeries.
func (m *MemSeries) Latest(_ context.Context, nodeID string) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *model.Record
	for i := range m.records {
		r := m.records[i]
		if r.NodeID != nodeID {
			continue
		}
		if best == nil || r.Seq > best.Seq {
			rCopy := r
			best = &rCopy
		}
	}
	return best, nil
}

// Sync implements store.TimeSeries.
func (m *MemSeries) Sync(_ context.Context, nodeID string, lastSeq int64) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []model.Record
	for _, r := range m.records {
		if r.NodeID == nodeID && r.Seq > lastSeq {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq < matched[j].Seq })
	return matched, nil
}

// AllocateSeqRange implements store.TimeSeries.
func (m *MemSeries) AllocateSeqRange(_ context.Context, nodeID string, count int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	newTop := m.counters[nodeID] + count
	m.counters[nodeID] = newTop
	return newTop - count + 1, nil
}
