// Package ingester drains the durable per-node queue, allocates gap-free
// sequence ranges, and writes batches to the time-series store. It is the
// sole consumer of queue:node:* keys; the gateway is the sole producer.
package ingester

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noisewatch/ingestd/internal/config"
	"github.com/noisewatch/ingestd/internal/logger"
	"github.com/noisewatch/ingestd/queue"
	"github.com/noisewatch/ingestd/store"
)

const (
	discoveryInterval = time.Duration(config.DiscoveryInterval) * time.Millisecond
	pollInterval      = time.Duration(config.PollInterval) * time.Millisecond
	flushInterval     = time.Duration(config.FlushInterval) * time.Millisecond
)

// Ingester owns the per-node exclusivity markers and the store/queue
// handles its processing loops flush through.
type Ingester struct {
	q  queue.Store
	mx queue.MetricsStore
	ts store.TimeSeries

	mu     sync.Mutex
	active map[string]bool
}

// New constructs an Ingester against the given queue, metrics, and
// time-series backends.
func New(q queue.Store, mx queue.MetricsStore, ts store.TimeSeries) *Ingester {
	return &Ingester{
		q:      q,
		mx:     mx,
		ts:     ts,
		active: make(map[string]bool),
	}
}

// Run discovers non-empty node queues every discoveryInterval and starts
// an exclusive processing loop for each node not already being drained.
// It blocks until ctx is cancelled, then waits for every in-flight loop
// to finish before returning.
func (ing *Ingester) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case <-ticker.C:
			nodes, err := ing.q.DiscoverNodes(gctx)
			if err != nil {
				logger.Warnw("discovery scan failed", "error", err)
				continue
			}
			for _, nodeID := range nodes {
				nodeID := nodeID
				if !ing.claim(nodeID) {
					continue
				}
				g.Go(func() error {
					defer ing.release(nodeID)
					ing.processNode(gctx, nodeID)
					return nil
				})
			}
		}
	}
}

func (ing *Ingester) claim(nodeID string) bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	if ing.active[nodeID] {
		return false
	}
	ing.active[nodeID] = true
	return true
}

func (ing *Ingester) release(nodeID string) {
	ing.mu.Lock()
	delete(ing.active, nodeID)
	ing.mu.Unlock()
}

// processNode runs the exclusive per-node loop until its queue is
// observed empty: read length, flush immediately at BatchSize, else arm
// a one-shot flush deadline and poll every pollInterval. The deadline is
// tracked as plain state rather than a timer goroutine, so there is
// never more than one flush in flight for this node without any extra
// locking.
func (ing *Ingester) processNode(ctx context.Context, nodeID string) {
	var flushDeadline time.Time

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		length, err := ing.q.Len(ctx, nodeID)
		if err != nil {
			logger.Warnw("queue length check failed", "node_id", nodeID, "error", err)
			return
		}
		if length == 0 {
			return
		}

		if length >= config.BatchSize {
			ing.flush(ctx, nodeID, length)
			flushDeadline = time.Time{}
			continue
		}

		switch {
		case flushDeadline.IsZero():
			flushDeadline = time.Now().Add(flushInterval)
		case !time.Now().Before(flushDeadline):
			ing.flush(ctx, nodeID, length)
			flushDeadline = time.Time{}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}
