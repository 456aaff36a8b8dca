package ingester

import (
	"context"
	"encoding/json"
	"time"

	"github.com/noisewatch/ingestd/internal/config"
	"github.com/noisewatch/ingestd/internal/logger"
	"github.com/noisewatch/ingestd/model"
)

// flush implements the batch flush procedure: pop up to BatchSize entries
// in FIFO order, allocate a gap-free sequence range for the batch, bulk-
// insert the resulting Records, then update the node's metrics.
func (ing *Ingester) flush(ctx context.Context, nodeID string, length int64) {
	take := length
	if take > config.BatchSize {
		take = config.BatchSize
	}

	raw, err := ing.q.PopFront(ctx, nodeID, take)
	if err != nil {
		logger.Warnw("pop failed, will retry next iteration", "node_id", nodeID, "error", err)
		return
	}
	if len(raw) == 0 {
		return
	}

	readings := make([]model.Reading, 0, len(raw))
	for _, entry := range raw {
		var r model.Reading
		if err := json.Unmarshal(entry, &r); err != nil {
			logger.Warnw("dropping malformed queue entry", "node_id", nodeID, "error", err)
			continue
		}
		readings = append(readings, r)
	}
	if len(readings) == 0 {
		return
	}

	seqBase, err := ing.ts.AllocateSeqRange(ctx, nodeID, int64(len(readings)))
	if err != nil {
		logger.Errorw("sequence allocation failed, batch lost", "node_id", nodeID, "count", len(readings), "error", err)
		return
	}

	records := make([]model.Record, len(readings))
	for i, r := range readings {
		records[i] = r.ToRecord(seqBase + int64(i))
	}

	if err := ing.ts.BulkInsert(ctx, records); err != nil {
		// TODO: route failed records to a dlq:node:<id> Redis list instead
		// of dropping them.
		logger.Errorw("bulk insert failed, batch dropped", "node_id", nodeID, "count", len(records), "error", err)
		return
	}

	if err := ing.mx.RecordFlush(ctx, nodeID, int64(len(records)), time.Now().UnixMilli()); err != nil {
		logger.Warnw("metrics update failed", "node_id", nodeID, "error", err)
	}
}
