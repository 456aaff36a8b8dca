package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/noisewatch/ingestd/internal/config"
	"github.com/noisewatch/ingestd/internal/errors"
	"github.com/noisewatch/ingestd/model"
)

var metricsTTL = time.Duration(config.MetricsTTLSeconds) * time.Second

// MetricsStore is the per-node operational counter contract: totalRecords
// and lastFlush, held in a Redis hash with a 24h TTL.
type MetricsStore interface {
	// RecordFlush adds delta to the node's totalRecords counter, sets
	// lastFlush to lastFlushMS, and resets the 24h TTL.
	RecordFlush(ctx context.Context, nodeID string, delta int64, lastFlushMS int64) error
	// Get returns the current metrics for a node, or the zero value if the
	// hash has expired or never existed.
	Get(ctx context.Context, nodeID string) (model.Metrics, error)
}

func (c *Client) metricsKey(nodeID string) string {
	return "metrics:" + nodeID
}

// RecordFlush implements MetricsStore.
func (c *Client) RecordFlush(ctx context.Context, nodeID string, delta int64, lastFlushMS int64) error {
	key := c.metricsKey(nodeID)
	pipe := c.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "totalRecords", delta)
	pipe.HSet(ctx, key, "lastFlush", lastFlushMS)
	pipe.Expire(ctx, key, metricsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "recording flush metrics for node %s", nodeID)
	}
	return nil
}

// Get implements MetricsStore.
func (c *Client) Get(ctx context.Context, nodeID string) (model.Metrics, error) {
	vals, err := c.rdb.HGetAll(ctx, c.metricsKey(nodeID)).Result()
	if err != nil {
		return model.Metrics{}, errors.Wrapf(err, "reading metrics for node %s", nodeID)
	}
	if len(vals) == 0 {
		return model.Metrics{}, nil
	}

	var m model.Metrics
	if v, ok := vals["totalRecords"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			m.TotalRecords = n
		}
	}
	if v, ok := vals["lastFlush"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			m.LastFlush = n
		}
	}
	return m, nil
}
