// Package queue is the durable-queue handoff: a per-device FIFO of
// serialized Readings backed by Redis, plus the per-node metrics hash the
// ingester maintains after each flush. Only the gateway appends; only the
// ingester (one processing loop per node) consumes.
package queue

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/noisewatch/ingestd/internal/errors"
	"github.com/noisewatch/ingestd/model"
)

// Store is the durable-queue contract the gateway and ingester depend on.
// Backed by Redis in production; fakeable in tests.
type Store interface {
	// Append pushes readings onto the tail of the node's queue as a single
	// atomic batch, in order.
	Append(ctx context.Context, nodeID string, readings []model.Reading) error
	// Len reports the current queue length for a node.
	Len(ctx context.Context, nodeID string) (int64, error)
	// PopFront removes and returns up to n readings from the head of the
	// queue, in FIFO order. Entries are returned undecoded; the caller
	// drops and logs any that fail to parse.
	PopFront(ctx context.Context, nodeID string, n int64) ([]json.RawMessage, error)
	// DiscoverNodes lists the node IDs with a non-empty queue.
	DiscoverNodes(ctx context.Context) ([]string, error)
}

// Client wraps a Redis connection to implement Store.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New constructs a Client. addr is host:port; prefix is the configured
// QUEUE_PREFIX (default "queue:node:").
func New(addr, password, prefix string) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0,
		}),
		prefix: prefix,
	}
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) key(nodeID string) string {
	return c.prefix + nodeID
}

// Append implements Store.
func (c *Client) Append(ctx context.Context, nodeID string, readings []model.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	encoded := make([]interface{}, len(readings))
	for i, r := range readings {
		b, err := json.Marshal(r)
		if err != nil {
			return errors.Wrapf(err, "encoding reading %d for node %s", i, nodeID)
		}
		encoded[i] = b
	}
	if err := c.rdb.RPush(ctx, c.key(nodeID), encoded...).Err(); err != nil {
		return errors.Wrapf(err, "appending %d readings to queue for node %s", len(readings), nodeID)
	}
	return nil
}

// Len implements Store.
func (c *Client) Len(ctx context.Context, nodeID string) (int64, error) {
	n, err := c.rdb.LLen(ctx, c.key(nodeID)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "reading queue length for node %s", nodeID)
	}
	return n, nil
}

// PopFront implements Store. It uses LPOP with a count, which removes the
// n leftmost (oldest, since the gateway RPushes) elements in one atomic
// call, preserving FIFO order.
func (c *Client) PopFront(ctx context.Context, nodeID string, n int64) ([]json.RawMessage, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := c.rdb.LPopCount(ctx, c.key(nodeID), int(n)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "popping %d entries from queue for node %s", n, nodeID)
	}
	out := make([]json.RawMessage, len(vals))
	for i, v := range vals {
		out[i] = json.RawMessage(v)
	}
	return out, nil
}

// DiscoverNodes implements Store. It SCANs rather than KEYS to avoid
// blocking Redis on a large keyspace (the pack's device_session.go key
// layout comment calls out the same convention: narrow, prefixed key
// templates meant to be SCANned, not enumerated with a blocking command).
func (c *Client) DiscoverNodes(ctx context.Context) ([]string, error) {
	var nodes []string
	var cursor uint64
	pattern := c.prefix + "*"
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, errors.Wrap(err, "scanning queue keys")
		}
		for _, k := range keys {
			nodes = append(nodes, strings.TrimPrefix(k, c.prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nodes, nil
}
