// Package store is the time-series durable store: a document collection
// with a unique (nodeId, seq) index and a non-unique (nodeId, ts) index,
// plus the counters collection the ingester uses for atomic per-node
// sequence allocation.
package store

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noisewatch/ingestd/internal/errors"
	"github.com/noisewatch/ingestd/model"
)

// defaultDatabase is used when the connection URI carries no database
// path segment.
const defaultDatabase = "noisewatch"

const timeseriesCollection = "timeseries"

// SeriesQuery selects a history window. Time range and sequence range are
// mutually exclusive; zero-valued bounds on the unused dimension are
// ignored by Series.
type SeriesQuery struct {
	FromTs  int64
	ToTs    int64
	FromSeq int64
	ToSeq   int64
	Limit   int64
}

// UsesSeqRange reports whether the query selects by sequence rather than
// time.
func (q SeriesQuery) UsesSeqRange() bool {
	return q.FromSeq != 0 || q.ToSeq != 0
}

// TimeSeries is the durable time-series store contract.
type TimeSeries interface {
	// BulkInsert writes records with unordered semantics: a single
	// duplicate-key failure does not abort the rest of the batch.
	BulkInsert(ctx context.Context, records []model.Record) error
	// Series returns a history window ordered by seq ascending.
	Series(ctx context.Context, nodeID string, q SeriesQuery) ([]model.Record, error)
	// Latest returns the Record with the highest seq for a node, or
	// (nil, nil) if the node has no Records yet.
	Latest(ctx context.Context, nodeID string) (*model.Record, error)
	// Sync returns all Records with seq > lastSeq, ordered by seq
	// ascending: the gap-recovery query a dashboard issues after it sees
	// a gap in the seqs it has observed.
	Sync(ctx context.Context, nodeID string, lastSeq int64) ([]model.Record, error)
	// AllocateSeqRange atomically increments the node's counter by count
	// and returns the base of the newly allocated, gap-free range:
	// seqBase .. seqBase+count-1.
	AllocateSeqRange(ctx context.Context, nodeID string, count int64) (seqBase int64, err error)
}

// Client wraps a MongoDB connection implementing TimeSeries.
type Client struct {
	db *mongo.Database
}

// New connects to uri and returns a Client. The database name is taken
// from the URI path (see databaseNameFromURI).
func New(ctx context.Context, uri string) (*Client, error) {
	opts := options.Client().ApplyURI(uri)
	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to time-series store")
	}
	if err := mc.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "pinging time-series store")
	}
	return &Client{db: mc.Database(databaseNameFromURI(uri))}, nil
}

// databaseNameFromURI extracts the path segment of a mongodb:// URI,
// falling back to defaultDatabase when none is present.
func databaseNameFromURI(uri string) string {
	rest := uri
	if s := strings.Index(rest, "://"); s >= 0 {
		rest = rest[s+len("://"):]
	}
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return defaultDatabase
	}
	name := rest[idx+1:]
	if q := strings.IndexByte(name, '?'); q >= 0 {
		name = name[:q]
	}
	if name == "" {
		return defaultDatabase
	}
	return name
}

// Close disconnects the underlying client.
func (c *Client) Close(ctx context.Context) error {
	return c.db.Client().Disconnect(ctx)
}

// EnsureIndexes creates the compound indexes the time-series collection requires:
// {nodeId:1, ts:1} and a unique {nodeId:1, seq:1}.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	coll := c.db.Collection(timeseriesCollection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "nodeId", Value: 1}, {Key: "ts", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "nodeId", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating time-series indexes")
	}
	return nil
}

// BulkInsert implements TimeSeries.
func (c *Client) BulkInsert(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = r
	}
	_, err := c.db.Collection(timeseriesCollection).InsertMany(
		ctx, docs, options.InsertMany().SetOrdered(false),
	)
	if err != nil {
		// Unordered inserts report a BulkWriteException that can carry
		// partial success alongside duplicate-key failures; the caller
		// logs this rather than treating it as fatal.
		return errors.Wrap(err, "bulk inserting records")
	}
	return nil
}

func (c *Client) seriesFilter(nodeID string, q SeriesQuery) bson.M {
	filter := bson.M{"nodeId": nodeID}
	if q.UsesSeqRange() {
		seq := bson.M{}
		if q.FromSeq != 0 {
			seq["$gte"] = q.FromSeq
		}
		if q.ToSeq != 0 {
			seq["$lte"] = q.ToSeq
		}
		filter["seq"] = seq
	} else {
		ts := bson.M{}
		if q.FromTs != 0 {
			ts["$gte"] = q.FromTs
		}
		if q.ToTs != 0 {
			ts["$lte"] = q.ToTs
		}
		if len(ts) > 0 {
			filter["ts"] = ts
		}
	}
	return filter
}

// Series implements TimeSeries.
func (c *Client) Series(ctx context.Context, nodeID string, q SeriesQuery) ([]model.Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(limit)
	cur, err := c.db.Collection(timeseriesCollection).Find(ctx, c.seriesFilter(nodeID, q), opts)
	if err != nil {
		return nil, errors.Wrapf(err, "querying series for node %s", nodeID)
	}
	defer cur.Close(ctx)

	var records []model.Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, errors.Wrapf(err, "decoding series for node %s", nodeID)
	}
	return records, nil
}

// Latest implements TimeSeries.
func (c *Client) Latest(ctx context.Context, nodeID string) (*model.Record, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	var rec model.Record
	err := c.db.Collection(timeseriesCollection).FindOne(ctx, bson.M{"nodeId": nodeID}, opts).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying latest record for node %s", nodeID)
	}
	return &rec, nil
}

// Sync implements TimeSeries.
func (c *Client) Sync(ctx context.Context, nodeID string, lastSeq int64) ([]model.Record, error) {
	filter := bson.M{"nodeId": nodeID, "seq": bson.M{"$gt": lastSeq}}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cur, err := c.db.Collection(timeseriesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "querying sync gap for node %s", nodeID)
	}
	defer cur.Close(ctx)

	var records []model.Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, errors.Wrapf(err, "decoding sync gap for node %s", nodeID)
	}
	return records, nil
}
