package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noisewatch/ingestd/internal/errors"
)

const countersCollection = "counters"

// AllocateSeqRange implements TimeSeries via the classic Mongo
// auto-increment pattern: findOneAndUpdate with $inc and ReturnDocument
// After is atomic per document, so concurrent allocators for different
// nodes never contend and a single ingester processing one node at a
// time never races itself.
func (c *Client) AllocateSeqRange(ctx context.Context, nodeID string, count int64) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := c.db.Collection(countersCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": nodeID},
		bson.M{"$inc": bson.M{"seq": count}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, errors.Wrapf(err, "allocating sequence range for node %s", nodeID)
	}
	return doc.Seq - count + 1, nil
}
