package ingester

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisewatch/ingestd/internal/config"
	ingestdtest "github.com/noisewatch/ingestd/internal/testing"
	"github.com/noisewatch/ingestd/model"
)

func pushReadings(t *testing.T, q *ingestdtest.MemQueue, nodeID string, n int) {
	t.Helper()
	readings := make([]model.Reading, n)
	for i := range readings {
		readings[i] = model.Reading{
			NodeID:  nodeID,
			Ts:      int64(1000 + i),
			Payload: map[string]float64{"avg": float64(i)},
			Meta:    model.Meta{Source: "esp32"},
		}
	}
	require.NoError(t, q.Append(context.Background(), nodeID, readings))
}

func TestFlushAssignsDenseSequenceAndUpdatesMetrics(t *testing.T) {
	q := ingestdtest.NewMemQueue()
	ts := ingestdtest.NewMemSeries()
	ing := New(q, q, ts)

	pushReadings(t, q, "ESP32_A", 5)

	ing.flush(context.Background(), "ESP32_A", 5)

	records, err := ts.Sync(context.Background(), "ESP32_A", 0)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.Seq)
	}

	metrics, err := q.Get(context.Background(), "ESP32_A")
	require.NoError(t, err)
	assert.Equal(t, int64(5), metrics.TotalRecords)

	n, err := q.Len(context.Background(), "ESP32_A")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestFlushCapsTakeAtBatchSize(t *testing.T) {
	q := ingestdtest.NewMemQueue()
	ts := ingestdtest.NewMemSeries()
	ing := New(q, q, ts)

	pushReadings(t, q, "ESP32_A", config.BatchSize+10)

	ing.flush(context.Background(), "ESP32_A", config.BatchSize+10)

	n, err := q.Len(context.Background(), "ESP32_A")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	records, err := ts.Sync(context.Background(), "ESP32_A", 0)
	require.NoError(t, err)
	assert.Len(t, records, config.BatchSize)
}

func TestFlushAcrossBatchesStaysDenseAndSequential(t *testing.T) {
	q := ingestdtest.NewMemQueue()
	ts := ingestdtest.NewMemSeries()
	ing := New(q, q, ts)

	pushReadings(t, q, "ESP32_A", 3)
	ing.flush(context.Background(), "ESP32_A", 3)
	pushReadings(t, q, "ESP32_A", 2)
	ing.flush(context.Background(), "ESP32_A", 2)

	records, err := ts.Sync(context.Background(), "ESP32_A", 0)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.Seq)
	}
}

func TestProcessNodeDrainsQueueToEmpty(t *testing.T) {
	q := ingestdtest.NewMemQueue()
	ts := ingestdtest.NewMemSeries()
	ing := New(q, q, ts)

	pushReadings(t, q, "ESP32_A", config.BatchSize+1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ing.processNode(ctx, "ESP32_A")

	n, err := q.Len(context.Background(), "ESP32_A")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	records, err := ts.Sync(context.Background(), "ESP32_A", 0)
	require.NoError(t, err)
	assert.Len(t, records, config.BatchSize+1)
}

func TestRunClaimsEachNodeExclusively(t *testing.T) {
	ing := New(ingestdtest.NewMemQueue(), ingestdtest.NewMemQueue(), ingestdtest.NewMemSeries())

	assert.True(t, ing.claim("ESP32_A"))
	assert.False(t, ing.claim("ESP32_A"))
	ing.release("ESP32_A")
	assert.True(t, ing.claim("ESP32_A"))
}
