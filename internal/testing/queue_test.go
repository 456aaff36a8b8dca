package testing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisewatch/ingestd/model"
)

func TestMemQueueAppendAndPopPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemQueue()

	readings := []model.Reading{
		{NodeID: "ESP32_A", Ts: 1, Payload: map[string]float64{"avg": 1}},
		{NodeID: "ESP32_A", Ts: 2, Payload: map[string]float64{"avg": 2}},
		{NodeID: "ESP32_A", Ts: 3, Payload: map[string]float64{"avg": 3}},
	}
	require.NoError(t, s.Append(ctx, "ESP32_A", readings))

	n, err := s.Len(ctx, "ESP32_A")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	popped, err := s.PopFront(ctx, "ESP32_A", 2)
	require.NoError(t, err)
	require.Len(t, popped, 2)

	var first model.Reading
	require.NoError(t, json.Unmarshal(popped[0], &first))
	assert.Equal(t, int64(1), first.Ts)

	n, err = s.Len(ctx, "ESP32_A")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemQueuePopFrontBoundedByLength(t *testing.T) {
	ctx := context.Background()
	s := NewMemQueue()
	require.NoError(t, s.Append(ctx, "ESP32_B", []model.Reading{{NodeID: "ESP32_B"}}))

	popped, err := s.PopFront(ctx, "ESP32_B", 150)
	require.NoError(t, err)
	assert.Len(t, popped, 1)
}

func TestMemQueueDiscoverNodesOnlyNonEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemQueue()
	require.NoError(t, s.Append(ctx, "ESP32_A", []model.Reading{{NodeID: "ESP32_A"}}))
	require.NoError(t, s.Append(ctx, "ESP32_B", []model.Reading{{NodeID: "ESP32_B"}}))
	_, err := s.PopFront(ctx, "ESP32_B", 1)
	require.NoError(t, err)

	nodes, err := s.DiscoverNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ESP32_A"}, nodes)
}

func TestMemQueueMetricsAccumulate(t *testing.T) {
	ctx := context.Background()
	s := NewMemQueue()

	require.NoError(t, s.RecordFlush(ctx, "ESP32_A", 100, 1000))
	require.NoError(t, s.RecordFlush(ctx, "ESP32_A", 50, 2000))

	m, err := s.Get(ctx, "ESP32_A")
	require.NoError(t, err)
	assert.EqualValues(t, 150, m.TotalRecords)
	assert.EqualValues(t, 2000, m.LastFlush)
}
