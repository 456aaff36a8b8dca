package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ingestdtest "github.com/noisewatch/ingestd/internal/testing"
	"github.com/noisewatch/ingestd/model"
)

func reading(nodeID string, ts int64) model.Reading {
	return model.Reading{
		NodeID:  nodeID,
		Ts:      ts,
		Payload: map[string]float64{"avg": 15},
		Meta:    model.Meta{Source: "esp32"},
	}
}

func TestAcceptFlushesAtBufferThreshold(t *testing.T) {
	q := ingestdtest.NewMemQueue()
	d := newDevice("ESP32_A", 1000, nil, false, nil)

	for i := 0; i < 2; i++ {
		flushed, err := d.Accept(context.Background(), reading("ESP32_A", int64(1000+i)), 3, q, nil)
		require.NoError(t, err)
		assert.False(t, flushed)
	}

	flushed, err := d.Accept(context.Background(), reading("ESP32_A", 1002), 3, q, nil)
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Equal(t, 0, d.BufferLen())

	n, err := q.Len(context.Background(), "ESP32_A")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestAcceptInvokesOnAppendedBeforeFlushDecision(t *testing.T) {
	q := ingestdtest.NewMemQueue()
	d := newDevice("ESP32_A", 1000, nil, false, nil)

	var seen []int64
	hook := func(r model.Reading) { seen = append(seen, r.Ts) }

	_, err := d.Accept(context.Background(), reading("ESP32_A", 1000), 1, q, hook)
	require.NoError(t, err)
	assert.Equal(t, []int64{1000}, seen)
}

func TestFlushOnDisconnectDrainsRemainingBuffer(t *testing.T) {
	q := ingestdtest.NewMemQueue()
	d := newDevice("ESP32_A", 1000, nil, false, nil)

	_, err := d.Accept(context.Background(), reading("ESP32_A", 1000), 100, q, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, d.BufferLen())

	require.NoError(t, d.Flush(context.Background(), q))
	assert.Equal(t, 0, d.BufferLen())

	n, err := q.Len(context.Background(), "ESP32_A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDetachClearsConnectionForSend(t *testing.T) {
	dc := &deviceConn{outbox: make(chan []byte, 1)}
	d := newDevice("ESP32_A", 1000, nil, false, dc)
	assert.True(t, d.Send("/stop", nil))

	d.Detach()
	assert.False(t, d.Send("/stop", nil))
}

func TestSummaryReflectsAutoIdentifiedFlag(t *testing.T) {
	d := newDevice("ESP32_A", 1000, map[string]any{"fw": "1.2"}, true, nil)
	s := d.Summary()
	assert.Equal(t, "ESP32_A", s.NodeID)
	assert.True(t, s.AutoIdentified)
	assert.Equal(t, "1.2", s.Metadata["fw"])
}
