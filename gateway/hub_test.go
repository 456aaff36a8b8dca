package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisewatch/ingestd/internal/config"
	ingestdtest "github.com/noisewatch/ingestd/internal/testing"
)

func newTestHub() *Hub {
	return NewHub(&config.Config{BufferSize: 100}, ingestdtest.NewMemQueue(), ingestdtest.NewMemQueue(), ingestdtest.NewMemSeries())
}

func TestRegisterDeviceInstallsRegistryEntry(t *testing.T) {
	h := newTestHub()
	d := newDevice("ESP32_A", 1000, nil, false, nil)

	h.registerDevice(d)

	got, ok := h.deviceByID("ESP32_A")
	require.True(t, ok)
	assert.Equal(t, d, got)
}

func TestRegisterDeviceUnderNewSocketOverwritesPriorEntry(t *testing.T) {
	h := newTestHub()
	first := newDevice("ESP32_A", 1000, nil, false, nil)
	second := newDevice("ESP32_A", 2000, nil, false, nil)

	h.registerDevice(first)
	h.registerDevice(second)

	got, ok := h.deviceByID("ESP32_A")
	require.True(t, ok)
	assert.Equal(t, second, got)
}

func TestUnregisterDeviceIgnoresStaleSocket(t *testing.T) {
	h := newTestHub()
	first := newDevice("ESP32_A", 1000, nil, false, &deviceConn{})
	second := newDevice("ESP32_A", 2000, nil, false, &deviceConn{})

	h.registerDevice(first)
	h.registerDevice(second)

	// A disconnect callback racing in from the superseded first socket
	// must not evict the second, newer entry.
	h.unregisterDevice("ESP32_A", first.conn)

	got, ok := h.deviceByID("ESP32_A")
	require.True(t, ok)
	assert.Equal(t, second, got)
}

func TestUnregisterDeviceRemovesCurrentSocket(t *testing.T) {
	h := newTestHub()
	d := newDevice("ESP32_A", 1000, nil, false, nil)
	h.registerDevice(d)

	h.unregisterDevice("ESP32_A", d.conn)

	_, ok := h.deviceByID("ESP32_A")
	assert.False(t, ok)
}

func TestNodesSnapshotListsConnectedDevices(t *testing.T) {
	h := newTestHub()
	h.registerDevice(newDevice("ESP32_A", 1000, nil, false, nil))
	h.registerDevice(newDevice("ESP32_B", 1000, nil, false, nil))

	snap := h.NodesSnapshot()
	assert.Len(t, snap, 2)
}

func TestCommandDispatchFailsOnUnknownNode(t *testing.T) {
	h := newTestHub()
	_, ok := h.deviceByID("ESP32_ZZZZ")
	assert.False(t, ok)
}

func TestCommandDispatchFailsOnDisconnectedDevice(t *testing.T) {
	h := newTestHub()
	d := newDevice("ESP32_A", 1000, nil, false, nil)
	h.registerDevice(d)

	assert.False(t, d.Send("/stop", nil))
}
