package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/noisewatch/ingestd/model"
	"github.com/noisewatch/ingestd/queue"
)

// Device is the gateway-local, volatile state for one identified node:
// its connection metadata and its pending buffer. mu serializes buffer
// append with flush for this device, so accept and flush from different
// goroutines never interleave a partial write into the buffer.
type Device struct {
	mu sync.Mutex

	NodeID         string
	ConnectedAt    int64
	LastDataAt     int64
	Metadata       map[string]any
	AutoIdentified bool

	buffer []model.Reading
	conn   *deviceConn // nil once disconnected
}

func newDevice(nodeID string, connectedAt int64, metadata map[string]any, autoIdentified bool, conn *deviceConn) *Device {
	return &Device{
		NodeID:         nodeID,
		ConnectedAt:    connectedAt,
		LastDataAt:     connectedAt,
		Metadata:       metadata,
		AutoIdentified: autoIdentified,
		conn:           conn,
	}
}

// Accept appends r to the device's buffer and flushes if the buffer has
// reached bufferSize. onAppended, if non-nil, runs after the append but
// before the flush decision — the live-broadcast hook, so broadcast always
// observes the buffer state the gateway's step ordering requires. Returns
// whether a flush was attempted and its error, if any; on flush failure the
// buffer is retained so the next trigger retries.
func (d *Device) Accept(ctx context.Context, r model.Reading, bufferSize int, q queue.Store, onAppended func(model.Reading)) (flushed bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.LastDataAt = r.Ts
	d.buffer = append(d.buffer, r)
	if onAppended != nil {
		onAppended(r)
	}
	if len(d.buffer) < bufferSize {
		return false, nil
	}
	return true, d.flushLocked(ctx, q)
}

// Flush hands off the current buffer to the durable queue, best-effort, as
// used on disconnect and on shutdown drain.
func (d *Device) Flush(ctx context.Context, q queue.Store) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked(ctx, q)
}

func (d *Device) flushLocked(ctx context.Context, q queue.Store) error {
	if len(d.buffer) == 0 {
		return nil
	}
	if err := q.Append(ctx, d.NodeID, d.buffer); err != nil {
		return err
	}
	d.buffer = d.buffer[:0]
	return nil
}

// BufferLen reports the current buffer length (test/diagnostic use).
func (d *Device) BufferLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}

// Detach clears the connection reference on disconnect; command dispatch
// against a detached device fails fast with ErrSocketExpired.
func (d *Device) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = nil
}

// Send forwards a command frame to the device's live connection. Returns
// false if the device has no live connection.
func (d *Device) Send(event string, payload map[string]any) bool {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return false
	}
	return conn.send(event, payload)
}

// Summary renders the REST/broadcast view of this device.
func (d *Device) Summary() model.NodeSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return model.NodeSummary{
		NodeID:         d.NodeID,
		ConnectedAt:    d.ConnectedAt,
		LastDataAt:     d.LastDataAt,
		Metadata:       d.Metadata,
		AutoIdentified: d.AutoIdentified,
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
