package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/noisewatch/ingestd/internal/logger"
	"github.com/noisewatch/ingestd/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// deviceConn is the live WebSocket connection backing one identified
// device. Device.Send forwards command frames through it; it stops
// forwarding once the device calls Detach on disconnect.
type deviceConn struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	outbox chan []byte
	device *Device

	mu     sync.Mutex
	closed bool
}

func newDeviceConn(h *Hub, socketID string, conn *websocket.Conn) *deviceConn {
	return &deviceConn{
		id:     socketID,
		hub:    h,
		conn:   conn,
		outbox: make(chan []byte, sendQueueSize),
	}
}

// send encodes event/payload as a frame and enqueues it for delivery.
// Returns false if the connection's outbound queue is full or already
// closed. close and send share dc.mu so a command dispatched the instant a
// device disconnects degrades to Device.Send's false return (the caller's
// 404) rather than racing the channel close.
func (dc *deviceConn) send(event string, payload map[string]any) bool {
	b, err := marshalFrame(event, payload)
	if err != nil {
		logger.Warnw("failed to encode command frame", "node_id", dc.device.NodeID, "event", event, "error", err)
		return false
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.closed {
		return false
	}
	select {
	case dc.outbox <- b:
		return true
	default:
		return false
	}
}

func (dc *deviceConn) close() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.closed {
		return
	}
	dc.closed = true
	close(dc.outbox)
	dc.conn.Close()
}

// HandleSocket upgrades an inbound connection and runs it through the
// dual identification path: explicit `identify` or implicit promotion on
// first `/save`/`data`/`bulk:data`. The connection becomes either a device
// (gateway's registry entry) or a dashboard Client depending on which side
// identifies first.
func (h *Hub) HandleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	socketID := uuid.NewString()
	timer := time.AfterFunc(identifyTimeout, func() {
		logger.Debugw("socket still unidentified after timeout, remains promotable on next frame", "socket_id", socketID)
	})

	h.runUnidentified(socketID, conn, timer)
}

// runUnidentified reads frames from a freshly upgraded socket until one of
// them resolves its role, then hands off to the device or dashboard read
// loop. Once a role is resolved it returns only after that read loop ends.
func (h *Hub) runUnidentified(socketID string, conn *websocket.Conn, timer *time.Timer) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			timer.Stop()
			conn.Close()
			return
		}

		event, payload, err := parseFrame(raw)
		if err != nil {
			logger.Debugw("dropping malformed frame from unidentified socket", "socket_id", socketID, "error", err)
			continue
		}

		switch event {
		case "identify":
			var ident identifyPayload
			if jsonErr := json.Unmarshal(payload, &ident); jsonErr != nil {
				logger.Warnw("malformed identify frame, disconnecting", "socket_id", socketID, "error", jsonErr)
				timer.Stop()
				conn.Close()
				return
			}
			switch ident.Type {
			case "client":
				timer.Stop()
				h.promoteClient(conn)
				return
			case "node":
				nodeID := firstNonEmpty(ident.NodeID, ident.DeviceID)
				if nodeID == "" {
					logger.Warnw("identify frame with no usable id, disconnecting", "socket_id", socketID)
					timer.Stop()
					conn.Close()
					return
				}
				timer.Stop()
				dc := h.promoteDevice(socketID, conn, nodeID, ident.Metadata, false)
				h.wg.Add(1)
				dc.readPump()
				h.wg.Done()
				return
			default:
				logger.Warnw("identify frame with unknown type, disconnecting", "socket_id", socketID, "type", ident.Type)
				timer.Stop()
				conn.Close()
				return
			}

		case "/save", "data", "bulk:data":
			timer.Stop()
			nodeID := autoIdentifyNodeID(event, payload, socketID)
			dc := h.promoteDevice(socketID, conn, nodeID, nil, true)
			dc.handleFrame(event, payload)
			h.wg.Add(1)
			dc.readPump()
			h.wg.Done()
			return

		default:
			logger.Debugw("unknown frame type from unidentified socket", "socket_id", socketID, "event", event)
		}
	}
}

// promoteClient and promoteDevice both track their writePump goroutine
// (and, for the caller's own readPump call, the handler goroutine itself)
// against h.wg so Stop can join on in-flight connections before the HTTP
// server shuts down.

func (h *Hub) promoteClient(conn *websocket.Conn) {
	c := newClient(h, conn)
	h.register <- c

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	defer h.wg.Done()
	c.readPump()
}

func (h *Hub) promoteDevice(socketID string, conn *websocket.Conn, nodeID string, metadata map[string]any, autoIdentified bool) *deviceConn {
	dc := newDeviceConn(h, socketID, conn)
	dev := newDevice(nodeID, nowMillis(), metadata, autoIdentified, dc)
	dc.device = dev

	h.registerDevice(dev)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		dc.writePump()
	}()
	return dc
}

// readPump handles inbound device frames until the connection closes, then
// unregisters the device and releases its socket resources.
func (dc *deviceConn) readPump() {
	defer func() {
		dc.hub.unregisterDevice(dc.device.NodeID, dc)
		dc.close()
	}()

	for {
		_, raw, err := dc.conn.ReadMessage()
		if err != nil {
			return
		}
		event, payload, err := parseFrame(raw)
		if err != nil {
			logger.Debugw("dropping malformed device frame", "node_id", dc.device.NodeID, "error", err)
			continue
		}
		dc.handleFrame(event, payload)
	}
}

// writePump delivers queued command frames and periodic pings until the
// outbound queue is closed.
func (dc *deviceConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		dc.conn.Close()
	}()

	for {
		select {
		case b, ok := <-dc.outbox:
			dc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				dc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := dc.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			dc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := dc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame dispatches one already-identified device frame. A redundant
// identify is logged and ignored, satisfying identify idempotence.
func (dc *deviceConn) handleFrame(event string, payload json.RawMessage) {
	switch event {
	case "identify":
		logger.Debugw("ignoring redundant identify on already-identified socket", "node_id", dc.device.NodeID)
	case "/save":
		dc.handleSave(payload)
	case "data":
		dc.handleReading(payload, "socketio")
	case "bulk:data":
		dc.handleBulk(payload)
	default:
		logger.Debugw("unknown device frame type", "node_id", dc.device.NodeID, "event", event)
	}
}

func (dc *deviceConn) handleSave(raw json.RawMessage) {
	unwrapped, err := decodePayloadString(raw)
	if err != nil {
		logger.Debugw("dropping malformed /save frame", "node_id", dc.device.NodeID, "error", err)
		return
	}
	values, rawDeviceID, err := decodeReadingPayload(unwrapped)
	if err != nil {
		logger.Debugw("dropping malformed /save frame", "node_id", dc.device.NodeID, "error", err)
		return
	}
	dc.accept(values, "esp32", rawDeviceID)
}

func (dc *deviceConn) handleReading(raw json.RawMessage, source string) {
	values, rawDeviceID, err := decodeReadingPayload(raw)
	if err != nil {
		logger.Debugw("dropping malformed data frame", "node_id", dc.device.NodeID, "error", err)
		return
	}
	dc.accept(values, source, rawDeviceID)
}

func (dc *deviceConn) handleBulk(raw json.RawMessage) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.Debugw("dropping malformed bulk:data frame", "node_id", dc.device.NodeID, "error", err)
		return
	}
	for _, item := range items {
		dc.handleReading(item, "socketio")
	}
}

func (dc *deviceConn) accept(values map[string]float64, source, rawDeviceID string) {
	r := model.Reading{
		NodeID:  dc.device.NodeID,
		Ts:      nowMillis(),
		Payload: values,
		Meta: model.Meta{
			Source:         source,
			RawDeviceID:    rawDeviceID,
			AutoIdentified: dc.device.AutoIdentified,
		},
	}

	flushed, err := dc.device.Accept(dc.hub.ctx, r, dc.hub.cfg.BufferSize, dc.hub.queue, dc.hub.broadcastLive)
	if err != nil {
		logger.Warnw("flush failed, buffer retained for retry", "node_id", dc.device.NodeID, "error", err)
		return
	}
	if flushed {
		logger.Debugw("buffer threshold flush", "node_id", dc.device.NodeID)
	}
}

// autoIdentifyNodeID extracts deviceId from a pre-identify frame, falling
// back to the ESP32_<first 8 chars of socketId> synthesis rule when the
// frame carries none.
func autoIdentifyNodeID(event string, payload json.RawMessage, socketID string) string {
	unwrapped := payload
	if event == "/save" {
		if u, err := decodePayloadString(payload); err == nil {
			unwrapped = u
		}
	}

	var probe struct {
		DeviceID string `json:"deviceId"`
	}
	_ = json.Unmarshal(unwrapped, &probe)
	if probe.DeviceID != "" {
		return probe.DeviceID
	}

	prefix := socketID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "ESP32_" + prefix
}

// decodeReadingPayload splits a raw reading object into its numeric
// payload and its deviceId, if present.
func decodeReadingPayload(raw json.RawMessage) (map[string]float64, string, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, "", err
	}
	rawDeviceID, _ := generic["deviceId"].(string)
	delete(generic, "deviceId")

	values := make(map[string]float64, len(generic))
	for k, v := range generic {
		if f, ok := v.(float64); ok {
			values[k] = f
		}
	}
	return values, rawDeviceID, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
