package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/noisewatch/ingestd/internal/logger"
)

// Client is a dashboard WebSocket connection: it receives node:connected/
// node:disconnected/nodes:list/data:live broadcasts and may send
// subscribe/unsubscribe frames (reserved for future selective fan-out;
// the gateway currently always broadcasts data:live to every client).
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte

	subscriptions sync.Map // map[string]struct{} — reserved, unused for fan-out today
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
}

// sendJSON encodes event/payload as a frame and enqueues it for delivery.
// Returns false if the client's outbound queue is full or already closed.
// close and sendJSON share c.mu so a send can never race a concurrent close
// of c.send.
func (c *Client) sendJSON(event string, payload interface{}) bool {
	b, err := marshalFrame(event, payload)
	if err != nil {
		logger.Warnw("failed to encode dashboard frame", "event", event, "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.conn.Close()
}

// readPump handles inbound dashboard frames: subscribe and unsubscribe.
// The client is already registered with the hub (promoteClient does that
// before readPump starts); readPump unregisters it on any read error or
// close.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		event, payload, err := parseFrame(raw)
		if err != nil {
			logger.Debugw("dropping malformed dashboard frame", "client_id", c.id, "error", err)
			continue
		}

		switch event {
		case "subscribe", "unsubscribe":
			var nodeID string
			if jsonErr := json.Unmarshal(payload, &nodeID); jsonErr == nil {
				if event == "subscribe" {
					c.subscriptions.Store(nodeID, struct{}{})
				} else {
					c.subscriptions.Delete(nodeID)
				}
			}
		default:
			logger.Debugw("unknown dashboard frame type", "client_id", c.id, "event", event)
		}
	}
}

// writePump delivers queued frames and periodic pings to the dashboard
// connection until the send channel is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
