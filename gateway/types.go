package gateway

import "time"

const (
	// identifyTimeout is how long a freshly connected socket may remain
	// unidentified before it is demoted to a passive, still-promotable state.
	identifyTimeout = 3 * time.Second

	// writeWait bounds how long a single WebSocket write may block.
	writeWait = 10 * time.Second
	// pongWait is the read deadline extension granted on each pong.
	pongWait = 60 * time.Second
	// pingPeriod must stay below pongWait so pings arrive before the peer
	// would otherwise time out.
	pingPeriod = 25 * time.Second

	// maxFrameSize bounds a single inbound WebSocket message.
	maxFrameSize = 1 << 20

	// maxClients bounds concurrent dashboard connections.
	maxClients = 256
	// sendQueueSize bounds the per-connection outbound buffer; once it is
	// full, further frames to that peer are dropped until it drains.
	sendQueueSize = 256

	// shutdownTimeout bounds how long Stop waits for goroutines to drain.
	shutdownTimeout = 15 * time.Second
)

// commandEvents maps the REST command vocabulary onto wire event names sent
// to devices.
var commandEvents = map[string]string{
	"setThreshold": "/threshold/set",
	"stop":         "/stop",
	"start":        "/start",
	"reset":        "/reset",
}

// identifyPayload is the body of an `identify` frame.
type identifyPayload struct {
	Type     string         `json:"type"` // "node" | "client"
	NodeID   string         `json:"nodeId"`
	DeviceID string         `json:"deviceId"`
	Metadata map[string]any `json:"metadata"`
}

// commandRequest is the body of POST /api/command/:nodeId.
type commandRequest struct {
	Command string         `json:"command"`
	Data    map[string]any `json:"data"`
}

// apiError is the REST error envelope returned on non-2xx responses.
type apiError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
