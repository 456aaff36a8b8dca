// Package model holds the wire and storage types shared by the gateway
// and ingester: Readings in flight, Records once sequenced, and the
// small metadata bag devices attach to each.
package model

// Meta carries the open-schema metadata attached to a Reading. Source is
// always one of "esp32" (frames arriving via the `/save` path) or
// "socketio" (legacy `data`/`bulk:data` frames). RawDeviceID preserves the
// device-reported ID from a `/save` payload even when it differs from the
// identified NodeID. AutoIdentified records whether the device was
// identified implicitly (first `/save`, `data` or `bulk:data` frame on an
// unclaimed socket)
// rather than via an explicit identify frame.
type Meta struct {
	Source         string `json:"source" bson:"source"`
	RawDeviceID    string `json:"rawDeviceId,omitempty" bson:"rawDeviceId,omitempty"`
	AutoIdentified bool   `json:"autoIdentified,omitempty" bson:"autoIdentified,omitempty"`
}

// Reading is a single measurement accepted from a device, before it has
// been assigned a sequence number. Payload is an open map (min/max/avg/
// current, or whatever the device emits) rather than a closed struct,
// since sensor nodes vary what they report.
type Reading struct {
	NodeID  string             `json:"nodeId" bson:"nodeId"`
	Ts      int64              `json:"ts" bson:"ts"`
	Payload map[string]float64 `json:"payload" bson:"payload"`
	Meta    Meta               `json:"meta" bson:"meta"`
}

// Record is a Reading that has been durably assigned a per-node sequence
// number. (NodeID, Seq) is unique; (NodeID, Ts) is indexed but not unique.
type Record struct {
	NodeID  string             `json:"nodeId" bson:"nodeId"`
	Seq     int64              `json:"seq" bson:"seq"`
	Ts      int64              `json:"ts" bson:"ts"`
	Payload map[string]float64 `json:"payload" bson:"payload"`
	Meta    Meta               `json:"meta" bson:"meta"`
}

// ToRecord stamps a Reading with an allocated sequence number.
func (r Reading) ToRecord(seq int64) Record {
	return Record{
		NodeID:  r.NodeID,
		Seq:     seq,
		Ts:      r.Ts,
		Payload: r.Payload,
		Meta:    r.Meta,
	}
}

// NodeSummary is the connected-node registry snapshot served at
// GET /api/nodes and sent to newly connected dashboards as `nodes:list`.
type NodeSummary struct {
	NodeID         string         `json:"nodeId"`
	ConnectedAt    int64          `json:"connectedAt"`
	LastDataAt     int64          `json:"lastDataAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	AutoIdentified bool           `json:"autoIdentified"`
}

// Metrics is the per-node operational counter pair served at
// GET /api/metrics/:nodeId.
type Metrics struct {
	TotalRecords int64 `json:"totalRecords"`
	LastFlush    int64 `json:"lastFlush"`
}
