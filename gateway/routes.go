package gateway

import (
	"net/http"
	"strconv"

	"github.com/noisewatch/ingestd/internal/errors"
	"github.com/noisewatch/ingestd/internal/logger"
	"github.com/noisewatch/ingestd/store"
)

// RegisterRoutes wires the gateway's WebSocket endpoint and REST surface
// onto mux.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleSocket)

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/nodes", h.handleNodes)
	mux.HandleFunc("GET /api/series/{nodeId}", h.handleSeries)
	mux.HandleFunc("GET /api/latest/{nodeId}", h.handleLatest)
	mux.HandleFunc("GET /api/sync/{nodeId}", h.handleSync)
	mux.HandleFunc("GET /api/metrics/{nodeId}", h.handleMetrics)
	mux.HandleFunc("POST /api/command/{nodeId}", h.handleCommand)
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	nodes, clients := h.ConnectionCounts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"nodes":   nodes,
		"clients": clients,
	})
}

func (h *Hub) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.NodesSnapshot())
}

func (h *Hub) handleSeries(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("nodeId")
	q := r.URL.Query()

	query := store.SeriesQuery{
		FromTs:  parseInt64(q.Get("fromTs")),
		ToTs:    parseInt64(q.Get("toTs")),
		FromSeq: parseInt64(q.Get("fromSeq")),
		ToSeq:   parseInt64(q.Get("toSeq")),
		Limit:   parseInt64(q.Get("limit")),
	}

	records, err := h.ts.Series(r.Context(), nodeID, query)
	if err != nil {
		logger.Warnw("series query failed", "node_id", nodeID, "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Hub) handleLatest(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("nodeId")

	record, err := h.ts.Latest(r.Context(), nodeID)
	if err != nil {
		logger.Warnw("latest query failed", "node_id", nodeID, "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, errors.ErrUnknownNode.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Hub) handleSync(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("nodeId")
	raw := r.URL.Query().Get("lastSeq")
	if raw == "" {
		writeError(w, http.StatusBadRequest, errors.ErrMissingLastSeq.Error())
		return
	}
	lastSeq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.ErrMissingLastSeq.Error())
		return
	}

	records, err := h.ts.Sync(r.Context(), nodeID, lastSeq)
	if err != nil {
		logger.Warnw("sync query failed", "node_id", nodeID, "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Hub) handleMetrics(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("nodeId")

	metrics, err := h.mx.Get(r.Context(), nodeID)
	if err != nil {
		logger.Warnw("metrics query failed", "node_id", nodeID, "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (h *Hub) handleCommand(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("nodeId")

	var req commandRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, ok := commandEvents[req.Command]
	if !ok {
		writeError(w, http.StatusBadRequest, errors.ErrUnknownCommand.Error())
		return
	}

	dev, ok := h.deviceByID(nodeID)
	if !ok {
		writeError(w, http.StatusNotFound, errors.ErrUnknownNode.Error())
		return
	}
	if !dev.Send(event, req.Data) {
		writeError(w, http.StatusNotFound, errors.ErrSocketExpired.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
