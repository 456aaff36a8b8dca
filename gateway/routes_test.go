package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisewatch/ingestd/model"
)

func newTestHubWithRoutes() (*Hub, *http.ServeMux) {
	h := newTestHub()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

func TestHandleSyncReturns400WhenLastSeqMissing(t *testing.T) {
	_, mux := newTestHubWithRoutes()

	req := httptest.NewRequest(http.MethodGet, "/api/sync/ESP32_A", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSyncReturnsDensePrefixAboveLastSeq(t *testing.T) {
	h, mux := newTestHubWithRoutes()
	require.NoError(t, h.ts.BulkInsert(context.Background(), []model.Record{
		{NodeID: "ESP32_A", Seq: 1, Ts: 1000},
		{NodeID: "ESP32_A", Seq: 2, Ts: 1100},
		{NodeID: "ESP32_A", Seq: 3, Ts: 1200},
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/sync/ESP32_A?lastSeq=1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var records []model.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[0].Seq)
	assert.Equal(t, int64(3), records[1].Seq)
}

func TestHandleCommandReturns404WhenNodeUnknown(t *testing.T) {
	_, mux := newTestHubWithRoutes()

	body := bytes.NewBufferString(`{"command":"setThreshold","data":{"threshold":80}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/command/ESP32_ZZZZ", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCommandReturns400OnUnknownCommand(t *testing.T) {
	h, mux := newTestHubWithRoutes()
	h.registerDevice(newDevice("ESP32_A", 1000, nil, false, nil))

	body := bytes.NewBufferString(`{"command":"reboot"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/command/ESP32_A", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCommandReturns404WhenDeviceHasNoLiveConnection(t *testing.T) {
	h, mux := newTestHubWithRoutes()
	h.registerDevice(newDevice("ESP32_A", 1000, nil, false, nil)) // conn is nil: not actually connected

	body := bytes.NewBufferString(`{"command":"stop"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/command/ESP32_A", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleNodesListsSnapshot(t *testing.T) {
	h, mux := newTestHubWithRoutes()
	h.registerDevice(newDevice("ESP32_A", 1000, nil, false, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/nodes", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []model.NodeSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "ESP32_A", nodes[0].NodeID)
}

func TestHandleHealthReportsOK(t *testing.T) {
	h, mux := newTestHubWithRoutes()
	h.registerDevice(newDevice("ESP32_A", 1000, nil, false, nil))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["nodes"])
	assert.Equal(t, float64(0), body["clients"])
}
