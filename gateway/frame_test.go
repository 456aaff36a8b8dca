package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalParseFrameRoundTrip(t *testing.T) {
	b, err := marshalFrame("data:live", map[string]any{"nodeId": "ESP32_A"})
	require.NoError(t, err)

	event, payload, err := parseFrame(b)
	require.NoError(t, err)
	assert.Equal(t, "data:live", event)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "ESP32_A", decoded["nodeId"])
}

func TestParseFrameRejectsNonArrayEnvelope(t *testing.T) {
	_, _, err := parseFrame([]byte(`{"event":"identify"}`))
	assert.Error(t, err)
}

func TestDecodePayloadStringUnwrapsJSONEncodedString(t *testing.T) {
	wrapped := json.RawMessage(`"{\"deviceId\":\"ESP32_A\",\"avg\":15}"`)
	out, err := decodePayloadString(wrapped)
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	assert.Equal(t, "ESP32_A", obj["deviceId"])
}

func TestDecodePayloadStringPassesThroughPlainObject(t *testing.T) {
	obj := json.RawMessage(`{"deviceId":"ESP32_A","avg":15}`)
	out, err := decodePayloadString(obj)
	require.NoError(t, err)
	assert.Equal(t, obj, out)
}

func TestAutoIdentifyNodeIDPrefersDeviceID(t *testing.T) {
	payload := json.RawMessage(`{"deviceId":"ESP32_A","avg":15}`)
	assert.Equal(t, "ESP32_A", autoIdentifyNodeID("/save", payload, "socket-uuid-123"))
}

func TestAutoIdentifyNodeIDSynthesizesFromSocketID(t *testing.T) {
	payload := json.RawMessage(`{"avg":15}`)
	assert.Equal(t, "ESP32_abcd1234", autoIdentifyNodeID("/save", payload, "abcd1234-5678-90ab"))
}

func TestAutoIdentifyNodeIDUnwrapsStringEncodedSavePayload(t *testing.T) {
	wrapped := json.RawMessage(`"{\"deviceId\":\"ESP32_B\"}"`)
	assert.Equal(t, "ESP32_B", autoIdentifyNodeID("/save", wrapped, "socket-uuid-123"))
}

func TestDecodeReadingPayloadSeparatesDeviceIDFromNumericFields(t *testing.T) {
	raw := json.RawMessage(`{"deviceId":"ESP32_A","min":10,"max":20,"avg":15}`)
	values, rawDeviceID, err := decodeReadingPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "ESP32_A", rawDeviceID)
	assert.Equal(t, map[string]float64{"min": 10, "max": 20, "avg": 15}, values)
}
