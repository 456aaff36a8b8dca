package gateway

import (
	"encoding/json"

	"github.com/noisewatch/ingestd/internal/errors"
)

// marshalFrame encodes event/payload as the two-element wire array
// `["<event>", <payload>]` the device and dashboard protocol uses for
// every outbound message: broadcasts and commands alike.
func marshalFrame(event string, payload interface{}) ([]byte, error) {
	return json.Marshal([2]interface{}{event, payload})
}

// parseFrame decodes a raw inbound message into its event name and raw
// payload. Devices and dashboards both speak the same envelope.
func parseFrame(raw []byte) (event string, payload json.RawMessage, err error) {
	var parts [2]json.RawMessage
	if unmarshalErr := json.Unmarshal(raw, &parts); unmarshalErr != nil {
		return "", nil, errors.Wrap(unmarshalErr, "decoding frame envelope")
	}
	if unmarshalErr := json.Unmarshal(parts[0], &event); unmarshalErr != nil {
		return "", nil, errors.Wrap(unmarshalErr, "decoding frame event name")
	}
	return event, parts[1], nil
}

// decodePayloadString unwraps a `/save` payload that may arrive either as a
// JSON object or as a JSON-encoded string wrapping that object.
func decodePayloadString(raw json.RawMessage) (json.RawMessage, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return json.RawMessage(asString), nil
	}
	return raw, nil
}
