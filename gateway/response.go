package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/noisewatch/ingestd/internal/errors"
)

// writeJSON encodes data as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes the {success:false, error} envelope every REST
// handler uses for non-2xx responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Success: false, Error: message})
}

// decodeJSONBody decodes the request body into v.
func decodeJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// statusForError maps a sentinel error to its REST status code, falling
// back to 500 for anything unrecognized.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errors.ErrUnknownNode), errors.Is(err, errors.ErrSocketExpired):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrUnknownCommand), errors.Is(err, errors.ErrMissingLastSeq):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
