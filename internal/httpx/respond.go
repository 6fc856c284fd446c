package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/darktidesresearch/storefront/internal/inventory"
)

const maxJSONBody = 64 << 10

type errorBody struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Message: msg})
}

// decodeJSON reads a bounded JSON body and rejects unknown trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// session reads the shopper session header. A missing header is an empty
// session; a malformed one is an error.
func session(r *http.Request) (inventory.Session, error) {
	raw := r.Header.Get(headerSession)
	if raw == "" {
		return inventory.Session{}, nil
	}
	return inventory.ParseSession(raw)
}
