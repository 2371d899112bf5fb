package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/meshwatchio/meshwatch/internal/store"
)

// ok writes the success envelope with the handler's payload fields
// merged in.
func (s *Server) ok(w http.ResponseWriter, payload map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	s.writeJSON(w, http.StatusOK, body)
}

// fail writes the error envelope.
func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// storeError maps a store failure onto the envelope: absent rows become
// 404, everything else 500.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.fail(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Warn("request failed", "error", err)
	s.fail(w, http.StatusInternalServerError, err.Error())
}

// writeJSON writes any document verbatim, bypassing the envelope for
// export endpoints.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", "error", err)
	}
}

// queryInt parses an optional integer query parameter, rejecting
// negatives.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}
