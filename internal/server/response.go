package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse is the JSON error envelope returned by all HTTP error responses.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

// writeError writes a JSON error response with the given HTTP status code and message.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Detail: message})
}

// allowMethods answers OPTIONS and rejects anything not listed. It reports
// whether the handler should continue.
func (s *Server) allowMethods(w http.ResponseWriter, r *http.Request, allow string, methods ...string) bool {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", allow)
	s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
