package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/drumbench/drumbench/internal/worker"
)

// passthroughPrefix exposes the worker protocol through the API process so
// browsers only talk to one origin.
const passthroughPrefix = "/api/model-beta"

func (s *Server) handlePassthroughHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "GET,OPTIONS", http.MethodGet) {
		return
	}
	health, err := s.worker.Health(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("Model Beta worker unavailable: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handlePassthroughSchema(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "GET,OPTIONS", http.MethodGet) {
		return
	}
	schema, err := s.worker.Schema(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("Model Beta worker unavailable: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handlePassthroughGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "POST,OPTIONS", http.MethodPost) {
		return
	}
	var req worker.GenerateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	res, err := s.worker.Generate(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("Model Beta worker error: %v", err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "audio/wav")
	if res.SampleRate > 0 {
		h.Set(worker.HeaderSampleRate, strconv.Itoa(res.SampleRate))
	}
	if res.RequestID != "" {
		h.Set(worker.HeaderRequestID, res.RequestID)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Audio)
}
