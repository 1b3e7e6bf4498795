package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/version"
)

type workerHealthResponse struct {
	URL       string `json:"url"`
	PortBound bool   `json:"port_bound"`
	Healthy   bool   `json:"healthy"`
	Version   string `json:"version,omitempty"`
	Warning   string `json:"warning,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleWorkerStart(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "POST,OPTIONS", http.MethodPost) {
		return
	}
	if s.supervisor == nil {
		s.writeError(w, http.StatusServiceUnavailable, "worker supervisor unavailable")
		return
	}
	res, err := s.supervisor.EnsureStarted(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to start worker: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWorkerStop(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "POST,OPTIONS", http.MethodPost) {
		return
	}
	if s.supervisor == nil {
		s.writeError(w, http.StatusServiceUnavailable, "worker supervisor unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), constants.WorkerGracefulStopWindow+constants.Duration5Seconds)
	defer cancel()
	if err := s.supervisor.Stop(ctx); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to stop worker: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleWorkerHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "GET,OPTIONS", http.MethodGet) {
		return
	}
	resp := workerHealthResponse{URL: s.worker.BaseURL()}
	if s.supervisor != nil {
		resp.PortBound = s.supervisor.Running(r.Context())
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.WorkerHealthTimeout)
	defer cancel()
	health, err := s.worker.Health(ctx)
	if err != nil {
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Healthy = true
	resp.PortBound = true
	resp.Version = health.Version
	resp.Warning = version.CheckWorkerMismatch(health.Version)
	s.writeJSON(w, http.StatusOK, resp)
}

// handleGeneratedAudio serves /api/audio/{id} from the audio directory.
func (s *Server) handleGeneratedAudio(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "GET,HEAD,OPTIONS", http.MethodGet, http.MethodHead) {
		return
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/audio/"), ".wav")
	id, err := uuid.Parse(raw)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Audio file not found")
		return
	}

	path := filepath.Join(s.audioDir, id.String()+".wav")
	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Audio file not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.writeError(w, http.StatusNotFound, "Audio file not found")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
