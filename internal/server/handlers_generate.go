package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/labels"
	"github.com/drumbench/drumbench/internal/synth"
	"github.com/drumbench/drumbench/internal/worker"
)

const maxGenerateBody = 1 << 20

type generateRequest struct {
	Sample      map[string]any     `json:"sample"`
	Tags        map[string]any     `json:"tags"`
	Sliders     map[string]float64 `json:"sliders"`
	Temperature *float64           `json:"temperature"`
	Width       *float64           `json:"width"`
}

type generateResponse struct {
	AudioID       string         `json:"audio_id"`
	AudioURL      string         `json:"audio_url"`
	AudioFilePath string         `json:"audio_file_path"`
	AppliedTags   map[string]any `json:"applied_tags"`
	ModelVersion  string         `json:"model_version"`
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "GET,OPTIONS", http.MethodGet) {
		return
	}
	schema, err := s.loadSchema(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, schema)
}

// loadSchema returns the worker's schema, cached after the first success.
// Concurrent misses share one worker request. When the worker cannot answer,
// the exported label dictionary is read from disk instead.
func (s *Server) loadSchema(ctx context.Context) (*worker.SchemaResponse, error) {
	s.schemaMu.RLock()
	cached := s.schema
	s.schemaMu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := s.schemaGroup.Do("schema", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.WorkerHealthTimeout)
		defer cancel()
		schema, err := s.worker.Schema(fetchCtx)
		if err == nil && schema.LabelSchema != nil {
			s.schemaMu.Lock()
			s.schema = schema
			s.schemaMu.Unlock()
			return schema, nil
		}
		s.logger.Debug("worker schema unavailable, reading from disk", zap.Error(err))

		disk, derr := s.schemaFromDisk()
		if derr != nil {
			return nil, fmt.Errorf("model schema unavailable: %w", errors.Join(err, derr))
		}
		return disk, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*worker.SchemaResponse), nil
}

func (s *Server) schemaFromDisk() (*worker.SchemaResponse, error) {
	if s.onnxDir == "" {
		return nil, errors.New("no model directory configured")
	}
	schema, err := labels.Load(filepath.Join(s.onnxDir, synth.LabelDictionariesFile))
	if err != nil {
		return nil, err
	}
	cfg, err := synth.LoadModelConfig(s.onnxDir)
	if err != nil {
		return nil, err
	}
	return &worker.SchemaResponse{ConditioningParams: cfg.ConditioningParams, LabelSchema: schema}, nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "POST,OPTIONS", http.MethodPost) {
		return
	}

	var payload generateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBody)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}
	if payload.Tags == nil {
		s.writeError(w, http.StatusBadRequest, "tags are required")
		return
	}

	schema, err := s.loadSchema(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	applied := labels.Normalize(payload.Tags, schema.LabelSchema)
	sliders := make(map[string]float64, len(schema.ConditioningParams))
	for _, name := range schema.ConditioningParams {
		sliders[name] = payload.Sliders[name]
	}
	temperature := float64(constants.DefaultTemperature)
	if payload.Temperature != nil {
		temperature = *payload.Temperature
	}
	width := float64(constants.DefaultStereoWidth)
	if payload.Width != nil {
		width = *payload.Width
	}

	result, err := s.worker.Generate(r.Context(), worker.GenerateRequest{
		Labels:      applied,
		Sliders:     sliders,
		Temperature: &temperature,
		Width:       &width,
	})
	if err != nil {
		if synth.KindOf(err) == synth.KindInvalidRequest {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.kickWorker(r.Context())
		s.writeError(w, http.StatusBadGateway,
			fmt.Sprintf("Model generation failed (is the model worker running at %s?): %v", s.worker.BaseURL(), err))
		return
	}

	audioID := uuid.NewString()
	path := filepath.Join(s.audioDir, audioID+".wav")
	if err := os.MkdirAll(s.audioDir, 0o755); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to prepare audio directory: %v", err))
		return
	}
	if err := os.WriteFile(path, result.Audio, 0o644); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to store generated audio: %v", err))
		return
	}
	s.logger.Info("generated audio stored",
		zap.String("audio_id", audioID),
		zap.String("worker_request_id", result.RequestID),
		zap.Int("sample_rate", result.SampleRate),
	)

	s.writeJSON(w, http.StatusOK, generateResponse{
		AudioID:       audioID,
		AudioURL:      generatedAudioURL(audioID),
		AudioFilePath: path,
		AppliedTags:   applied,
		ModelVersion:  s.modelVersion,
	})
}

// kickWorker asks the supervisor to spawn the worker after a failed call so
// that a retry can succeed.
func (s *Server) kickWorker(ctx context.Context) {
	if s.supervisor == nil {
		return
	}
	res, err := s.supervisor.EnsureStarted(ctx)
	if err != nil {
		s.logger.Warn("failed to start model worker", zap.Error(err))
		return
	}
	s.logger.Info("model worker start requested", zap.String("status", string(res.Status)), zap.Int("pid", res.PID))
}

func generatedAudioURL(audioID string) string {
	return "/api/audio/" + audioID
}
