package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/acquisition"
	"github.com/drumbench/drumbench/internal/store"
)

type resultCreateRequest struct {
	SourceDataset      string         `json:"source_dataset"`
	SourceFilename     string         `json:"source_filename"`
	SourceKind         string         `json:"source_kind"`
	SourceAudioURL     string         `json:"source_audio_url"`
	SourceMetadata     map[string]any `json:"source_metadata"`
	AppliedTags        map[string]any `json:"applied_tags"`
	GeneratedAudioID   string         `json:"generated_audio_id"`
	GeneratedAudioPath string         `json:"generated_audio_path"`
	Score              *int           `json:"score"`
	Notes              string         `json:"notes"`
}

type resultUpdateRequest struct {
	Score *int    `json:"score"`
	Notes *string `json:"notes"`
}

type resultCreateResponse struct {
	ID            int64 `json:"id"`
	AlreadyExists bool  `json:"already_exists,omitempty"`
}

type resultView struct {
	ID                  int64          `json:"id"`
	SourceDataset       string         `json:"source_dataset"`
	SourceFilename      string         `json:"source_filename"`
	SourceKind          *string        `json:"source_kind"`
	SourceAudioURL      *string        `json:"source_audio_url"`
	SourceAudioProxyURL string         `json:"source_audio_proxy_url"`
	SourceMetadata      map[string]any `json:"source_metadata"`
	AppliedTags         map[string]any `json:"applied_tags"`
	GeneratedAudioID    string         `json:"generated_audio_id"`
	GeneratedAudioURL   *string        `json:"generated_audio_url"`
	GeneratedAudioPath  string         `json:"generated_audio_path"`
	ModelVersion        string         `json:"model_version"`
	Score               int            `json:"score"`
	Notes               *string        `json:"notes"`
	TestedAt            time.Time      `json:"tested_at"`
	DrumType            string         `json:"drum_type"`
}

type resultsListResponse struct {
	Results []resultView `json:"results"`
}

func (s *Server) handleResultsRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleResultsList(w, r)
	case http.MethodPost:
		s.handleResultCreate(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET,POST,OPTIONS")
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleResultsList(w http.ResponseWriter, r *http.Request) {
	results, err := s.results.ListResults(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list results: %v", err))
		return
	}

	filter := strings.TrimSpace(r.URL.Query().Get("drum_type"))
	if filter == "kick" {
		filter = string(acquisition.BassDrum)
	}

	resp := resultsListResponse{Results: make([]resultView, 0, len(results))}
	for _, res := range results {
		if filter != "" && string(acquisition.Classify(res.SourceKind)) != filter {
			continue
		}
		resp.Results = append(resp.Results, s.viewResult(res))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResultCreate(w http.ResponseWriter, r *http.Request) {
	var payload resultCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}
	if err := payload.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, existed, err := s.results.CreateResult(r.Context(), store.Result{
		SourceDataset:      payload.SourceDataset,
		SourceFilename:     payload.SourceFilename,
		SourceKind:         payload.SourceKind,
		SourceAudioURL:     payload.SourceAudioURL,
		SourceMetadata:     payload.SourceMetadata,
		AppliedTags:        payload.AppliedTags,
		GeneratedAudioID:   payload.GeneratedAudioID,
		GeneratedAudioPath: payload.GeneratedAudioPath,
		ModelVersion:       s.modelVersion,
		Score:              *payload.Score,
		Notes:              payload.Notes,
	})
	if err != nil {
		s.writeStoreError(w, err, "failed to store result")
		return
	}
	if !existed {
		s.logger.Info("result stored",
			zap.Int64("id", id),
			zap.String("dataset", payload.SourceDataset),
			zap.String("filename", payload.SourceFilename),
			zap.Int("score", *payload.Score),
		)
	}
	s.writeJSON(w, http.StatusCreated, resultCreateResponse{ID: id, AlreadyExists: existed})
}

func (p resultCreateRequest) validate() error {
	switch {
	case strings.TrimSpace(p.SourceDataset) == "":
		return errors.New("source_dataset is required")
	case strings.TrimSpace(p.SourceFilename) == "":
		return errors.New("source_filename is required")
	case p.AppliedTags == nil:
		return errors.New("applied_tags is required")
	case strings.TrimSpace(p.GeneratedAudioID) == "":
		return errors.New("generated_audio_id is required")
	case strings.TrimSpace(p.GeneratedAudioPath) == "":
		return errors.New("generated_audio_path is required")
	case p.Score == nil:
		return errors.New("score is required")
	}
	return store.ValidateScore(*p.Score)
}

func (s *Server) handleResultSubroutes(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, apiPrefix+"/results/"), "/")
	if trimmed == "" {
		s.handleResultsRoot(w, r)
		return
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "result id must be a positive integer")
		return
	}

	switch r.Method {
	case http.MethodGet:
		res, err := s.results.GetResult(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err, "failed to load result")
			return
		}
		s.writeJSON(w, http.StatusOK, s.viewResult(res))
	case http.MethodPut:
		var payload resultUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
			return
		}
		res, err := s.results.UpdateResult(r.Context(), id, store.ResultUpdate{Score: payload.Score, Notes: payload.Notes})
		if err != nil {
			s.writeStoreError(w, err, "failed to update result")
			return
		}
		s.writeJSON(w, http.StatusOK, s.viewResult(res))
	case http.MethodDelete:
		if err := s.results.DeleteResult(r.Context(), id); err != nil {
			s.writeStoreError(w, err, "failed to delete result")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET,PUT,DELETE,OPTIONS")
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, message string) {
	switch {
	case store.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, "Result not found")
	case errors.Is(err, store.ErrInvalidScore):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrReadOnly):
		s.writeError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error(message, zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", message, err))
	}
}

func (s *Server) viewResult(res store.Result) resultView {
	view := resultView{
		ID:                  res.ID,
		SourceDataset:       res.SourceDataset,
		SourceFilename:      res.SourceFilename,
		SourceKind:          optional(res.SourceKind),
		SourceAudioURL:      optional(res.SourceAudioURL),
		SourceAudioProxyURL: s.sourceAudioProxyURL(res.SourceDataset, res.SourceFilename, ""),
		SourceMetadata:      res.SourceMetadata,
		AppliedTags:         res.AppliedTags,
		GeneratedAudioID:    res.GeneratedAudioID,
		GeneratedAudioPath:  res.GeneratedAudioPath,
		ModelVersion:        res.ModelVersion,
		Score:               res.Score,
		Notes:               optional(res.Notes),
		TestedAt:            res.TestedAt,
		DrumType:            string(acquisition.Classify(res.SourceKind)),
	}
	if res.GeneratedAudioID != "" {
		audioURL := generatedAudioURL(res.GeneratedAudioID)
		view.GeneratedAudioURL = &audioURL
	}
	return view
}
