package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/acquisition"
	"github.com/drumbench/drumbench/internal/catalog"
	"github.com/drumbench/drumbench/internal/constants"
)

type sampleView struct {
	ID                  string         `json:"id"`
	Dataset             string         `json:"dataset"`
	Filename            string         `json:"filename"`
	DBSource            string         `json:"db_source"`
	Kind                string         `json:"kind"`
	DrumType            string         `json:"drum_type"`
	Tags                map[string]any `json:"tags"`
	SourceAudioProxyURL string         `json:"source_audio_proxy_url"`
	SourceAudioURL      *string        `json:"source_audio_url"`
	RawSample           catalog.Item   `json:"raw_sample"`
	SourceJSONForModel  map[string]any `json:"source_json_for_model"`
}

type samplesResponse struct {
	Samples              []sampleView `json:"samples"`
	UnusedTotal          int          `json:"unused_total"`
	RequestedLimit       int          `json:"requested_limit"`
	RemainingAfterReturn int          `json:"remaining_after_return"`
	Depleted             bool         `json:"depleted"`
	Message              *string      `json:"message"`
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "GET,OPTIONS", http.MethodGet) {
		return
	}

	query := r.URL.Query()
	rawType := strings.TrimSpace(query.Get("drum_type"))
	if rawType == "" {
		rawType = string(acquisition.BassDrum)
	}
	drumType, err := acquisition.ParseDrumType(rawType)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := constants.DefaultSampleQuota
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > constants.MaxSampleQuota {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between 1 and %d", constants.MaxSampleQuota))
			return
		}
	}

	used, err := s.usedKeys(r.Context())
	if err != nil {
		s.logger.Error("failed to load scored keys", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load scored results")
		return
	}

	batch, err := s.selector.ListUnused(r.Context(), drumType, limit, used)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("Failed to fetch source samples: %v", err))
		return
	}

	resp := samplesResponse{
		Samples:              make([]sampleView, 0, len(batch.Items)),
		UnusedTotal:          batch.TotalAvailable,
		RequestedLimit:       batch.QuotaRequested,
		RemainingAfterReturn: batch.Remaining,
		Depleted:             batch.Depleted,
	}
	for _, sample := range batch.Items {
		resp.Samples = append(resp.Samples, s.viewSample(sample))
	}
	if batch.Depleted {
		msg := fmt.Sprintf("No unused samples left for %s.", drumType)
		resp.Message = &msg
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// usedKeys loads every scored (dataset, filename) pair.
func (s *Server) usedKeys(ctx context.Context) (*acquisition.UsedKeys, error) {
	keys, err := s.results.ScoredKeys(ctx)
	if err != nil {
		return nil, err
	}
	used := acquisition.NewUsedKeys(s.reg.Primary().Name)
	for _, k := range keys {
		used.Add(k.Dataset, k.Filename)
	}
	return used, nil
}

func (s *Server) viewSample(sample acquisition.Sample) sampleView {
	return sampleView{
		ID:                  sample.ID(),
		Dataset:             sample.EncodedDataset(),
		Filename:            sample.Filename,
		DBSource:            sample.Source,
		Kind:                sample.Kind,
		DrumType:            string(sample.DrumType()),
		Tags:                sample.PromptTags(),
		SourceAudioProxyURL: s.sourceAudioProxyURL(sample.EncodedDataset(), sample.Filename, sample.Source),
		SourceAudioURL:      optional(sample.AudioURL()),
		RawSample:           sample.Item,
		SourceJSONForModel:  sample.ModelJSON(),
	}
}

// sourceAudioProxyURL builds the API path that proxies a sample's source
// audio. source overrides the one encoded in dataset.
func (s *Server) sourceAudioProxyURL(dataset, filename, source string) string {
	encodedSource, raw := s.reg.DecodeDataset(dataset)
	if source == "" {
		source = encodedSource
	}
	link := apiPrefix + "/source-audio?dataset=" + url.QueryEscape(raw) + "&filename=" + url.QueryEscape(filename)
	if source != "" {
		link += "&db_source=" + url.QueryEscape(source)
	}
	return link
}

func (s *Server) handleSourceAudio(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "GET,OPTIONS", http.MethodGet) {
		return
	}

	query := r.URL.Query()
	dataset := query.Get("dataset")
	filename := query.Get("filename")
	if dataset == "" || filename == "" {
		s.writeError(w, http.StatusBadRequest, "dataset and filename are required")
		return
	}

	audio, err := s.audio.ProxyAudio(r.Context(), s.reg, strings.TrimSpace(query.Get("db_source")), dataset, filename)
	if err != nil {
		if !errors.Is(err, catalog.ErrAudioNotFound) {
			s.logger.Warn("source audio lookup failed", zap.String("filename", filename), zap.Error(err))
		}
		s.writeError(w, http.StatusNotFound, "Source audio not found")
		return
	}

	w.Header().Set("Content-Type", audio.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio.Data); err != nil {
		s.logger.Debug("client went away during audio proxy", zap.Error(err))
	}
}
