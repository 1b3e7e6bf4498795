// Package worker implements the synthesis worker's HTTP protocol: the
// handlers served by the worker process and the client used to reach it.
package worker

import (
	"net/http"

	"github.com/drumbench/drumbench/internal/labels"
	"github.com/drumbench/drumbench/internal/synth"
)

const (
	HeaderSampleRate = "X-Sample-Rate"
	HeaderRequestID  = "X-Request-Id"

	contentTypeJSON = "application/json"
	contentTypeWAV  = "audio/wav"
)

// SchemaResponse is the body of GET /schema.
type SchemaResponse struct {
	ConditioningParams []string       `json:"conditioning_params"`
	LabelSchema        *labels.Schema `json:"label_schema"`
}

// GenerateRequest is the body of POST /generate. Nil temperature or width
// take the worker defaults.
type GenerateRequest struct {
	Labels      map[string]any     `json:"labels"`
	Sliders     map[string]float64 `json:"sliders"`
	Temperature *float64           `json:"temperature,omitempty"`
	Width       *float64           `json:"width,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse is the JSON error envelope returned by the worker.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func statusForKind(kind synth.ErrorKind) int {
	switch kind {
	case synth.KindInvalidRequest:
		return http.StatusBadRequest
	case synth.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func kindForStatus(status int) synth.ErrorKind {
	switch {
	case status == http.StatusBadRequest:
		return synth.KindInvalidRequest
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return synth.KindUnavailable
	default:
		return synth.KindSynthesisFailed
	}
}
