package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/labels"
	"github.com/drumbench/drumbench/internal/synth"
	"github.com/drumbench/drumbench/internal/version"
)

const maxGenerateBody = 1 << 20

// Generator renders audio for one generate request.
type Generator interface {
	ConditioningParams() []string
	Generate(req synth.Request) (*synth.Rendered, error)
}

// Server serves the worker protocol.
type Server struct {
	gen    Generator
	schema *labels.Schema
	logger *zap.Logger
}

// NewServer binds the protocol handlers to gen and the loaded label schema.
func NewServer(gen Generator, schema *labels.Schema, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{gen: gen, schema: schema, logger: logger.Named("worker")}
}

// Handler returns the HTTP handler for the worker.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/schema", s.handleSchema)
	mux.HandleFunc("/generate", s.handleGenerate)
	mux.HandleFunc("/", s.handleNotFound)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.handleNotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: version.String()})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.handleNotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, SchemaResponse{
		ConditioningParams: s.gen.ConditioningParams(),
		LabelSchema:        s.schema,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.handleNotFound(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxGenerateBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	var payload GenerateRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	req := synth.Request{
		Labels:      payload.Labels,
		Sliders:     payload.Sliders,
		Temperature: constants.DefaultTemperature,
		Width:       constants.DefaultStereoWidth,
	}
	if payload.Temperature != nil {
		req.Temperature = *payload.Temperature
	}
	if payload.Width != nil {
		req.Width = *payload.Width
	}

	rendered, err := s.gen.Generate(req)
	if err != nil {
		s.writeError(w, statusForKind(synth.KindOf(err)), err.Error())
		return
	}

	requestID := uuid.NewString()
	h := w.Header()
	h.Set("Content-Type", contentTypeWAV)
	h.Set("Content-Length", strconv.Itoa(len(rendered.WAV)))
	h.Set(HeaderSampleRate, strconv.Itoa(rendered.SampleRate))
	h.Set(HeaderRequestID, requestID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rendered.WAV); err != nil {
		s.logger.Debug("client went away", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	s.logger.Info("generated",
		zap.String("request_id", requestID),
		zap.Int("passes", rendered.Passes),
		zap.Int("bytes", len(rendered.WAV)),
	)
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	s.writeError(w, http.StatusNotFound, "Not found")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, ErrorResponse{Detail: detail})
}

// Serve listens on addr and serves handler until ctx is cancelled, then
// shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: constants.HTTPReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.HTTPShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
