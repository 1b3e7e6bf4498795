// Package server exposes the A/B testing API: catalog sample selection,
// source audio proxying, generation through the model worker, and scored
// results.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/drumbench/drumbench/internal/catalog"
	"github.com/drumbench/drumbench/internal/worker"
)

const apiPrefix = "/api/model-testing"

// Options wires the server's collaborators.
type Options struct {
	Registry   *catalog.Registry
	Selector   SampleSelector
	Audio      SourceAudioFetcher
	Results    ResultStore
	Worker     ModelWorker
	Supervisor WorkerSupervisor

	// AudioDir receives generated files served under /api/audio/.
	AudioDir string
	// ONNXDir holds the exported label dictionary used when the worker
	// cannot serve its schema.
	ONNXDir      string
	ModelVersion string
	Logger       *zap.Logger
}

// Server is the A/B testing HTTP API.
type Server struct {
	reg          *catalog.Registry
	selector     SampleSelector
	audio        SourceAudioFetcher
	results      ResultStore
	worker       ModelWorker
	supervisor   WorkerSupervisor
	audioDir     string
	onnxDir      string
	modelVersion string
	logger       *zap.Logger

	schemaGroup singleflight.Group
	schemaMu    sync.RWMutex
	schema      *worker.SchemaResponse
}

// New validates opts and builds a Server.
func New(opts Options) (*Server, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("server: catalog registry is required")
	case opts.Selector == nil:
		return nil, errors.New("server: sample selector is required")
	case opts.Audio == nil:
		return nil, errors.New("server: source audio fetcher is required")
	case opts.Results == nil:
		return nil, errors.New("server: result store is required")
	case opts.Worker == nil:
		return nil, errors.New("server: model worker is required")
	case opts.AudioDir == "":
		return nil, errors.New("server: audio directory is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		reg:          opts.Registry,
		selector:     opts.Selector,
		audio:        opts.Audio,
		results:      opts.Results,
		worker:       opts.Worker,
		supervisor:   opts.Supervisor,
		audioDir:     opts.AudioDir,
		onnxDir:      opts.ONNXDir,
		modelVersion: opts.ModelVersion,
		logger:       opts.Logger.Named("api"),
	}, nil
}

// Handler returns the routed API with permissive CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/audio/", s.handleGeneratedAudio)

	mux.HandleFunc(apiPrefix+"/samples", s.handleSamples)
	mux.HandleFunc(apiPrefix+"/source-audio", s.handleSourceAudio)
	mux.HandleFunc(apiPrefix+"/schema", s.handleSchema)
	mux.HandleFunc(apiPrefix+"/generate", s.handleGenerate)
	mux.HandleFunc(apiPrefix+"/results", s.handleResultsRoot)
	mux.HandleFunc(apiPrefix+"/results/", s.handleResultSubroutes)
	mux.HandleFunc(apiPrefix+"/worker/start", s.handleWorkerStart)
	mux.HandleFunc(apiPrefix+"/worker/stop", s.handleWorkerStop)
	mux.HandleFunc(apiPrefix+"/worker/health", s.handleWorkerHealth)

	mux.HandleFunc(passthroughPrefix+"/health", s.handlePassthroughHealth)
	mux.HandleFunc(passthroughPrefix+"/schema", s.handlePassthroughSchema)
	mux.HandleFunc(passthroughPrefix+"/generate", s.handlePassthroughGenerate)
	return withCORS(mux)
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return worker.Serve(ctx, addr, s.Handler(), s.logger)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, "GET,OPTIONS", http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
