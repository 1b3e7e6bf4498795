package server

import (
	"context"

	"github.com/drumbench/drumbench/internal/acquisition"
	"github.com/drumbench/drumbench/internal/catalog"
	"github.com/drumbench/drumbench/internal/store"
	"github.com/drumbench/drumbench/internal/supervisor"
	"github.com/drumbench/drumbench/internal/worker"
)

// SampleSelector lists unused catalog samples for a drum type.
type SampleSelector interface {
	ListUnused(ctx context.Context, drumType acquisition.DrumType, quota int, used acquisition.UsedSet) (*acquisition.Batch, error)
}

// SourceAudioFetcher proxies catalog audio with source fallback.
type SourceAudioFetcher interface {
	ProxyAudio(ctx context.Context, reg *catalog.Registry, source, dataset, filename string) (*catalog.Audio, error)
}

// ResultStore persists scored comparisons.
type ResultStore interface {
	CreateResult(ctx context.Context, r store.Result) (int64, bool, error)
	GetResult(ctx context.Context, id int64) (store.Result, error)
	ListResults(ctx context.Context) ([]store.Result, error)
	UpdateResult(ctx context.Context, id int64, u store.ResultUpdate) (store.Result, error)
	DeleteResult(ctx context.Context, id int64) error
	ScoredKeys(ctx context.Context) ([]store.ScoredKey, error)
}

// ModelWorker is the synthesis worker as seen by the API.
type ModelWorker interface {
	BaseURL() string
	Health(ctx context.Context) (*worker.HealthResponse, error)
	Schema(ctx context.Context) (*worker.SchemaResponse, error)
	Generate(ctx context.Context, req worker.GenerateRequest) (*worker.GenerateResult, error)
}

// WorkerSupervisor starts and stops the local worker process.
type WorkerSupervisor interface {
	EnsureStarted(ctx context.Context) (supervisor.Result, error)
	Stop(ctx context.Context) error
	Running(ctx context.Context) bool
}
