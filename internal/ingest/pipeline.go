// Package ingest runs the batch path: raw brew logs are normalized into
// records, turned into chunks, embedded and upserted into the index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kalambet/dailydrip/internal/brew"
	"github.com/kalambet/dailydrip/internal/chunk"
	"github.com/kalambet/dailydrip/internal/observability"
	"github.com/kalambet/dailydrip/internal/retrieval"
	"github.com/kalambet/dailydrip/internal/storage"
)

// Artifact file names written next to the index.
const (
	RecordsFile = "records.jsonl"
	ChunksFile  = "chunks.jsonl"
)

// Source is a raw brew log on disk. Name is what gets recorded in the build
// history; it defaults to the file name.
type Source struct {
	Path   string
	Format brew.Format
	Name   string
}

// Report summarizes a pipeline run.
type Report struct {
	BuildID       string               `json:"build_id"`
	Source        string               `json:"source"`
	Collection    string               `json:"collection"`
	Rows          int                  `json:"rows"`
	Records       int                  `json:"records"`
	Malformed     int                  `json:"malformed"`
	Chunks        int                  `json:"chunks"`
	ChunkFailures int                  `json:"chunk_failures"`
	Index         retrieval.IndexStats `json:"index"`
	Duration      time.Duration        `json:"duration"`
}

// BuildRecorder persists build summaries.
type BuildRecorder interface {
	SaveBuild(b storage.Build) error
}

// Options tunes a Pipeline.
type Options struct {
	// Strict aborts on the first malformed row instead of skipping it.
	Strict bool
	// ArtifactDir receives records.jsonl and chunks.jsonl. Empty skips them.
	ArtifactDir string
	// PersistDir receives the reindex stamp after a successful index.
	PersistDir string
	// Rebuild drops the collection before indexing.
	Rebuild bool
	// Access, when set, overrides the access of every record.
	Access brew.Access
	// BatchSize overrides the upsert batch size.
	BatchSize int
}

// Pipeline wires the batch stages together.
type Pipeline struct {
	cache      *retrieval.HandleCache
	embedder   *retrieval.Embedder
	collection string
	builds     BuildRecorder
	opts       Options
	logger     *slog.Logger
}

// NewPipeline creates a Pipeline writing into collection. builds may be nil.
func NewPipeline(cache *retrieval.HandleCache, embedder *retrieval.Embedder, collection string, builds BuildRecorder, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cache:      cache,
		embedder:   embedder,
		collection: collection,
		builds:     builds,
		opts:       opts,
		logger:     logger,
	}
}

// Run reads src and pushes it through every stage. Malformed rows, chunk
// failures and embedding failures are counted and logged; only storage
// failures (and malformed rows in strict mode) abort the run.
func (p *Pipeline) Run(ctx context.Context, src Source) (Report, error) {
	rows, err := brew.ReadFile(src.Path, src.Format)
	if err != nil {
		return Report{Source: src.name()}, err
	}
	return p.RunRows(ctx, src.name(), rows)
}

// RunRows is Run for rows that are already in memory.
func (p *Pipeline) RunRows(ctx context.Context, source string, rows []brew.Row) (rep Report, err error) {
	start := time.Now()
	rep = Report{BuildID: uuid.New().String(), Source: source, Collection: p.collection, Rows: len(rows)}

	ctx, span := observability.StartSpan(ctx, "ingest.run",
		attribute.String("ingest.source", source),
		attribute.Int("ingest.rows", len(rows)),
	)
	defer func() {
		rep.Duration = time.Since(start)
		observability.RecordError(span, err)
		span.End()
		p.recordBuild(start, rep, err)
	}()

	records, err := p.normalize(rows)
	if err != nil {
		return rep, err
	}
	rep.Records = len(records)
	rep.Malformed = len(rows) - len(records)

	chunks, chunkErrs := chunk.BuildAll(records)
	for _, cerr := range chunkErrs {
		p.logger.Warn("skipping record", "error", cerr)
	}
	rep.Chunks = len(chunks)
	rep.ChunkFailures = len(chunkErrs)

	if err := p.writeArtifacts(records, chunks); err != nil {
		return rep, err
	}

	rep.Index, err = p.index(ctx, chunks)
	if err != nil {
		return rep, err
	}

	p.logger.Info("build finished",
		"build_id", rep.BuildID,
		"source", source,
		"rows", rep.Rows,
		"records", rep.Records,
		"malformed", rep.Malformed,
		"chunks", rep.Chunks,
		"added", rep.Index.Added,
		"updated", rep.Index.Updated,
		"failed", rep.Index.Failed,
		"total", rep.Index.Total,
	)
	return rep, nil
}

func (p *Pipeline) normalize(rows []brew.Row) ([]brew.Record, error) {
	var records []brew.Record
	if p.opts.Strict {
		var err error
		if records, err = brew.NormalizeStrict(rows); err != nil {
			return nil, err
		}
	} else {
		var errs []error
		records, errs = brew.Normalize(rows)
		for _, rerr := range errs {
			p.logger.Warn("skipping row", "error", rerr)
		}
	}
	if p.opts.Access != "" {
		for i := range records {
			records[i].Access = p.opts.Access
			if p.opts.Access == brew.AccessPublic {
				records[i].UserID = ""
			}
		}
	}
	return records, nil
}

func (p *Pipeline) writeArtifacts(records []brew.Record, chunks []chunk.Chunk) error {
	if p.opts.ArtifactDir == "" {
		return nil
	}
	if err := brew.WriteJSONLFile(filepath.Join(p.opts.ArtifactDir, RecordsFile), records); err != nil {
		return err
	}
	return chunk.WriteFile(filepath.Join(p.opts.ArtifactDir, ChunksFile), chunks)
}

func (p *Pipeline) index(ctx context.Context, chunks []chunk.Chunk) (retrieval.IndexStats, error) {
	store, release, err := p.cache.Acquire(ctx)
	if err != nil {
		return retrieval.IndexStats{}, err
	}
	defer release()

	ix := retrieval.NewIndexer(store, p.embedder, p.collection, p.logger)
	if p.opts.BatchSize > 0 {
		ix.SetBatchSize(p.opts.BatchSize)
	}
	var stats retrieval.IndexStats
	if p.opts.Rebuild {
		stats, err = ix.Rebuild(ctx, chunks)
	} else {
		stats, err = ix.Index(ctx, chunks)
	}
	if err != nil {
		return stats, err
	}
	if p.opts.PersistDir != "" {
		if err := retrieval.TouchReindex(p.opts.PersistDir); err != nil {
			p.logger.Warn("could not signal reindex", "error", err)
		}
	}
	return stats, nil
}

func (p *Pipeline) recordBuild(start time.Time, rep Report, runErr error) {
	if p.builds == nil {
		return
	}
	b := storage.Build{
		ID:            rep.BuildID,
		StartedAt:     start,
		FinishedAt:    start.Add(rep.Duration),
		Source:        rep.Source,
		Collection:    rep.Collection,
		Rows:          rep.Rows,
		Records:       rep.Records,
		Malformed:     rep.Malformed,
		Chunks:        rep.Chunks,
		ChunkFailures: rep.ChunkFailures,
		Added:         rep.Index.Added,
		Updated:       rep.Index.Updated,
		Failed:        rep.Index.Failed,
		Total:         rep.Index.Total,
		Status:        storage.BuildCompleted,
	}
	if runErr != nil {
		b.Status = storage.BuildFailed
		b.Error = runErr.Error()
	}
	if err := p.builds.SaveBuild(b); err != nil {
		p.logger.Warn("could not record build", "build_id", rep.BuildID, "error", err)
	}
}

// SeedDefault ingests the seed file as public records when it exists. A
// missing file is logged and skipped.
func (p *Pipeline) SeedDefault(ctx context.Context, path string) (Report, error) {
	if path == "" {
		return Report{}, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("seed data not found", "path", path)
		return Report{}, nil
	}
	seeded := *p
	seeded.opts.Access = brew.AccessPublic
	seeded.opts.Rebuild = false
	rep, err := seeded.Run(ctx, Source{Path: path})
	if err != nil {
		return rep, fmt.Errorf("seeding from %s: %w", path, err)
	}
	return rep, nil
}

func (s Source) name() string {
	if s.Name != "" {
		return s.Name
	}
	return filepath.Base(s.Path)
}
