package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kalambet/dailydrip/internal/chunk"
	"github.com/kalambet/dailydrip/internal/observability"
)

// DefaultBatchSize is the number of entries sent to the store per upsert.
const DefaultBatchSize = 256

// IndexStats summarizes one indexing run.
type IndexStats struct {
	Added   int     `json:"added"`
	Updated int     `json:"updated"`
	Total   int     `json:"total"`
	Failed  int     `json:"failed"`
	Errors  []error `json:"-"`
}

// Indexer embeds chunks and upserts them into one collection.
type Indexer struct {
	store      VectorStore
	embedder   *Embedder
	collection string
	batchSize  int
	logger     *slog.Logger
}

// NewIndexer creates an Indexer writing to the named collection.
func NewIndexer(store VectorStore, embedder *Embedder, collection string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:      store,
		embedder:   embedder,
		collection: collection,
		batchSize:  DefaultBatchSize,
		logger:     logger,
	}
}

// SetBatchSize overrides DefaultBatchSize.
func (ix *Indexer) SetBatchSize(n int) {
	if n > 0 {
		ix.batchSize = n
	}
}

// Index embeds and upserts chunks. Re-indexing a chunk id replaces the
// stored entry. A chunk that fails to embed is recorded as *EmbeddingError in
// the stats and skipped. Store failures and identity mismatches abort.
func (ix *Indexer) Index(ctx context.Context, chunks []chunk.Chunk) (stats IndexStats, err error) {
	ctx, span := observability.StartSpan(ctx, "retrieval.index",
		attribute.String("retrieval.collection", ix.collection),
		attribute.Int("retrieval.chunks", len(chunks)),
	)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	identity := ix.embedder.Identity()
	coll, err := ix.store.GetCollection(ctx, ix.collection)
	exists := err == nil
	switch {
	case exists && coll.EmbedModel != identity:
		return stats, mismatch(coll, identity, coll.Dimension)
	case !exists && !errors.Is(err, ErrCollectionNotFound):
		return stats, err
	}

	for start := 0; start < len(chunks); start += ix.batchSize {
		end := min(start+ix.batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, errs := ix.embedder.EmbedEach(ctx, texts)

		entries := make([]Entry, 0, len(batch))
		for i, c := range batch {
			if errs[i] != nil {
				embErr := &EmbeddingError{ChunkID: c.ID, Err: errs[i]}
				stats.Failed++
				stats.Errors = append(stats.Errors, embErr)
				ix.logger.Warn("skipping chunk", "chunk_id", c.ID, "error", errs[i])
				continue
			}
			entries = append(entries, Entry{ID: c.ID, Vector: vecs[i], Text: c.Text, Metadata: c.Metadata})
		}
		if len(entries) == 0 {
			continue
		}

		if !exists {
			coll, err = ix.store.CreateCollection(ctx, Collection{
				Name:       ix.collection,
				EmbedModel: identity,
				Dimension:  len(entries[0].Vector),
			})
			if err != nil {
				return stats, err
			}
			exists = true
			ix.logger.Info("created collection", "collection", coll.Name, "embed_model", coll.EmbedModel, "dimension", coll.Dimension)
		}

		added, updated, err := ix.store.Upsert(ctx, ix.collection, entries)
		if err != nil {
			return stats, fmt.Errorf("upserting batch at %d: %w", start, err)
		}
		stats.Added += added
		stats.Updated += updated
	}

	if exists {
		if stats.Total, err = ix.store.Count(ctx, ix.collection); err != nil {
			return stats, err
		}
	}
	span.SetAttributes(
		attribute.Int("retrieval.added", stats.Added),
		attribute.Int("retrieval.updated", stats.Updated),
		attribute.Int("retrieval.failed", stats.Failed),
	)
	return stats, nil
}

// Rebuild drops the collection, if present, and indexes chunks from scratch.
// It is the way to switch a collection to a different embedding model.
func (ix *Indexer) Rebuild(ctx context.Context, chunks []chunk.Chunk) (IndexStats, error) {
	if err := ix.store.DropCollection(ctx, ix.collection); err != nil && !errors.Is(err, ErrCollectionNotFound) {
		return IndexStats{}, fmt.Errorf("dropping collection %s: %w", ix.collection, err)
	}
	return ix.Index(ctx, chunks)
}
