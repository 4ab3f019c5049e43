package retrieval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kalambet/dailydrip/internal/brew"
	"github.com/kalambet/dailydrip/internal/chunk"
	"github.com/kalambet/dailydrip/internal/observability"
)

// Candidate is a retrieved brew before ranking, hydrated back into
// structured form.
type Candidate struct {
	ID         string
	Text       string
	Distance   float64
	Bean       brew.Bean
	Brewing    brew.Brewing
	Evaluation *brew.Evaluation
	Metadata   chunk.Metadata
}

// Searcher embeds a query and returns the closest stored chunks.
type Searcher struct {
	store      VectorStore
	embedder   *Embedder
	collection string
}

// NewSearcher creates a Searcher over the named collection.
func NewSearcher(store VectorStore, embedder *Embedder, collection string) *Searcher {
	return &Searcher{store: store, embedder: embedder, collection: collection}
}

// Search returns up to n candidates ordered by ascending distance. It fails
// with ErrCollectionNotFound when the collection was never built and with
// ErrEmbeddingMismatch when the collection was built with another model.
// An empty collection yields no candidates and no error.
func (s *Searcher) Search(ctx context.Context, text string, n int, filter Filter) (cands []Candidate, err error) {
	ctx, span := observability.StartSpan(ctx, "retrieval.search",
		attribute.String("retrieval.collection", s.collection),
		attribute.Int("retrieval.fetch_n", n),
	)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	coll, err := s.store.GetCollection(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	if identity := s.embedder.Identity(); coll.EmbedModel != identity {
		return nil, mismatch(coll, identity, coll.Dimension)
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored, err := s.store.Search(ctx, s.collection, vec, n, filter)
	if err != nil {
		return nil, err
	}

	cands = make([]Candidate, 0, len(scored))
	for _, se := range scored {
		cands = append(cands, hydrate(se))
	}
	span.SetAttributes(attribute.Int("retrieval.candidates", len(cands)))
	return cands, nil
}

// Count returns the number of entries in the collection.
func (s *Searcher) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx, s.collection)
}

func hydrate(se ScoredEntry) Candidate {
	bean, brewing, eval := chunk.Unflatten(se.Metadata)
	return Candidate{
		ID:         se.ID,
		Text:       se.Text,
		Distance:   se.Distance,
		Bean:       bean,
		Brewing:    brewing,
		Evaluation: eval,
		Metadata:   se.Metadata,
	}
}
