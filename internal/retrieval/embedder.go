package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/dailydrip/internal/engine"
	"golang.org/x/sync/errgroup"
)

const (
	// embedConcurrency bounds parallel calls to the engine.
	embedConcurrency = 4
	// embedBatchSize is the number of texts sent per bulk request.
	embedBatchSize = 32
)

// Embedder wraps an Engine and a fixed model to generate text embeddings.
type Embedder struct {
	engine engine.Engine
	model  string
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Identity is the "engine/model" string stamped on collections. Index and
// query must share it.
func (e *Embedder) Identity() string {
	return e.engine.Name() + "/" + e.model
}

// Model returns the model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding text: engine returned an empty vector")
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts and fails on the
// first error. Engines that embed in bulk get groups of embedBatchSize texts;
// others are called concurrently, one text at a time.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, errs := e.EmbedEach(ctx, texts)
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
	}
	return vecs, nil
}

// EmbedEach embeds every text and reports failures per item instead of
// aborting, so a batch can index the chunks that did embed.
func (e *Embedder) EmbedEach(ctx context.Context, texts []string) ([][]float32, []error) {
	vecs := make([][]float32, len(texts))
	errs := make([]error, len(texts))
	var g errgroup.Group
	g.SetLimit(embedConcurrency)

	be, bulk := e.engine.(engine.BatchEmbedder)
	if !bulk {
		for i, text := range texts {
			g.Go(func() error {
				vecs[i], errs[i] = e.Embed(ctx, text)
				return nil
			})
		}
		_ = g.Wait()
		return vecs, errs
	}

	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		g.Go(func() error {
			e.embedGroup(ctx, be, texts[start:end], vecs[start:end], errs[start:end])
			return nil
		})
	}
	_ = g.Wait()
	return vecs, errs
}

// embedGroup fills vecs and errs for one bulk request. When the request
// fails as a whole the texts are retried one by one so a single bad input
// does not sink its neighbours.
func (e *Embedder) embedGroup(ctx context.Context, be engine.BatchEmbedder, texts []string, vecs [][]float32, errs []error) {
	out, err := be.EmbedBatch(ctx, e.model, texts)
	if err != nil || len(out) != len(texts) {
		for i, text := range texts {
			vecs[i], errs[i] = e.Embed(ctx, text)
		}
		return
	}
	for i, vec := range out {
		if len(vec) == 0 {
			errs[i] = fmt.Errorf("embedding text: engine returned an empty vector")
			continue
		}
		vecs[i] = vec
	}
}
