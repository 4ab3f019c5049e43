package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/dailydrip/internal/ollama"
)

// OllamaEngine serves embeddings from a local Ollama server.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
// Embedding models are kept loaded for ten minutes between requests so a
// batch index does not reload the model for every chunk.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL, ollama.WithKeepAlive("10m"))}
}

// ErrModelMissing is returned by Embed when the model has not been pulled.
var ErrModelMissing = errors.New("embedding model is not available")

func (e *OllamaEngine) Name() string { return KindOllama }

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, model, text)
	return vec, e.wrap(model, err)
}

func (e *OllamaEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vecs, err := e.client.EmbedBatch(ctx, model, texts)
	return vecs, e.wrap(model, err)
}

func (e *OllamaEngine) wrap(model string, err error) error {
	if err != nil && ollama.IsModelNotFound(err) {
		return fmt.Errorf("%w: %s (%v)", ErrModelMissing, model, err)
	}
	return err
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
