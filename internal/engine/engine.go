package engine

import "context"

// Engine abstracts an embedding backend (a local Ollama server or the
// built-in hashing embedder). The retrieval layer depends on this interface
// instead of a concrete client.
type Engine interface {
	// Name identifies the backend kind ("ollama", "hash"). Together with the
	// model name it forms the embedding identity stamped on a collection.
	Name() string

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// BatchEmbedder is implemented by engines that can embed several texts in a
// single round trip. Vectors come back in input order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}
