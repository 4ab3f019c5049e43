package retrieval

import (
	"errors"
	"fmt"
)

// ErrCollectionNotFound is returned when the configured collection has never
// been created. An existing but empty collection is not an error.
var ErrCollectionNotFound = errors.New("collection not found")

// ErrEmbeddingMismatch is returned when a collection is read or written with
// an embedding identity or dimension different from the one it was built with.
var ErrEmbeddingMismatch = errors.New("embedding identity mismatch")

// IndexUnavailableError reports that the vector store could not be opened.
type IndexUnavailableError struct {
	Target string
	Err    error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("index unavailable at %s: %v", e.Target, e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }

// EmbeddingError reports a chunk whose embedding could not be produced.
type EmbeddingError struct {
	ChunkID string
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding chunk %q: %v", e.ChunkID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func mismatch(c Collection, identity string, dim int) error {
	return fmt.Errorf("%w: collection %q was built with %s (dim %d), got %s (dim %d)",
		ErrEmbeddingMismatch, c.Name, c.EmbedModel, c.Dimension, identity, dim)
}
