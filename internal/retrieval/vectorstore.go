package retrieval

import (
	"context"

	"github.com/kalambet/dailydrip/internal/brew"
	"github.com/kalambet/dailydrip/internal/chunk"
)

// VectorStore is the persistence boundary for embedded chunks. The default
// implementation is SQLiteStore (embedded, brute-force cosine); QdrantStore
// talks to a Qdrant server. Both report cosine distance, 1 - cos, so lower
// is closer regardless of backend.
type VectorStore interface {
	// CreateCollection creates the collection stamped with its embedding
	// identity and dimension. Creating an existing collection with the same
	// stamp is a no-op; a different stamp yields ErrEmbeddingMismatch.
	CreateCollection(ctx context.Context, c Collection) (Collection, error)

	// GetCollection returns the collection stamp or ErrCollectionNotFound.
	GetCollection(ctx context.Context, name string) (Collection, error)

	// Upsert inserts or replaces entries by id and reports how many were new
	// and how many replaced an existing entry.
	Upsert(ctx context.Context, collection string, entries []Entry) (added, updated int, err error)

	// Search returns up to n visible entries ordered by ascending distance,
	// ties broken by ascending id.
	Search(ctx context.Context, collection string, vector []float32, n int, filter Filter) ([]ScoredEntry, error)

	// Count returns the number of entries in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// DropCollection removes the collection and all its entries.
	DropCollection(ctx context.Context, name string) error

	Close() error
}

// Collection is the stamp of a vector collection.
type Collection struct {
	Name       string
	EmbedModel string
	Dimension  int
}

// Entry is one stored chunk with its vector.
type Entry struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata chunk.Metadata
}

// ScoredEntry is an Entry with its cosine distance to the query.
type ScoredEntry struct {
	Entry
	Distance float64
}

// Filter restricts search results by visibility. Public entries are always
// visible; private entries only to the user that owns them. An empty UserID
// sees public entries only.
type Filter struct {
	UserID string
}

// Visible reports whether an entry with the given metadata passes the filter.
func (f Filter) Visible(m chunk.Metadata) bool {
	if m.Access() != brew.AccessPrivate {
		return true
	}
	return f.UserID != "" && m.UserID() == f.UserID
}
