package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/kalambet/dailydrip/internal/chunk"
	"github.com/kalambet/dailydrip/internal/storage"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	s := NewSQLiteStore(st)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestCollection(t *testing.T, s VectorStore, name string, dim int) {
	t.Helper()
	if _, err := s.CreateCollection(context.Background(), Collection{Name: name, EmbedModel: "mock/m", Dimension: dim}); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
}

// unitVector returns a dim-wide vector pointing mostly along axis.
func unitVector(dim, axis int, spill float32) []float32 {
	v := make([]float32, dim)
	v[axis%dim] = 1
	v[(axis+1)%dim] = spill
	return v
}

func publicMeta() chunk.Metadata {
	return chunk.Metadata{chunk.KeyAccess: "public"}
}

func TestUpsertAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestCollection(t, s, "c", 4)

	entries := []Entry{
		{ID: "a", Vector: unitVector(4, 0, 0), Text: "alpha", Metadata: publicMeta()},
		{ID: "b", Vector: unitVector(4, 1, 0), Text: "beta", Metadata: publicMeta()},
		{ID: "c", Vector: unitVector(4, 2, 0), Text: "gamma", Metadata: publicMeta()},
	}
	added, updated, err := s.Upsert(ctx, "c", entries)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if added != 3 || updated != 0 {
		t.Errorf("added=%d updated=%d, want 3/0", added, updated)
	}

	results, err := s.Search(ctx, "c", unitVector(4, 1, 0), 2, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "b" || results[0].Text != "beta" {
		t.Errorf("top result = %+v, want b", results[0].Entry)
	}
	if math.Abs(results[0].Distance) > 1e-6 {
		t.Errorf("self distance = %f, want 0", results[0].Distance)
	}
	if results[0].Metadata.Access() != "public" {
		t.Errorf("metadata not round-tripped: %v", results[0].Metadata)
	}
}

func TestUpsert_ReplacesByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestCollection(t, s, "c", 4)

	e := Entry{ID: "a", Vector: unitVector(4, 0, 0), Text: "first", Metadata: publicMeta()}
	if _, _, err := s.Upsert(ctx, "c", []Entry{e}); err != nil {
		t.Fatal(err)
	}
	e.Text = "second"
	added, updated, err := s.Upsert(ctx, "c", []Entry{e})
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 || updated != 1 {
		t.Errorf("added=%d updated=%d, want 0/1", added, updated)
	}

	n, err := s.Count(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	all, err := s.ExportAll(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Text != "second" {
		t.Errorf("unexpected entries after replace: %+v", all)
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	s := openTestStore(t)
	createTestCollection(t, s, "c", 4)

	_, _, err := s.Upsert(context.Background(), "c", []Entry{{ID: "a", Vector: make([]float32, 3), Metadata: publicMeta()}})
	if !errors.Is(err, ErrEmbeddingMismatch) {
		t.Errorf("expected ErrEmbeddingMismatch, got %v", err)
	}
}

func TestUpsert_MissingCollection(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.Upsert(context.Background(), "nope", []Entry{{ID: "a", Vector: make([]float32, 3)}})
	if !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestSearch_TopK(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestCollection(t, s, "c", 8)

	var entries []Entry
	for i := 0; i < 20; i++ {
		entries = append(entries, Entry{
			ID:       fmt.Sprintf("e%02d", i),
			Vector:   unitVector(8, i, float32(i)*0.1),
			Metadata: publicMeta(),
		})
	}
	if _, _, err := s.Upsert(ctx, "c", entries); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "c", unitVector(8, 0, 0), 5, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results not ordered by distance at %d: %f < %f", i, results[i].Distance, results[i-1].Distance)
		}
	}
}

func TestSearch_TiesBrokenByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestCollection(t, s, "c", 2)

	v := []float32{1, 0}
	entries := []Entry{
		{ID: "z", Vector: v, Metadata: publicMeta()},
		{ID: "m", Vector: v, Metadata: publicMeta()},
		{ID: "a", Vector: v, Metadata: publicMeta()},
	}
	if _, _, err := s.Upsert(ctx, "c", entries); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search(ctx, "c", v, 2, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "a" || results[1].ID != "m" {
		t.Errorf("unexpected tie order: %+v", results)
	}
}

func TestSearch_EmptyCollection(t *testing.T) {
	s := openTestStore(t)
	createTestCollection(t, s, "c", 4)

	results, err := s.Search(context.Background(), "c", unitVector(4, 0, 0), 5, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSearch_MissingCollection(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Search(context.Background(), "nope", unitVector(4, 0, 0), 5, Filter{})
	if !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestSearch_TopKZero(t *testing.T) {
	s := openTestStore(t)
	createTestCollection(t, s, "c", 4)

	results, err := s.Search(context.Background(), "c", unitVector(4, 0, 0), 0, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results for n=0, got %d", len(results))
	}
}

func TestSearch_PrivateEntriesFiltered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestCollection(t, s, "c", 2)

	v := []float32{1, 0}
	entries := []Entry{
		{ID: "pub", Vector: v, Metadata: publicMeta()},
		{ID: "mine", Vector: v, Metadata: chunk.Metadata{chunk.KeyAccess: "private", chunk.KeyUserID: "u1"}},
		{ID: "theirs", Vector: v, Metadata: chunk.Metadata{chunk.KeyAccess: "private", chunk.KeyUserID: "u2"}},
	}
	if _, _, err := s.Upsert(ctx, "c", entries); err != nil {
		t.Fatal(err)
	}

	ids := func(f Filter) []string {
		res, err := s.Search(ctx, "c", v, 10, f)
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for _, r := range res {
			out = append(out, r.ID)
		}
		return out
	}

	if got := ids(Filter{}); len(got) != 1 || got[0] != "pub" {
		t.Errorf("anonymous search = %v, want [pub]", got)
	}
	if got := ids(Filter{UserID: "u1"}); len(got) != 2 || got[0] != "mine" || got[1] != "pub" {
		t.Errorf("u1 search = %v, want [mine pub]", got)
	}
}

func TestCreateCollection_StampMismatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestCollection(t, s, "c", 4)

	if _, err := s.CreateCollection(ctx, Collection{Name: "c", EmbedModel: "mock/m", Dimension: 4}); err != nil {
		t.Errorf("same stamp should be a no-op, got %v", err)
	}
	_, err := s.CreateCollection(ctx, Collection{Name: "c", EmbedModel: "other/m", Dimension: 4})
	if !errors.Is(err, ErrEmbeddingMismatch) {
		t.Errorf("expected ErrEmbeddingMismatch, got %v", err)
	}
}

func TestDropCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestCollection(t, s, "c", 2)
	if _, _, err := s.Upsert(ctx, "c", []Entry{{ID: "a", Vector: []float32{1, 0}, Metadata: publicMeta()}}); err != nil {
		t.Fatal(err)
	}

	if err := s.DropCollection(ctx, "c"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	if _, err := s.GetCollection(ctx, "c"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound after drop, got %v", err)
	}
	if err := s.DropCollection(ctx, "c"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound on second drop, got %v", err)
	}
}

func TestVectorStoreInterface(t *testing.T) {
	var _ VectorStore = (*SQLiteStore)(nil)
	var _ VectorStore = (*QdrantStore)(nil)
}

func TestCosineDistance_ZeroVector(t *testing.T) {
	a := []float32{1, 0}
	if d := cosineDistance(a, []float32{0, 0}, norm(a)); d != 1 {
		t.Errorf("distance to zero vector = %f, want 1", d)
	}
	if d := cosineDistance(a, []float32{-1, 0}, norm(a)); math.Abs(d-2) > 1e-9 {
		t.Errorf("distance to opposite vector = %f, want 2", d)
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0, 1.5, -2.25, float32(math.Pi)}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("index %d: got %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
