package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/dailydrip/internal/engine"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	name    string
	embedFn func(ctx context.Context, model string, text string) ([]float32, error)
}

func (m *mockEngine) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}
func (m *mockEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}
func (m *mockEngine) IsRunning(_ context.Context) bool               { return false }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) { return nil, nil }
func (m *mockEngine) HasModel(_ context.Context, _ string) bool      { return false }
func (m *mockEngine) PullModel(_ context.Context, _ string, _ func(engine.PullProgress)) error {
	return fmt.Errorf("not implemented")
}

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

func TestEmbedder_Identity(t *testing.T) {
	e := NewEmbedder(engine.NewHashEngine(16), engine.HashModel)
	if got := e.Identity(); got != "hash/bow" {
		t.Errorf("Identity() = %q, want hash/bow", got)
	}
	if e.Model() != engine.HashModel {
		t.Errorf("Model() = %q", e.Model())
	}
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
}

func TestEmbed_EngineError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")

	_, err := e.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestEmbed_EmptyVector(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, nil
		},
	}
	e := NewEmbedder(mock, "m")

	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestEmbedBatch_CountMatches(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Errorf("got %d vectors, want 3", len(vecs))
	}
}

func TestEmbedBatch_EngineError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text == "b" {
				return nil, errors.New("embedding failed")
			}
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "embedding failed") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			t.Fatal("should not be called for empty input")
			return nil, nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")

	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}

func TestEmbedEach_ReportsPerItem(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text == "bad" {
				return nil, errors.New("boom")
			}
			return makeVector(4), nil
		},
	}
	e := NewEmbedder(mock, "m")

	vecs, errs := e.EmbedEach(context.Background(), []string{"a", "bad", "c"})
	if len(vecs) != 3 || len(errs) != 3 {
		t.Fatalf("got %d vectors and %d errors, want 3 each", len(vecs), len(errs))
	}
	if errs[0] != nil || errs[2] != nil {
		t.Errorf("unexpected errors: %v", errs)
	}
	if errs[1] == nil {
		t.Error("expected error for item 1")
	}
	if vecs[1] != nil {
		t.Errorf("expected nil vector for failed item, got %v", vecs[1])
	}
}

// batchEngine adds bulk embedding to mockEngine and records request sizes.
type batchEngine struct {
	mockEngine
	mu      sync.Mutex
	sizes   []int
	batchFn func(texts []string) ([][]float32, error)
}

func (b *batchEngine) EmbedBatch(_ context.Context, _ string, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.sizes = append(b.sizes, len(texts))
	b.mu.Unlock()
	return b.batchFn(texts)
}

func lenVectors(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestEmbedEach_UsesBulkRequests(t *testing.T) {
	be := &batchEngine{
		mockEngine: mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) {
			t.Error("single embed should not be used when bulk succeeds")
			return nil, nil
		}},
		batchFn: lenVectors,
	}
	e := NewEmbedder(be, "m")

	texts := make([]string, embedBatchSize+5)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}
	vecs, errs := e.EmbedEach(context.Background(), texts)

	for i := range texts {
		if errs[i] != nil {
			t.Fatalf("errs[%d] = %v", i, errs[i])
		}
		if vecs[i][0] != float32(i+1) {
			t.Errorf("vecs[%d] out of order: %v", i, vecs[i])
		}
	}
	be.mu.Lock()
	defer be.mu.Unlock()
	if len(be.sizes) != 2 || be.sizes[0]+be.sizes[1] != len(texts) {
		t.Errorf("bulk request sizes = %v, want two groups", be.sizes)
	}
}

func TestEmbedEach_BulkFailureFallsBackPerItem(t *testing.T) {
	be := &batchEngine{
		mockEngine: mockEngine{embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text == "bad" {
				return nil, errors.New("input too long")
			}
			return makeVector(4), nil
		}},
		batchFn: func([]string) ([][]float32, error) {
			return nil, errors.New("input too long")
		},
	}
	e := NewEmbedder(be, "m")

	vecs, errs := e.EmbedEach(context.Background(), []string{"a", "bad", "c"})
	if errs[0] != nil || errs[2] != nil {
		t.Errorf("good items should embed after fallback: %v", errs)
	}
	if errs[1] == nil || vecs[1] != nil {
		t.Errorf("bad item should fail alone, got vec=%v err=%v", vecs[1], errs[1])
	}
}

func TestEmbedBatch_BulkEmptyVector(t *testing.T) {
	be := &batchEngine{
		batchFn: func(texts []string) ([][]float32, error) {
			return [][]float32{{1}, {}}, nil
		},
	}
	e := NewEmbedder(be, "m")

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err == nil || !strings.Contains(err.Error(), "empty vector") {
		t.Errorf("expected empty vector error, got %v", err)
	}
}
