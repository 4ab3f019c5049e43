package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalambet/dailydrip/internal/brew"
	"github.com/kalambet/dailydrip/internal/chunk"
	"github.com/kalambet/dailydrip/internal/engine"
	"github.com/kalambet/dailydrip/internal/rag"
	"github.com/kalambet/dailydrip/internal/retrieval"
	"github.com/kalambet/dailydrip/internal/storage"
)

func newTestService(t *testing.T, seed bool) *rag.Service {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	store := retrieval.NewSQLiteStore(st)
	t.Cleanup(func() { store.Close() })

	emb := retrieval.NewEmbedder(engine.NewHashEngine(128), engine.HashModel)
	if seed {
		rows := []brew.Row{
			{Line: 1, Fields: map[string]any{"id": "r1", "bean": map[string]any{"name": "Guji Hambela", "origin": "Ethiopia"}, "evaluation": map[string]any{"liking": 8}}},
			{Line: 2, Fields: map[string]any{"id": "r2", "bean": map[string]any{"name": "Huila Supremo", "origin": "Colombia"}, "evaluation": map[string]any{"liking": 6}}},
			{Line: 3, Fields: map[string]any{"id": "r3", "bean": map[string]any{"name": "Kiambu AA", "origin": "Kenya"}, "evaluation": map[string]any{"liking": 7}}},
		}
		records, errs := brew.Normalize(rows)
		if len(errs) != 0 {
			t.Fatalf("Normalize: %v", errs)
		}
		chunks, cerrs := chunk.BuildAll(records)
		if len(cerrs) != 0 {
			t.Fatalf("BuildAll: %v", cerrs)
		}
		if _, err := retrieval.NewIndexer(store, emb, "coffee_chunks", nil).Index(context.Background(), chunks); err != nil {
			t.Fatalf("Index: %v", err)
		}
	}

	cache := retrieval.NewHandleCacheWith(retrieval.StoreConfig{Collection: "coffee_chunks"},
		func(retrieval.StoreConfig) (retrieval.VectorStore, error) { return store, nil })
	return rag.NewService(cache, emb, rag.Config{Collection: "coffee_chunks"}, nil)
}

func TestRAGServer_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewRAGHandler(newTestService(t, true), testToken))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	body := []byte(`{"bean":{"name":"Kiambu AA","origin":"Kenya"},"k":2,"use_evaluation_reranking":true}`)
	resp, err = http.Post(srv.URL+"/rag", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /rag: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rag status = %d", resp.StatusCode)
	}

	var out struct {
		Query   string `json:"query"`
		Results []struct {
			Rank          int      `json:"rank"`
			ID            string   `json:"id"`
			BeanText      string   `json:"bean_text"`
			CombinedScore *float64 `json:"combined_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(out.Results))
	}
	for i, r := range out.Results {
		if r.Rank != i+1 {
			t.Errorf("result %d rank = %d", i, r.Rank)
		}
		if r.CombinedScore == nil {
			t.Errorf("result %d missing combined_score", i)
		}
		if r.BeanText == "" {
			t.Errorf("result %d missing bean_text", i)
		}
	}
}

func TestRAGServer_ValidationBeforeStore(t *testing.T) {
	// no collection exists; an invalid k must still be a 400, not a 404
	srv := httptest.NewServer(NewRAGHandler(newTestService(t, false), ""))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rag", "application/json", bytes.NewReader([]byte(`{"query":"x","k":0}`)))
	if err != nil {
		t.Fatalf("POST /rag: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/rag", "application/json", bytes.NewReader([]byte(`{"query":"x"}`)))
	if err != nil {
		t.Fatalf("POST /rag: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", resp.StatusCode)
	}
}

func TestRAGServer_FeedbackIsPrivate(t *testing.T) {
	srv := httptest.NewServer(NewRAGHandler(newTestService(t, true), testToken))
	defer srv.Close()

	fb := `{"user_id":"u1","id":"mine","record":{"bean":{"name":"Gesha Village","origin":"Ethiopia"},"access":"public"}}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/feedback", bytes.NewReader([]byte(fb)))
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /feedback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("feedback status = %d", resp.StatusCode)
	}

	ids := func(body string) []string {
		resp, err := http.Post(srv.URL+"/rag", "application/json", bytes.NewReader([]byte(body)))
		if err != nil {
			t.Fatalf("POST /rag: %v", err)
		}
		defer resp.Body.Close()
		var out rag.Response
		json.NewDecoder(resp.Body).Decode(&out)
		var ids []string
		for _, r := range out.Results {
			ids = append(ids, r.ID)
		}
		return ids
	}

	contains := func(ids []string, id string) bool {
		for _, v := range ids {
			if v == id {
				return true
			}
		}
		return false
	}

	if got := ids(`{"bean":{"name":"Gesha Village","origin":"Ethiopia"},"k":10}`); contains(got, "mine") {
		t.Errorf("anonymous query saw private record: %v", got)
	}
	if got := ids(`{"user_id":"u1","bean":{"name":"Gesha Village","origin":"Ethiopia"},"k":10}`); !contains(got, "mine") {
		t.Errorf("owner query missing private record: %v", got)
	}
	if got := ids(`{"user_id":"u2","bean":{"name":"Gesha Village","origin":"Ethiopia"},"k":10}`); contains(got, "mine") {
		t.Errorf("other user saw private record: %v", got)
	}
}
