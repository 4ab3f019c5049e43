package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/dailydrip/internal/rag"
	"github.com/kalambet/dailydrip/internal/reranking"
	"github.com/kalambet/dailydrip/internal/retrieval"
)

const testToken = "test-token-12345"

type mockRetriever struct {
	lastQuery    rag.Query
	lastFeedback rag.FeedbackInput
	resp         rag.Response
	err          error
	health       rag.Health
	feedback     rag.FeedbackResult
}

func (m *mockRetriever) Retrieve(_ context.Context, q rag.Query) (rag.Response, error) {
	m.lastQuery = q
	return m.resp, m.err
}

func (m *mockRetriever) Health(context.Context) rag.Health { return m.health }

func (m *mockRetriever) Feedback(_ context.Context, in rag.FeedbackInput) (rag.FeedbackResult, error) {
	m.lastFeedback = in
	return m.feedback, m.err
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type, body.Error.Message
}

func TestHealth(t *testing.T) {
	m := &mockRetriever{health: rag.Health{Status: rag.StatusHealthy, Collection: "coffee_chunks", Count: 12}}
	h := NewRAGHandler(m, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body rag.Health
	json.NewDecoder(rr.Body).Decode(&body)
	if body.Status != "healthy" || body.Count != 12 || body.Collection != "coffee_chunks" {
		t.Errorf("body = %+v", body)
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	m := &mockRetriever{health: rag.Health{Status: rag.StatusUnhealthy, Error: "collection not found"}}
	h := NewRAGHandler(m, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestRAG_DecodesQuery(t *testing.T) {
	m := &mockRetriever{resp: rag.Response{Query: "bean.name: Guji", Results: []rag.Result{{Rank: 1, ID: "r1", Distance: 0.1}}}}
	h := NewRAGHandler(m, "")

	body := `{"user_id":"u1","bean":{"name":"Guji"},"k":5,"use_evaluation_reranking":true,"similarity_weight":0.5,"retrieval_multiplier":2}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rag", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	q := m.lastQuery
	if q.UserID != "u1" || q.Bean["name"] != "Guji" || !q.UseEvaluationReranking {
		t.Errorf("query = %+v", q)
	}
	if q.K == nil || *q.K != 5 {
		t.Errorf("K = %v, want 5", q.K)
	}
	if q.SimilarityWeight == nil || *q.SimilarityWeight != 0.5 {
		t.Errorf("SimilarityWeight = %v, want 0.5", q.SimilarityWeight)
	}
	if q.RetrievalMultiplier == nil || *q.RetrievalMultiplier != 2 {
		t.Errorf("RetrievalMultiplier = %v, want 2", q.RetrievalMultiplier)
	}

	var resp rag.Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Query != "bean.name: Guji" || len(resp.Results) != 1 || resp.Results[0].ID != "r1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRAG_OmittedFieldsStayUnset(t *testing.T) {
	m := &mockRetriever{}
	h := NewRAGHandler(m, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rag", strings.NewReader(`{"query":"washed kenya"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if m.lastQuery.K != nil || m.lastQuery.SimilarityWeight != nil || m.lastQuery.RetrievalMultiplier != nil {
		t.Errorf("omitted fields should be nil: %+v", m.lastQuery)
	}
	if m.lastQuery.Text != "washed kenya" {
		t.Errorf("Text = %q", m.lastQuery.Text)
	}
}

func TestRAG_InvalidBody(t *testing.T) {
	h := NewRAGHandler(&mockRetriever{}, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rag", strings.NewReader(`{not json`)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if typ, _ := decodeError(t, rr); typ != "invalid_request_error" {
		t.Errorf("type = %q", typ)
	}
}

func TestRAG_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"validation", &rag.QueryValidationError{Field: "k", Reason: "must be between 1 and 10"}, http.StatusBadRequest, "invalid_request_error"},
		{"rerank", &reranking.RerankError{Field: "similarity_weight", Reason: "out of range"}, http.StatusBadRequest, "invalid_request_error"},
		{"missing collection", fmt.Errorf("searching: %w", retrieval.ErrCollectionNotFound), http.StatusNotFound, "not_found"},
		{"mismatch", retrieval.ErrEmbeddingMismatch, http.StatusConflict, "index_mismatch"},
		{"unavailable", &retrieval.IndexUnavailableError{Target: "/data", Err: errors.New("locked")}, http.StatusServiceUnavailable, "index_unavailable"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "api_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRAGHandler(&mockRetriever{err: tt.err}, "")
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rag", strings.NewReader(`{"query":"x"}`)))

			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			typ, msg := decodeError(t, rr)
			if typ != tt.wantType {
				t.Errorf("type = %q, want %q", typ, tt.wantType)
			}
			if msg != tt.err.Error() {
				t.Errorf("message = %q, want %q", msg, tt.err.Error())
			}
		})
	}
}

func TestFeedback_DisabledWithoutToken(t *testing.T) {
	h := NewRAGHandler(&mockRetriever{}, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/feedback", `{"user_id":"u1","record":{}}`, "anything"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestFeedback_NoAuth(t *testing.T) {
	h := NewRAGHandler(&mockRetriever{}, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/feedback", `{"user_id":"u1","record":{}}`, ""))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestFeedback_WrongToken(t *testing.T) {
	h := NewRAGHandler(&mockRetriever{}, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/feedback", `{"user_id":"u1","record":{}}`, "wrong"))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestFeedback_Created(t *testing.T) {
	m := &mockRetriever{feedback: rag.FeedbackResult{ID: "r9", Created: true}}
	h := NewRAGHandler(m, testToken)

	body := `{"user_id":"u1","id":"r9","record":{"bean":{"name":"Guji"}}}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/feedback", body, testToken))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "ok" || resp["id"] != "r9" || resp["created"] != true {
		t.Errorf("resp = %v", resp)
	}
	if m.lastFeedback.UserID != "u1" || m.lastFeedback.ID != "r9" {
		t.Errorf("feedback input = %+v", m.lastFeedback)
	}
}

func TestFeedback_ValidationError(t *testing.T) {
	m := &mockRetriever{err: &rag.QueryValidationError{Field: "user_id", Reason: "is required"}}
	h := NewRAGHandler(m, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/feedback", `{"record":{"bean":{"name":"x"}}}`, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
