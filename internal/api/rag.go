package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dailydrip/internal/rag"
	"github.com/kalambet/dailydrip/internal/reranking"
	"github.com/kalambet/dailydrip/internal/retrieval"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Retriever is the query surface served over HTTP and MCP.
type Retriever interface {
	Retrieve(ctx context.Context, q rag.Query) (rag.Response, error)
	Health(ctx context.Context) rag.Health
	Feedback(ctx context.Context, in rag.FeedbackInput) (rag.FeedbackResult, error)
}

// NewRAGHandler returns the public query API. POST /feedback is mounted only
// when token is non-empty and requires it as a bearer token.
func NewRAGHandler(svc Retriever, token string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(svc))
	r.Post("/rag", handleRAG(svc))
	if token != "" {
		r.With(BearerAuth(token)).Post("/feedback", handleFeedback(svc))
	}

	return r
}

func handleHealth(svc Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := svc.Health(r.Context())
		code := http.StatusOK
		if h.Status != rag.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h)
	}
}

func handleRAG(svc Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var q rag.Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		resp, err := svc.Retrieve(r.Context(), q)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleFeedback(svc Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var in rag.FeedbackInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := svc.Feedback(r.Context(), in)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"status":  "ok",
			"id":      res.ID,
			"created": res.Created,
		})
	}
}

// statusFor maps a service error onto an HTTP status and error type.
func statusFor(err error) (int, string) {
	var qerr *rag.QueryValidationError
	var rerr *reranking.RerankError
	var unavailable *retrieval.IndexUnavailableError
	switch {
	case errors.As(err, &qerr), errors.As(err, &rerr):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, retrieval.ErrCollectionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, retrieval.ErrEmbeddingMismatch):
		return http.StatusConflict, "index_mismatch"
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, "index_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "api_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	code, errType := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "status", code, "error", err)
	}
	httpError(w, code, errType, "%v", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
