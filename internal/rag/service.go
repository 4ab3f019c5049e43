// Package rag is the query façade over the brew index: it turns a request
// into query text, retrieves candidates, reranks them and shapes the result.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kalambet/dailydrip/internal/brew"
	"github.com/kalambet/dailydrip/internal/chunk"
	"github.com/kalambet/dailydrip/internal/observability"
	"github.com/kalambet/dailydrip/internal/reranking"
	"github.com/kalambet/dailydrip/internal/retrieval"
)

var feedbackNamespace = uuid.MustParse("3e9a7c14-52b8-5f0d-a6c2-8d4e1f7b9a03")

// FeedbackID is the stored id of a user's feedback record. It is scoped to
// the user so identical submissions from different users, or a submitted id
// that matches a shared record, never replace each other.
func FeedbackID(userID, id string) string {
	return uuid.NewSHA1(feedbackNamespace, []byte(userID+"\x00"+id)).String()
}

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Result is one ranked reference brew.
type Result struct {
	Rank          int              `json:"rank"`
	ID            string           `json:"id"`
	Distance      float64          `json:"distance"`
	BeanText      string           `json:"bean_text"`
	Bean          brew.Bean        `json:"bean"`
	Brewing       brew.Brewing     `json:"brewing"`
	Evaluation    *brew.Evaluation `json:"evaluation"`
	CombinedScore *float64         `json:"combined_score,omitempty"`
}

// Response is the answer to a Query. Query echoes the text that was embedded.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Health describes the state of the configured collection.
type Health struct {
	Status     string `json:"status"`
	Collection string `json:"collection"`
	Count      int    `json:"count"`
	Error      string `json:"error,omitempty"`
}

// FeedbackInput is a brew a user submits to their private history.
type FeedbackInput struct {
	UserID string         `json:"user_id"`
	ID     string         `json:"id,omitempty"`
	Record map[string]any `json:"record"`
}

// FeedbackResult reports the stored record.
type FeedbackResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// Config holds the service settings.
type Config struct {
	Collection string
	Defaults   Defaults
	Weights    reranking.Weights
}

// Service answers retrieval queries. It is safe for concurrent use; the
// only shared state is the store handle cache.
type Service struct {
	cache    *retrieval.HandleCache
	embedder *retrieval.Embedder
	cfg      Config
	logger   *slog.Logger
}

// NewService creates a Service. Unset defaults and zero weights are replaced
// by the package defaults.
func NewService(cache *retrieval.HandleCache, embedder *retrieval.Embedder, cfg Config, logger *slog.Logger) *Service {
	if cfg.Defaults.K == 0 {
		cfg.Defaults.K = DefaultK
	}
	if cfg.Defaults.RetrievalMultiplier == 0 {
		cfg.Defaults.RetrievalMultiplier = DefaultMultiplier
	}
	if cfg.Defaults.SimilarityWeight == nil {
		w := DefaultWeight
		cfg.Defaults.SimilarityWeight = &w
	}
	if cfg.Weights == (reranking.Weights{}) {
		cfg.Weights = reranking.DefaultWeights()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cache: cache, embedder: embedder, cfg: cfg, logger: logger}
}

// Collection returns the configured collection name.
func (s *Service) Collection() string { return s.cfg.Collection }

// Retrieve runs a query: validate, embed, fetch k (or k times the multiplier
// when reranking) candidates, rank and truncate to k.
func (s *Service) Retrieve(ctx context.Context, q Query) (resp Response, err error) {
	r, err := q.resolve(s.cfg.Defaults)
	if err != nil {
		return Response{}, err
	}

	ctx, span := observability.StartSpan(ctx, "rag.retrieve",
		attribute.String("rag.collection", s.cfg.Collection),
		attribute.Int("rag.k", r.k),
		attribute.Bool("rag.rerank", r.rerank),
	)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	store, release, err := s.cache.Acquire(ctx)
	if err != nil {
		return Response{}, err
	}
	defer release()

	searcher := retrieval.NewSearcher(store, s.embedder, s.cfg.Collection)
	cands, err := searcher.Search(ctx, r.text, r.fetchN(), retrieval.Filter{UserID: r.userID})
	if err != nil {
		return Response{}, err
	}

	ranked, err := reranking.NewReranker(s.cfg.Weights, r.rerank).Rerank(ctx, cands, r.k, r.weight)
	if err != nil {
		return Response{}, err
	}

	resp = Response{Query: r.text, Results: make([]Result, 0, len(ranked))}
	for _, rr := range ranked {
		resp.Results = append(resp.Results, Result{
			Rank:          rr.Rank,
			ID:            rr.ID,
			Distance:      rr.Distance,
			BeanText:      rr.Text,
			Bean:          rr.Bean,
			Brewing:       rr.Brewing,
			Evaluation:    rr.Evaluation,
			CombinedScore: rr.CombinedScore,
		})
	}
	s.logger.Debug("retrieved references", "collection", s.cfg.Collection, "candidates", len(cands), "results", len(resp.Results))
	return resp, nil
}

// Health reports whether the collection can be opened and counted. A missing
// collection is unhealthy.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{Status: StatusUnhealthy, Collection: s.cfg.Collection}

	store, release, err := s.cache.Acquire(ctx)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	defer release()

	n, err := store.Count(ctx, s.cfg.Collection)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Status = StatusHealthy
	h.Count = n
	return h
}

// Feedback stores a user's brew as a private record visible only to that
// user. The stored id is FeedbackID of the submitted id, or of the content id
// when none is given. Re-submitting the same id replaces the stored record.
func (s *Service) Feedback(ctx context.Context, in FeedbackInput) (res FeedbackResult, err error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return FeedbackResult{}, &QueryValidationError{Field: "user_id", Reason: "is required"}
	}
	if len(in.Record) == 0 {
		return FeedbackResult{}, &QueryValidationError{Field: "record", Reason: "is required"}
	}

	fields := make(map[string]any, len(in.Record)+3)
	for k, v := range in.Record {
		fields[k] = v
	}
	if in.ID != "" {
		fields["id"] = in.ID
	}
	delete(fields, chunk.KeyAccess)
	delete(fields, chunk.KeyUserID)

	rec, err := brew.NormalizeRow(brew.Row{Line: 1, Fields: fields})
	if err != nil {
		return FeedbackResult{}, &QueryValidationError{Field: "record", Reason: err.Error()}
	}
	rec.ID = FeedbackID(userID, rec.ID)
	rec.Access = brew.AccessPrivate
	rec.UserID = userID

	c, err := chunk.Build(rec)
	if err != nil {
		return FeedbackResult{}, &QueryValidationError{Field: "record", Reason: err.Error()}
	}

	ctx, span := observability.StartSpan(ctx, "rag.feedback", attribute.String("rag.record_id", rec.ID))
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	store, release, err := s.cache.Acquire(ctx)
	if err != nil {
		return FeedbackResult{}, err
	}
	defer release()

	stats, err := retrieval.NewIndexer(store, s.embedder, s.cfg.Collection, s.logger).Index(ctx, []chunk.Chunk{c})
	if err != nil {
		return FeedbackResult{}, err
	}
	if stats.Failed > 0 {
		return FeedbackResult{}, fmt.Errorf("indexing feedback: %w", errors.Join(stats.Errors...))
	}
	s.logger.Info("stored feedback record", "id", rec.ID, "user_id", userID, "created", stats.Added > 0)
	return FeedbackResult{ID: rec.ID, Created: stats.Added > 0}, nil
}
