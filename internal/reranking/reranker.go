package reranking

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kalambet/dailydrip/internal/brew"
	"github.com/kalambet/dailydrip/internal/observability"
	"github.com/kalambet/dailydrip/internal/retrieval"
)

// Default evaluation weights: liking counts 60%, the JAG average 40%.
const (
	DefaultLikingWeight = 0.6
	DefaultJAGWeight    = 0.4
)

// Weights controls how liking and the JAG metrics contribute to the
// evaluation score.
type Weights struct {
	Liking float64
	JAG    float64
}

// DefaultWeights returns the 0.6/0.4 split.
func DefaultWeights() Weights {
	return Weights{Liking: DefaultLikingWeight, JAG: DefaultJAGWeight}
}

// Validate rejects negative or non-finite weights and an all-zero pair.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{"liking": w.Liking, "jag": w.JAG} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%s weight must be a non-negative number, got %v", name, v)
		}
	}
	if w.Liking+w.JAG == 0 {
		return fmt.Errorf("liking and jag weights cannot both be zero")
	}
	return nil
}

// Ranked is a candidate with its final position. CombinedScore is nil when
// the ranking was by distance only.
type Ranked struct {
	retrieval.Candidate
	Rank            int
	Similarity      float64
	EvaluationScore float64
	CombinedScore   *float64
}

// RerankError reports invalid reranking parameters.
type RerankError struct {
	Field  string
	Reason string
}

func (e *RerankError) Error() string {
	return fmt.Sprintf("invalid rerank %s: %s", e.Field, e.Reason)
}

// Reranker orders retrieved candidates and keeps the top k.
type Reranker interface {
	Rerank(ctx context.Context, candidates []retrieval.Candidate, k int, similarityWeight float64) ([]Ranked, error)
}

// NewReranker returns an EvaluationReranker if enabled, DistanceReranker
// otherwise.
func NewReranker(w Weights, enabled bool) Reranker {
	if !enabled {
		return &DistanceReranker{}
	}
	return &EvaluationReranker{Weights: w}
}

// EvaluationReranker fuses vector similarity with the recorded evaluation of
// each brew.
type EvaluationReranker struct {
	Weights Weights
}

// Rerank scores every candidate as
//
//	combined = w*similarity + (1-w)*evaluation
//
// and returns the k best, ordered by combined score descending, then
// distance ascending, then id ascending. Ranks are 1-based and dense.
func (r *EvaluationReranker) Rerank(ctx context.Context, candidates []retrieval.Candidate, k int, similarityWeight float64) ([]Ranked, error) {
	if err := validate(k, similarityWeight); err != nil {
		return nil, err
	}
	_, span := observability.StartSpan(ctx, "reranking.rerank",
		attribute.Int("reranking.candidates", len(candidates)),
		attribute.Int("reranking.k", k),
		attribute.Float64("reranking.similarity_weight", similarityWeight),
	)
	defer span.End()

	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		sim := Similarity(c.Distance)
		eval := EvaluationScore(c.Evaluation, r.Weights)
		combined := similarityWeight*sim + (1-similarityWeight)*eval
		ranked[i] = Ranked{
			Candidate:       c,
			Similarity:      sim,
			EvaluationScore: eval,
			CombinedScore:   &combined,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if *a.CombinedScore != *b.CombinedScore {
			return *a.CombinedScore > *b.CombinedScore
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.ID < b.ID
	})
	return assignRanks(ranked, k), nil
}

// DistanceReranker ranks by ascending distance only. Used when evaluation
// reranking is disabled.
type DistanceReranker struct{}

func (d *DistanceReranker) Rerank(_ context.Context, candidates []retrieval.Candidate, k int, similarityWeight float64) ([]Ranked, error) {
	if err := validate(k, similarityWeight); err != nil {
		return nil, err
	}
	return DistanceOnly(candidates, k), nil
}

// DistanceOnly returns the k closest candidates ordered by distance, then id.
func DistanceOnly(candidates []retrieval.Candidate, k int) []Ranked {
	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		ranked[i] = Ranked{Candidate: c, Similarity: Similarity(c.Distance)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Distance != ranked[j].Distance {
			return ranked[i].Distance < ranked[j].Distance
		}
		return ranked[i].ID < ranked[j].ID
	})
	return assignRanks(ranked, k)
}

// Similarity maps a distance onto (0, 1]. Negative distances count as 0.
func Similarity(distance float64) float64 {
	return 1 / (1 + math.Max(distance, 0))
}

// EvaluationScore folds liking (0-10) and the JAG metrics (1-5) into a
// single 0-1 score. Missing parts are left out of the weighted mean; no
// evaluation data at all scores 0.
func EvaluationScore(e *brew.Evaluation, w Weights) float64 {
	if e == nil {
		return 0
	}
	var score, used float64
	if e.Liking != nil {
		score += *e.Liking / 10 * w.Liking
		used += w.Liking
	}

	var sum float64
	var n int
	for _, name := range brew.JAGMetrics {
		if v, ok := e.JAG[name]; ok {
			sum += (v - 1) / 4
			n++
		}
	}
	if n > 0 {
		score += sum / float64(n) * w.JAG
		used += w.JAG
	}

	if used == 0 {
		return 0
	}
	return score / used
}

func validate(k int, w float64) error {
	if k < 1 {
		return &RerankError{Field: "k", Reason: fmt.Sprintf("must be at least 1, got %d", k)}
	}
	if math.IsNaN(w) || w < 0 || w > 1 {
		return &RerankError{Field: "similarity_weight", Reason: fmt.Sprintf("must be within [0, 1], got %v", w)}
	}
	return nil
}

func assignRanks(ranked []Ranked, k int) []Ranked {
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
