package rag

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kalambet/dailydrip/internal/brew"
	"github.com/kalambet/dailydrip/internal/chunk"
)

// Query limits.
const (
	MaxK              = 10
	MaxMultiplier     = 5
	DefaultK          = 3
	DefaultWeight     = 0.7
	DefaultMultiplier = 3
)

// Query is a retrieval request. Exactly one of Bean, Record or Text is
// expected to carry the query content; if several are set, Bean wins over
// Record, and Record over Text. Nil numeric fields take the service defaults.
type Query struct {
	Bean                   map[string]any `json:"bean,omitempty"`
	Record                 map[string]any `json:"record,omitempty"`
	Text                   string         `json:"query,omitempty"`
	K                      *int           `json:"k,omitempty"`
	UseEvaluationReranking bool           `json:"use_evaluation_reranking"`
	SimilarityWeight       *float64       `json:"similarity_weight,omitempty"`
	RetrievalMultiplier    *int           `json:"retrieval_multiplier,omitempty"`
	UserID                 string         `json:"user_id,omitempty"`
}

// QueryValidationError reports a request rejected before any store access.
type QueryValidationError struct {
	Field  string
	Reason string
}

func (e *QueryValidationError) Error() string {
	if e.Field == "" {
		return "invalid query: " + e.Reason
	}
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Reason)
}

// Defaults are the values used for unset query parameters. K and
// RetrievalMultiplier are never valid at zero, so zero means unset; a nil
// SimilarityWeight means unset since zero is a valid weight.
type Defaults struct {
	K                   int
	SimilarityWeight    *float64
	RetrievalMultiplier int
}

// resolved is a validated query with defaults applied.
type resolved struct {
	text       string
	k          int
	rerank     bool
	weight     float64
	multiplier int
	userID     string
}

// fetchN is the number of candidates requested from the store: k times the
// multiplier when reranking, otherwise k.
func (r resolved) fetchN() int {
	if r.rerank {
		return r.k * r.multiplier
	}
	return r.k
}

func (q Query) resolve(d Defaults) (resolved, error) {
	r := resolved{
		k:          d.K,
		rerank:     q.UseEvaluationReranking,
		weight:     DefaultWeight,
		multiplier: d.RetrievalMultiplier,
		userID:     strings.TrimSpace(q.UserID),
	}
	if d.SimilarityWeight != nil {
		r.weight = *d.SimilarityWeight
	}
	if q.K != nil {
		r.k = *q.K
	}
	if q.SimilarityWeight != nil {
		r.weight = *q.SimilarityWeight
	}
	if q.RetrievalMultiplier != nil {
		r.multiplier = *q.RetrievalMultiplier
	}

	if r.k < 1 || r.k > MaxK {
		return r, &QueryValidationError{Field: "k", Reason: fmt.Sprintf("must be within [1, %d], got %d", MaxK, r.k)}
	}
	if math.IsNaN(r.weight) || r.weight < 0 || r.weight > 1 {
		return r, &QueryValidationError{Field: "similarity_weight", Reason: fmt.Sprintf("must be within [0, 1], got %v", r.weight)}
	}
	if r.multiplier < 1 || r.multiplier > MaxMultiplier {
		return r, &QueryValidationError{Field: "retrieval_multiplier", Reason: fmt.Sprintf("must be within [1, %d], got %d", MaxMultiplier, r.multiplier)}
	}

	text, err := q.queryText()
	if err != nil {
		return r, err
	}
	r.text = text
	return r, nil
}

// queryText renders the query content. Bean objects go through the same
// projection as indexed chunks so both sides embed comparable text.
func (q Query) queryText() (string, error) {
	bean := q.Bean
	if len(bean) == 0 && q.Record != nil {
		bean, _ = q.Record["bean"].(map[string]any)
	}
	if len(bean) > 0 {
		return BeanQueryText(bean)
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		return text, nil
	}
	return "", &QueryValidationError{Reason: "provide a bean, a full record, or a free-text query"}
}

// BeanQueryText projects a raw bean object onto chunk text. Objects with none
// of the known bean fields fall back to "key: value" pairs in key order.
func BeanQueryText(bean map[string]any) (string, error) {
	rec, err := brew.NormalizeRow(brew.Row{Line: 1, Fields: map[string]any{"bean": bean}})
	if err != nil {
		return "", &QueryValidationError{Field: "bean", Reason: err.Error()}
	}
	if text := chunk.BeanText(rec.Bean); text != "" {
		return text, nil
	}

	flat := brew.Flatten(bean)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := flat[k]; v != nil && fmt.Sprint(v) != "" {
			parts = append(parts, fmt.Sprintf("%s: %v", k, v))
		}
	}
	if len(parts) == 0 {
		return "", &QueryValidationError{Field: "bean", Reason: "bean has no usable fields"}
	}
	return strings.Join(parts, " | "), nil
}
