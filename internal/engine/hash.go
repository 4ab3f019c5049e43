package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimension matches the width of the small sentence-transformer
// models commonly used for brew logs, so collections stay comparable in size.
const DefaultHashDimension = 384

// HashModel is the only model name the hash engine serves.
const HashModel = "bow"

// HashEngine is an offline bag-of-words hashing embedder. Every token of the
// text is hashed into one of dim buckets and the vector is L2-normalized.
// It needs no server and is fully deterministic, which makes it suitable
// for tests and air-gapped installs.
type HashEngine struct {
	dim int
}

// NewHashEngine returns a hash engine producing dim-wide vectors. A
// non-positive dim selects DefaultHashDimension.
func NewHashEngine(dim int) *HashEngine {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEngine{dim: dim}
}

func (e *HashEngine) Name() string { return KindHash }

// Dimension returns the vector width.
func (e *HashEngine) Dimension() int { return e.dim }

func (e *HashEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if model != "" && model != HashModel {
		return nil, fmt.Errorf("hash engine: unknown model %q", model)
	}

	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dim)] += 1
	}

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq > 0 {
		inv := float32(1 / math.Sqrt(sumSq))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// tokenize lowercases text and splits it on anything that is not a letter or
// digit, so "bean.name: Halo" yields "bean", "name", "halo".
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (e *HashEngine) IsRunning(context.Context) bool { return true }

func (e *HashEngine) ListModels(context.Context) ([]string, error) {
	return []string{HashModel}, nil
}

func (e *HashEngine) HasModel(_ context.Context, name string) bool {
	return name == HashModel
}

func (e *HashEngine) PullModel(_ context.Context, name string, _ func(PullProgress)) error {
	if name != HashModel {
		return fmt.Errorf("hash engine: unknown model %q", name)
	}
	return nil
}
