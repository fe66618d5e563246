package catalog

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector size HashEmbedder produces by default.
const DefaultHashDimensions = 512

// HashEmbedder is an offline embedder using feature hashing over word and
// word-bigram tokens. It needs no network or model and is deterministic, so
// the catalog works with any model provider and in tests.
type HashEmbedder struct {
	Dimensions int
}

// NewHashEmbedder returns a HashEmbedder with DefaultHashDimensions.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{Dimensions: DefaultHashDimensions}
}

// EmbedDocuments implements Embedder.
func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

// EmbedQuery implements Embedder.
func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	dims := h.Dimensions
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	vec := make([]float32, dims)

	tokens := tokenize(text)
	for i, tok := range tokens {
		addFeature(vec, tok, 1)
		if i > 0 {
			addFeature(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// addFeature adds weight to the bucket of feature, with a hash-derived sign
// to reduce collision bias.
func addFeature(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
