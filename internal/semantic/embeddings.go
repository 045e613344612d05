// Package semantic implements the Semantic Index (§4.4): a deterministic,
// local embedding model plus a persistent, config-hash-validated cache of
// tool embeddings, searched by cosine similarity. Grounded on the teacher's
// internal/semantic/embeddings.go hash-bucket TF-IDF-style embedder.
package semantic

import (
	"context"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"ncpgateway/internal/config"
)

// Embedder is the swappable capability Design Notes §9 calls for: any
// implementation that can turn text into a fixed-dimension vector. The
// embedding cache is keyed by Name() so switching embedders invalidates
// caches built by a different one.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// localEmbedder is a small, local, deterministic embedding model: a
// hash-bucket bag-of-tokens vector, unit-normalized. It has no external
// dependency and no training step, matching "any implementation equivalent
// to a mean-pooled sentence-transformer over a fixed vocabulary" from §4.4
// without pulling in an actual model runtime.
type localEmbedder struct {
	logger    *zap.Logger
	dimension int
	mu        sync.RWMutex
	ready     bool
}

// NewLocalEmbedder constructs the default local Embedder.
func NewLocalEmbedder(logger *zap.Logger) Embedder {
	return &localEmbedder{logger: logger, dimension: config.EmbeddingDimension, ready: true}
}

func (e *localEmbedder) Name() string   { return "local-hash-bucket-v1" }
func (e *localEmbedder) Dimension() int { return e.dimension }

func (e *localEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	e.mu.RLock()
	ready := e.ready
	e.mu.RUnlock()
	if !ready {
		return nil, errNotReady
	}

	tokens := tokenize(text)
	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}

	vec := make([]float32, e.dimension)
	denom := float32(len(tokens))
	if denom == 0 {
		denom = 1
	}
	for tok, count := range freq {
		h := hashToken(tok)
		for i := 0; i < 3; i++ {
			pos := (h + i*17) % e.dimension
			vec[pos] += float32(count) / denom
		}
	}
	return normalize(vec), nil
}

func (e *localEmbedder) Close() {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()
}

var errNotReady = &embedderError{"embedding model not ready"}

type embedderError struct{ msg string }

func (e *embedderError) Error() string { return e.msg }

func tokenize(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
}

func hashToken(token string) int {
	hash := 0
	for _, ch := range token {
		hash = hash*31 + int(ch)
	}
	if hash < 0 {
		hash = -hash
	}
	return hash
}

func normalize(vec []float32) []float32 {
	var sum float32
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(float64(sum)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// CosineSimilarity computes cosine similarity between two equal-length
// unit (or arbitrary) vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(normA)*float64(normB)))
}
