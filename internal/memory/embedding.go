package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/quantumflow/assistcore/internal/inference"
)

// OllamaEmbedding implements EmbeddingGenerator on top of the Ollama embed API
type OllamaEmbedding struct {
	client     *inference.Client
	dimensions int
}

// NewOllamaEmbedding creates an Ollama-backed embedding generator
func NewOllamaEmbedding(client *inference.Client, dimensions int) *OllamaEmbedding {
	return &OllamaEmbedding{client: client, dimensions: dimensions}
}

// Generate creates an embedding vector for text
func (e *OllamaEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}
	return embeddings[0], nil
}

// GenerateBatch creates embeddings for multiple texts
func (e *OllamaEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.client.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	for i, v := range vecs {
		if e.dimensions > 0 && len(v) != e.dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), e.dimensions)
		}
	}
	return vecs, nil
}

// Dimensions returns the embedding vector dimensionality
func (e *OllamaEmbedding) Dimensions() int {
	return e.dimensions
}

// HashEmbedding is a deterministic feature-hashing embedding.
// Each token lands in one signed bucket, so texts sharing words share dimensions.
// Used when no external embedding service is configured.
type HashEmbedding struct {
	dimensions int
}

// NewHashEmbedding creates a hash-based embedding generator
func NewHashEmbedding(dimensions int) *HashEmbedding {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedding{dimensions: dimensions}
}

// Generate creates a hash-based embedding
func (e *HashEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, e.dimensions)

	for _, tok := range Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()

		idx := sum % uint64(e.dimensions)
		if sum>>63 == 1 {
			embedding[idx] -= 1
		} else {
			embedding[idx] += 1
		}
	}

	normalize(embedding)
	return embedding, nil
}

// GenerateBatch creates embeddings for multiple texts
func (e *HashEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Generate(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = emb
	}
	return result, nil
}

// Dimensions returns the embedding vector dimensionality
func (e *HashEmbedding) Dimensions() int {
	return e.dimensions
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	mag := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= mag
	}
}
