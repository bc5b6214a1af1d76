// Package embeddings defines the embedding provider contract and the tagged batch embedder
// used by the ingestion worker, the backfill job and the RAG query path.
package embeddings

import (
	"context"
	"errors"
)

// DefaultDimensions matches text-embedding-3-small and the placeholder vector length.
const DefaultDimensions = 1536

var (
	// ErrEmptyBatch is returned when a batch has no inputs.
	ErrEmptyBatch = errors.New("embeddings: batch is empty")
	// ErrIndexOutOfRange is returned when a provider tags a vector with an index outside the batch.
	ErrIndexOutOfRange = errors.New("embeddings: response index out of range")
	// ErrDuplicateIndex is returned when a provider returns two vectors for the same input.
	ErrDuplicateIndex = errors.New("embeddings: duplicate response index")
	// ErrIncompleteBatch is returned when some inputs of a batch have no vector.
	ErrIncompleteBatch = errors.New("embeddings: response missing vectors")
	// ErrDimensionMismatch is returned when a vector does not have the expected length.
	ErrDimensionMismatch = errors.New("embeddings: vector dimension mismatch")
)

// IndexedVector is one embedding tagged with the position of its input in the request.
type IndexedVector struct {
	Index  int
	Vector []float32
}

// Client generates text embeddings.
type Client interface {
	// EmbedBatch embeds texts in one provider call. Each returned vector carries the index of the
	// input it belongs to; the order of the returned slice is not significant.
	EmbedBatch(ctx context.Context, texts []string) ([]IndexedVector, error)
	// Model is the model name recorded on stored embeddings.
	Model() string
}

// EmbedOne embeds a single text through client.
func EmbedOne(ctx context.Context, client Client, text string) ([]float32, error) {
	vectors, err := client.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	aligned, err := Align(1, vectors, 0)
	if err != nil {
		return nil, err
	}

	return aligned[0], nil
}

// Align maps tagged vectors back to input positions. It rejects out-of-range or duplicate
// indexes, missing vectors, and (when dims > 0) vectors of the wrong length.
func Align(n int, vectors []IndexedVector, dims int) ([][]float32, error) {
	out := make([][]float32, n)

	for _, v := range vectors {
		if v.Index < 0 || v.Index >= n {
			return nil, ErrIndexOutOfRange
		}
		if out[v.Index] != nil {
			return nil, ErrDuplicateIndex
		}
		if len(v.Vector) == 0 || (dims > 0 && len(v.Vector) != dims) {
			return nil, ErrDimensionMismatch
		}
		out[v.Index] = v.Vector
	}

	for _, v := range out {
		if v == nil {
			return nil, ErrIncompleteBatch
		}
	}

	return out, nil
}
