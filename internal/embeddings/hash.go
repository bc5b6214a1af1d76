package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"

	pkgembeddings "github.com/retailiq/hub/pkg/embeddings"
)

// HashModel is the model name reported by HashClient.
const HashModel = "sha256-hash"

// HashClient is an offline Client for tests and local runs. Equal texts get equal unit
// vectors, different texts almost surely do not; there is no semantic similarity.
type HashClient struct {
	dimensions int
	calls      atomic.Int64
}

// NewHashClient returns a HashClient producing vectors of the given length
// (DefaultDimensions when dimensions <= 0).
func NewHashClient(dimensions int) *HashClient {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}

	return &HashClient{dimensions: dimensions}
}

// EmbedBatch rejects blank texts, like the real providers do.
func (c *HashClient) EmbedBatch(_ context.Context, texts []string) ([]IndexedVector, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}

	c.calls.Add(1)

	out := make([]IndexedVector, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("embed: text %d is blank", i)
		}

		out[i] = IndexedVector{Index: i, Vector: c.vector(text)}
	}

	return out, nil
}

func (c *HashClient) Model() string { return HashModel }

// Calls reports how many batches were embedded.
func (c *HashClient) Calls() int64 { return c.calls.Load() }

// vector expands sha256(text) into dimensions values in [-1, 1) by re-hashing with a
// block counter, then normalizes.
func (c *HashClient) vector(text string) []float32 {
	vec := make([]float32, 0, c.dimensions)

	var block [4]byte
	for n := uint32(0); len(vec) < c.dimensions; n++ {
		binary.BigEndian.PutUint32(block[:], n)
		sum := sha256.Sum256(append(block[:], text...))

		for _, b := range sum {
			if len(vec) == c.dimensions {
				break
			}

			vec = append(vec, float32(b)/128-1)
		}
	}

	pkgembeddings.Normalize(vec)

	return vec
}

var _ Client = (*HashClient)(nil)
