package embeddings

import (
	"context"
	"math"
	"unicode/utf16"
)

// PlaceholderModel is recorded on embeddings produced by Placeholder.
const PlaceholderModel = "placeholder"

// Placeholder produces deterministic, non-semantic vectors from the character codes of the
// input: v[j] = sin(code(text[j mod len]) + j) * 0.1. It keeps the retrieval path working
// without a provider.
type Placeholder struct {
	dimensions int
}

// NewPlaceholder returns a placeholder client with DefaultDimensions.
func NewPlaceholder() *Placeholder {
	return &Placeholder{dimensions: DefaultDimensions}
}

// Vector returns the placeholder vector for text.
func (p *Placeholder) Vector(text string) []float32 {
	// UTF-16 code units, so characters outside the BMP contribute surrogate pairs.
	codes := utf16.Encode([]rune(text))
	vec := make([]float32, p.dimensions)
	if len(codes) == 0 {
		return vec
	}

	for j := range vec {
		code := float64(codes[j%len(codes)])
		vec[j] = float32(math.Sin(code+float64(j)) * 0.1)
	}

	return vec
}

// EmbedBatch implements Client.
func (p *Placeholder) EmbedBatch(_ context.Context, texts []string) ([]IndexedVector, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}

	out := make([]IndexedVector, len(texts))
	for i, text := range texts {
		out[i] = IndexedVector{Index: i, Vector: p.Vector(text)}
	}

	return out, nil
}

// Model implements Client.
func (p *Placeholder) Model() string { return PlaceholderModel }

var _ Client = (*Placeholder)(nil)
