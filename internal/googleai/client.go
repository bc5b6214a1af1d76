// Package googleai provides a thin wrapper around the Google Gen AI SDK for batch embeddings (Gemini API).
package googleai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/retailiq/hub/internal/embeddings"
	pkgembeddings "github.com/retailiq/hub/pkg/embeddings"
)

var (
	// ErrEmptyInput is returned when a batch is empty or contains blank text.
	ErrEmptyInput = errors.New("googleai: input text is empty")
	// ErrInvalidDims is returned when dimensions is not positive.
	ErrInvalidDims = errors.New("googleai: embedding dimensions must be positive")
	// ErrNoEmbeddingInResponse is returned when the API response contains no embedding data.
	ErrNoEmbeddingInResponse = errors.New("googleai: no embedding in response")
	// ErrDimensionMismatch is returned when the response embedding length does not match configured dimensions.
	ErrDimensionMismatch = errors.New("googleai: embedding dimension mismatch")
	// ErrCountMismatch is returned when the response has a different number of embeddings than inputs.
	ErrCountMismatch = errors.New("googleai: embedding count mismatch")
)

const (
	defaultDimension = embeddings.DefaultDimensions
	defaultModel     = "gemini-embedding-001"
)

// Client calls the Gemini embeddings API via the Google Gen AI SDK.
type Client struct {
	client     *genai.Client
	model      string
	dimensions int
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the requested output dimensionality.
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		c.dimensions = dim
	}
}

// WithModel sets the embedding model name (e.g. gemini-embedding-001). Empty uses default.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// NewClient creates a Gemini embeddings client.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("googleai client: %w", err)
	}

	client := &Client{
		client:     genaiClient,
		model:      defaultModel,
		dimensions: defaultDimension,
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Model returns the configured embedding model.
func (c *Client) Model() string {
	if c.model == "" {
		return defaultModel
	}
	return c.model
}

// EmbedBatch embeds all texts in one EmbedContent call. The Gemini API returns embeddings in
// request order without an index, so each vector is tagged with its response position and the
// count is checked against the request. Vectors are L2-normalized since reduced
// OutputDimensionality values are not unit length.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]embeddings.IndexedVector, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	if c.dimensions <= 0 || c.dimensions > math.MaxInt32 {
		return nil, ErrInvalidDims
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("%w: index %d", ErrEmptyInput, i)
		}
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	//nolint:gosec // G115: c.dimensions is bounded above by math.MaxInt32
	dimInt32 := int32(c.dimensions)

	resp, err := c.client.Models.EmbedContent(ctx, c.Model(), contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dimInt32,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedding: %w", err)
	}

	if len(resp.Embeddings) == 0 {
		return nil, ErrNoEmbeddingInResponse
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrCountMismatch, len(resp.Embeddings), len(texts))
	}

	out := make([]embeddings.IndexedVector, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) != c.dimensions {
			return nil, fmt.Errorf("%w: index %d", ErrDimensionMismatch, i)
		}

		vec := make([]float32, len(emb.Values))
		copy(vec, emb.Values)
		pkgembeddings.Normalize(vec)

		out[i] = embeddings.IndexedVector{Index: i, Vector: vec}
	}

	return out, nil
}

var _ embeddings.Client = (*Client)(nil)
