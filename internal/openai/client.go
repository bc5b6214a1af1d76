// Package openai provides a thin wrapper around the official OpenAI Go SDK for batch embeddings.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/retailiq/hub/internal/embeddings"
	pkgembeddings "github.com/retailiq/hub/pkg/embeddings"
)

var (
	// ErrEmptyInput is returned when a batch is empty or contains blank text.
	ErrEmptyInput = errors.New("openai: input text is empty")
	// ErrInvalidDims is returned when dimensions is not positive.
	ErrInvalidDims = errors.New("openai: embedding dimensions must be positive")
	// ErrNoEmbeddingInResponse is returned when the API response contains no embedding data.
	ErrNoEmbeddingInResponse = errors.New("openai: no embedding in response")
)

const (
	defaultDimension = embeddings.DefaultDimensions
	defaultModel     = string(openaisdk.EmbeddingModelTextEmbedding3Small)
)

// Client calls the OpenAI embeddings API via the official SDK.
type Client struct {
	sdk        openaisdk.Client
	model      string
	dimensions int
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the requested embedding dimension.
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		c.dimensions = dim
	}
}

// WithModel sets the embedding model. Empty keeps text-embedding-3-small.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithRequestOptions passes extra SDK options (base URL, HTTP client) through to the SDK.
func WithRequestOptions(opts ...option.RequestOption) ClientOption {
	return func(c *Client) {
		c.sdk = openaisdk.NewClient(opts...)
	}
}

// NewClient creates an OpenAI embeddings client using the official SDK.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		sdk:        openaisdk.NewClient(option.WithAPIKey(apiKey)),
		model:      defaultModel,
		dimensions: defaultDimension,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Model returns the configured embedding model.
func (c *Client) Model() string { return c.model }

// EmbedBatch embeds all texts in one request. Every returned vector carries the index the API
// reported for it, so the caller can verify alignment. Vectors are L2-normalized.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]embeddings.IndexedVector, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: index %d", ErrEmptyInput, i)
		}
	}

	if c.dimensions <= 0 {
		return nil, ErrInvalidDims
	}

	resp, err := c.sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:      openaisdk.EmbeddingModel(c.model),
		Dimensions: param.NewOpt(int64(c.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, ErrNoEmbeddingInResponse
	}

	out := make([]embeddings.IndexedVector, len(resp.Data))
	for i, item := range resp.Data {
		out[i] = embeddings.IndexedVector{Index: int(item.Index), Vector: pkgembeddings.FromFloat64(item.Embedding)}
	}

	return out, nil
}

var _ embeddings.Client = (*Client)(nil)
