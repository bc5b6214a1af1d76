package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailiq/hub/internal/config"
	"github.com/retailiq/hub/internal/embeddings"
)

func TestNewEmbeddingClient(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		client, err := newEmbeddingClient(context.Background(), &config.Config{})
		require.NoError(t, err)
		assert.Nil(t, client)
		assert.Nil(t, newEmbeddingBatcher(client, &config.Config{}))
	})

	t.Run("unsupported provider", func(t *testing.T) {
		_, err := newEmbeddingClient(context.Background(), &config.Config{EmbeddingProvider: "cohere"})
		assert.ErrorIs(t, err, errUnsupportedEmbeddingProvider)
	})
}

func TestNewEmbeddingBatcher_Dimensions(t *testing.T) {
	t.Run("provider uses configured dimensions", func(t *testing.T) {
		cfg := &config.Config{
			EmbeddingProvider:       config.EmbeddingProviderOpenAI,
			EmbeddingProviderAPIKey: "sk-test",
			EmbeddingDimensions:     256,
		}

		client, err := newEmbeddingClient(context.Background(), cfg)
		require.NoError(t, err)
		require.NotNil(t, client)

		batcher := newEmbeddingBatcher(client, cfg)
		require.NotNil(t, batcher)
		assert.Equal(t, 256, batcher.Dimensions())
	})

	t.Run("placeholder keeps its fixed length", func(t *testing.T) {
		cfg := &config.Config{PlaceholderEmbeddings: true, EmbeddingDimensions: 256}

		client, err := newEmbeddingClient(context.Background(), cfg)
		require.NoError(t, err)

		batcher := newEmbeddingBatcher(client, cfg)
		require.NotNil(t, batcher)
		assert.Equal(t, embeddings.DefaultDimensions, batcher.Dimensions())
	})

	t.Run("short vectors are rejected", func(t *testing.T) {
		cfg := &config.Config{EmbeddingProvider: config.EmbeddingProviderOpenAI, EmbeddingDimensions: embeddings.DefaultDimensions}
		batcher := newEmbeddingBatcher(embeddings.NewHashClient(8), cfg)

		report, err := batcher.Embed(context.Background(), []embeddings.Item{{Text: "weekly revenue"}})
		require.NoError(t, err)
		assert.Equal(t, 1, report.FailedBatches)
		assert.Empty(t, report.Embedded)
	})
}
