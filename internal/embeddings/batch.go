package embeddings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of chunks sent per provider call.
const DefaultBatchSize = 50

// Item is one text to embed, tagged with the id of the chunk it belongs to.
type Item struct {
	ID   uuid.UUID
	Text string
}

// Tagged is a vector mapped back to its chunk id.
type Tagged struct {
	ID     uuid.UUID
	Vector []float32
}

// BatchReport summarizes one Embed call.
type BatchReport struct {
	Embedded      []Tagged
	Batches       int
	FailedBatches int
	// Skipped holds the ids of items whose batch failed; they stay un-embedded.
	Skipped []uuid.UUID
}

// BatchOptions configures a Batcher.
type BatchOptions struct {
	Size int
	// RatePerSecond limits provider calls; <= 0 disables limiting.
	RatePerSecond float64
	// Dimensions is the expected vector length; 0 accepts any non-empty vector.
	Dimensions int
}

// Batcher embeds items in sequential batches. Each batch waits on a rate limiter, and the
// provider's tagged response is validated before any vector is attributed to a chunk.
type Batcher struct {
	client  Client
	size    int
	dims    int
	limiter *rate.Limiter
}

// NewBatcher creates a Batcher over client.
func NewBatcher(client Client, opts BatchOptions) *Batcher {
	size := opts.Size
	if size <= 0 {
		size = DefaultBatchSize
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	return &Batcher{
		client:  client,
		size:    size,
		dims:    opts.Dimensions,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Model returns the underlying client's model name.
func (b *Batcher) Model() string { return b.client.Model() }

// Dimensions returns the enforced vector length, 0 when any length is accepted.
func (b *Batcher) Dimensions() int { return b.dims }

// Embed embeds items batch by batch. A failing or misaligned batch is logged and its items are
// reported as skipped; Embed only returns an error when ctx is done.
func (b *Batcher) Embed(ctx context.Context, items []Item) (*BatchReport, error) {
	report := &BatchReport{Embedded: make([]Tagged, 0, len(items))}

	for start := 0; start < len(items); start += b.size {
		end := min(start+b.size, len(items))
		batch := items[start:end]
		report.Batches++

		if err := b.limiter.Wait(ctx); err != nil {
			return report, fmt.Errorf("embedding rate limiter: %w", err)
		}

		vectors, err := b.embedBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}

			report.FailedBatches++
			for _, item := range batch {
				report.Skipped = append(report.Skipped, item.ID)
			}

			slog.Warn("embeddings: batch skipped",
				"batch_start", start,
				"batch_size", len(batch),
				"model", b.client.Model(),
				"error", err,
			)

			continue
		}

		for i, item := range batch {
			report.Embedded = append(report.Embedded, Tagged{ID: item.ID, Vector: vectors[i]})
		}
	}

	return report, nil
}

func (b *Batcher) embedBatch(ctx context.Context, batch []Item) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = item.Text
	}

	tagged, err := b.client.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	return Align(len(batch), tagged, b.dims)
}
