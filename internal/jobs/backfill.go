package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// MissingEmbeddingsLister lists completed files that still have chunks without a vector.
type MissingEmbeddingsLister interface {
	ListIDsMissingEmbeddings(ctx context.Context) ([]uuid.UUID, error)
}

// BackfillOptions tunes a backfill run.
type BackfillOptions struct {
	// DryRun lists the files without enqueuing anything.
	DryRun bool
}

type BackfillStats struct {
	FilesFound    int
	FilesEnqueued int
	Errors        int
}

// Backfill queues one embed_chunks job per file returned by lister. A failed enqueue is
// logged and counted and the run moves on; only a listing failure or cancellation is
// returned as an error, together with the stats gathered so far.
func Backfill(ctx context.Context, lister MissingEmbeddingsLister, enqueuer *Enqueuer, opts BackfillOptions) (BackfillStats, error) {
	var stats BackfillStats

	ids, err := lister.ListIDsMissingEmbeddings(ctx)
	if err != nil {
		return stats, fmt.Errorf("list files missing embeddings: %w", err)
	}

	stats.FilesFound = len(ids)

	if opts.DryRun {
		for _, id := range ids {
			slog.Info("backfill: would enqueue", "file_id", id)
		}

		return stats, nil
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("backfill interrupted: %w", err)
		}

		if err := enqueuer.EnqueueEmbedChunks(ctx, id); err != nil {
			slog.Error("backfill: enqueue failed", "file_id", id, "error", err)
			stats.Errors++

			continue
		}

		stats.FilesEnqueued++
	}

	return stats, nil
}
