package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/retailiq/hub/internal/jobs"
)

const embedChunksTimeout = 5 * time.Minute

// chunkEmbedder is the minimal interface needed by the worker (implemented by service.IngestionService).
type chunkEmbedder interface {
	EmbedMissing(ctx context.Context, fileID uuid.UUID) (int, error)
}

// EmbedChunksWorker embeds the chunks of a file that have no embedding yet.
type EmbedChunksWorker struct {
	river.WorkerDefaults[jobs.EmbedChunksArgs]

	embedder chunkEmbedder
}

// NewEmbedChunksWorker creates the embed_chunks worker.
func NewEmbedChunksWorker(embedder chunkEmbedder) *EmbedChunksWorker {
	return &EmbedChunksWorker{embedder: embedder}
}

// Timeout limits how long a single backfill job can run.
func (w *EmbedChunksWorker) Timeout(*river.Job[jobs.EmbedChunksArgs]) time.Duration {
	return embedChunksTimeout
}

// Work embeds missing chunks. Failed batches are not an error; a later backfill picks them up.
func (w *EmbedChunksWorker) Work(ctx context.Context, job *river.Job[jobs.EmbedChunksArgs]) error {
	n, err := w.embedder.EmbedMissing(ctx, job.Args.FileID)
	if err != nil {
		return fmt.Errorf("embed chunks for file %s: %w", job.Args.FileID, err)
	}

	slog.Info("embed chunks: done",
		"job_id", job.ID,
		"file_id", job.Args.FileID,
		"embedded", n,
	)

	return nil
}
