// Package workers provides River job workers for the file pipeline (analysis, embedding backfill, status webhooks).
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/retailiq/hub/internal/jobs"
	"github.com/retailiq/hub/internal/service"
)

// DefaultAnalysisJobTimeout is used when no timeout is configured.
const DefaultAnalysisJobTimeout = 10 * time.Minute

// fileProcessor is the minimal interface needed by the worker (implemented by service.IngestionService).
type fileProcessor interface {
	Process(ctx context.Context, fileID uuid.UUID, storageKey string) (*service.ProcessResult, error)
}

// AnalyzeFileWorker runs the ingestion pipeline for one uploaded file.
type AnalyzeFileWorker struct {
	river.WorkerDefaults[jobs.AnalyzeFileArgs]

	processor fileProcessor
	timeout   time.Duration
}

// NewAnalyzeFileWorker creates the analyze_file worker. timeout <= 0 uses DefaultAnalysisJobTimeout.
func NewAnalyzeFileWorker(processor fileProcessor, timeout time.Duration) *AnalyzeFileWorker {
	if timeout <= 0 {
		timeout = DefaultAnalysisJobTimeout
	}

	return &AnalyzeFileWorker{processor: processor, timeout: timeout}
}

// Timeout limits how long one analysis attempt can run. The processing lease must be longer.
func (w *AnalyzeFileWorker) Timeout(*river.Job[jobs.AnalyzeFileArgs]) time.Duration {
	return w.timeout
}

// Work processes the file. A skipped file completes the job; other errors go to River's retry policy
// after the file has been marked failed.
func (w *AnalyzeFileWorker) Work(ctx context.Context, job *river.Job[jobs.AnalyzeFileArgs]) error {
	args := job.Args

	res, err := w.processor.Process(ctx, args.FileID, args.StorageKey)
	if err != nil {
		if errors.Is(err, service.ErrSkipped) {
			slog.Warn("analyze file: skipped",
				"job_id", job.ID,
				"file_id", args.FileID,
				"reason", err,
			)

			return nil
		}

		slog.Error("analyze file: attempt failed",
			"job_id", job.ID,
			"file_id", args.FileID,
			"attempt", job.Attempt,
			"max_attempts", job.MaxAttempts,
			"error", err,
		)

		return fmt.Errorf("analyze file %s: %w", args.FileID, err)
	}

	slog.Info("analyze file: completed",
		"job_id", job.ID,
		"file_id", args.FileID,
		"results", res.Results,
		"chunks", res.Chunks,
		"embedded", res.Embedded,
		"failed_batches", res.FailedBatches,
	)

	return nil
}
