package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/retailiq/hub/internal/models"
	"github.com/retailiq/hub/internal/observability"
)

// JobInserter is the slice of *river.Client the enqueuer needs.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// EnqueuerConfig holds per-queue attempt limits.
type EnqueuerConfig struct {
	AnalysisMaxAttempts  int
	EmbeddingMaxAttempts int
	WebhookMaxAttempts   int
	// WebhooksEnabled turns file status notifications on.
	WebhooksEnabled bool
	WebhookMetrics  observability.WebhookMetrics
}

// Enqueuer maps pipeline events to River jobs with their queue, attempts and uniqueness.
type Enqueuer struct {
	inserter JobInserter
	cfg      EnqueuerConfig
}

// NewEnqueuer creates an Enqueuer over inserter.
func NewEnqueuer(inserter JobInserter, cfg EnqueuerConfig) *Enqueuer {
	return &Enqueuer{inserter: inserter, cfg: cfg}
}

// uniqueWhileActive deduplicates by args against jobs that have not finished.
// JobStatePending is required by River when using ByState.
func uniqueWhileActive() river.UniqueOpts {
	return river.UniqueOpts{
		ByArgs: true,
		ByState: []rivertype.JobState{
			rivertype.JobStatePending,
			rivertype.JobStateAvailable,
			rivertype.JobStateRunning,
			rivertype.JobStateRetryable,
			rivertype.JobStateScheduled,
		},
	}
}

// EnqueueAnalysis queues an analyze_file job. A duplicate of an active job is not an error.
func (e *Enqueuer) EnqueueAnalysis(ctx context.Context, fileID uuid.UUID, storageKey string) error {
	res, err := e.inserter.Insert(ctx, AnalyzeFileArgs{FileID: fileID, StorageKey: storageKey}, &river.InsertOpts{
		Queue:       QueueAnalysis,
		MaxAttempts: e.cfg.AnalysisMaxAttempts,
		UniqueOpts:  uniqueWhileActive(),
	})
	if err != nil {
		return fmt.Errorf("enqueue analysis: %w", err)
	}

	slog.Info("jobs: analysis enqueued",
		"file_id", fileID,
		"duplicate", res != nil && res.UniqueSkippedAsDuplicate,
	)

	return nil
}

// EnqueueEmbedChunks queues an embed_chunks job for a file.
func (e *Enqueuer) EnqueueEmbedChunks(ctx context.Context, fileID uuid.UUID) error {
	_, err := e.inserter.Insert(ctx, EmbedChunksArgs{FileID: fileID}, &river.InsertOpts{
		Queue:       QueueEmbeddings,
		MaxAttempts: e.cfg.EmbeddingMaxAttempts,
		UniqueOpts:  uniqueWhileActive(),
	})
	if err != nil {
		return fmt.Errorf("enqueue embed chunks: %w", err)
	}

	return nil
}

// NotifyFileStatus queues a file_status_webhook job for a terminal transition.
// It is a no-op when webhooks are disabled; enqueue errors are logged, not returned.
func (e *Enqueuer) NotifyFileStatus(ctx context.Context, file *models.UploadedFile) {
	if !e.cfg.WebhooksEnabled || file == nil || !file.Status.IsTerminal() {
		return
	}

	args := FileStatusWebhookArgs{
		EventID:   uuid.Must(uuid.NewV7()),
		FileID:    file.ID,
		UserID:    file.UserID,
		Status:    string(file.Status),
		Timestamp: time.Now().UTC(),
	}
	if file.Error != nil {
		args.Error = *file.Error
	}

	_, err := e.inserter.Insert(ctx, args, &river.InsertOpts{
		Queue:       QueueWebhooks,
		MaxAttempts: e.cfg.WebhookMaxAttempts,
	})

	if e.cfg.WebhookMetrics != nil {
		e.cfg.WebhookMetrics.RecordEnqueue(ctx, "file."+args.Status, err)
	}

	if err != nil {
		slog.Error("jobs: file status webhook enqueue failed",
			"file_id", file.ID,
			"status", file.Status,
			"error", err,
		)
	}
}
