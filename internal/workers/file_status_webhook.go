package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/retailiq/hub/internal/jobs"
	"github.com/retailiq/hub/internal/models"
	"github.com/retailiq/hub/internal/service"
)

// WebhookDeliveryTimeout is the max duration for a single webhook delivery (align with HTTP client timeout).
const WebhookDeliveryTimeout = 25 * time.Second

// FileStatusWebhookWorker delivers one file status event to the configured endpoint.
type FileStatusWebhookWorker struct {
	river.WorkerDefaults[jobs.FileStatusWebhookArgs]

	sender service.WebhookSender
}

// NewFileStatusWebhookWorker creates a worker that sends through sender.
func NewFileStatusWebhookWorker(sender service.WebhookSender) *FileStatusWebhookWorker {
	return &FileStatusWebhookWorker{sender: sender}
}

// Timeout limits how long a single delivery can run.
func (w *FileStatusWebhookWorker) Timeout(*river.Job[jobs.FileStatusWebhookArgs]) time.Duration {
	return WebhookDeliveryTimeout
}

// Work builds the payload and sends once. 410 Gone cancels the job; other failures are retried.
func (w *FileStatusWebhookWorker) Work(ctx context.Context, job *river.Job[jobs.FileStatusWebhookArgs]) error {
	args := job.Args
	payload := argsToPayload(args)

	err := w.sender.Send(ctx, payload)
	if err == nil {
		return nil
	}

	if errors.Is(err, service.ErrEndpointGone) {
		slog.Warn("file status webhook: endpoint gone, cancelling",
			"event_id", args.EventID,
			"file_id", args.FileID,
		)

		return river.JobCancel(err)
	}

	slog.Warn("file status webhook: delivery failed",
		"event_id", args.EventID,
		"file_id", args.FileID,
		"event_type", payload.Type,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
		"error", err,
	)

	return fmt.Errorf("webhook send: %w", err)
}

// argsToPayload builds a WebhookPayload from job args.
func argsToPayload(args jobs.FileStatusWebhookArgs) *service.WebhookPayload {
	status := models.FileStatus(args.Status)

	return &service.WebhookPayload{
		ID:        args.EventID,
		Type:      service.EventTypeForStatus(status),
		Timestamp: args.Timestamp,
		Data: service.FileStatusEvent{
			FileID: args.FileID,
			UserID: args.UserID,
			Status: status,
			Error:  args.Error,
		},
	}
}
