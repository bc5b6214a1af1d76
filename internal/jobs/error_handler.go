package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// FailureRecorder counts job failures by kind. Implemented by observability.JobMetrics.
type FailureRecorder interface {
	RecordJobFailure(ctx context.Context, kind string, final bool)
}

// ErrorHandler is River's error hook for the file pipeline. Retryable failures log at warn,
// the last attempt and panics at error; every failure is counted. It never overrides
// River's retry schedule.
type ErrorHandler struct {
	Metrics FailureRecorder
}

var _ river.ErrorHandler = (*ErrorHandler)(nil)

func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	final := job.Attempt >= job.MaxAttempts

	level := slog.LevelWarn
	if final {
		level = slog.LevelError
	}

	slog.Log(ctx, level, "jobs: attempt failed", append(jobAttrs(job), "final", final, "error", err)...)
	h.record(ctx, job, final)

	return nil
}

func (h *ErrorHandler) HandlePanic(
	ctx context.Context, job *rivertype.JobRow, panicVal any, trace string,
) *river.ErrorHandlerResult {
	final := job.Attempt >= job.MaxAttempts

	slog.ErrorContext(ctx, "jobs: worker panicked",
		append(jobAttrs(job), "final", final, "panic_value", panicVal, "stack_trace", trace)...)
	h.record(ctx, job, final)

	return nil
}

func (h *ErrorHandler) record(ctx context.Context, job *rivertype.JobRow, final bool) {
	if h.Metrics != nil {
		h.Metrics.RecordJobFailure(ctx, job.Kind, final)
	}
}

// jobAttrs describes a job for logs, including the file it concerns when the args carry one.
func jobAttrs(job *rivertype.JobRow) []any {
	attrs := []any{
		"job_kind", job.Kind,
		"job_id", job.ID,
		"queue", job.Queue,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
	}

	var ref struct {
		FileID string `json:"file_id"`
	}
	if json.Unmarshal(job.EncodedArgs, &ref) == nil && ref.FileID != "" {
		attrs = append(attrs, "file_id", ref.FileID)
	}

	return attrs
}
