package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// IngestionMetrics records file analysis pipeline metrics.
// Methods accept ctx for future exemplar support.
type IngestionMetrics interface {
	RecordFileOutcome(ctx context.Context, status string)
	RecordFileDuration(ctx context.Context, duration time.Duration, status string)
	RecordStageError(ctx context.Context, stage string)
	RecordChunks(ctx context.Context, count int64)
	RecordEmbeddingBatches(ctx context.Context, succeeded, failed int64)
	RecordLeaseExpired(ctx context.Context, count int64)
}

// ingestionMetrics implements IngestionMetrics.
type ingestionMetrics struct {
	outcomes     metric.Int64Counter
	duration     metric.Float64Histogram
	stageErrors  metric.Int64Counter
	chunks       metric.Int64Counter
	batches      metric.Int64Counter
	leaseExpired metric.Int64Counter
}

// NewIngestionMetrics creates IngestionMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewIngestionMetrics(meter metric.Meter) (IngestionMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	outcomes, err := meter.Int64Counter(
		MetricNameFilesProcessed,
		metric.WithDescription("Total analyze_file runs by outcome (completed, failed, skipped)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create files processed counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameFileProcessingDuration,
		metric.WithDescription("Time from picking up a file to its terminal status (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create file processing duration histogram: %w", err)
	}

	stageErrors, err := meter.Int64Counter(
		MetricNameIngestionStageErrors,
		metric.WithDescription("Total ingestion failures by pipeline stage"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ingestion stage errors counter: %w", err)
	}

	chunks, err := meter.Int64Counter(
		MetricNameChunksCreated,
		metric.WithDescription("Total chunks written for retrieval"),
	)
	if err != nil {
		return nil, fmt.Errorf("create chunks counter: %w", err)
	}

	batches, err := meter.Int64Counter(
		MetricNameEmbeddingBatches,
		metric.WithDescription("Total embedding provider batches by status (success, failed)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding batches counter: %w", err)
	}

	leaseExpired, err := meter.Int64Counter(
		MetricNameFilesSwept,
		metric.WithDescription("Total files moved to failed because their processing lease expired"),
	)
	if err != nil {
		return nil, fmt.Errorf("create lease expired counter: %w", err)
	}

	return &ingestionMetrics{
		outcomes:     outcomes,
		duration:     duration,
		stageErrors:  stageErrors,
		chunks:       chunks,
		batches:      batches,
		leaseExpired: leaseExpired,
	}, nil
}

func (m *ingestionMetrics) RecordFileOutcome(ctx context.Context, status string) {
	status = Normalize(status, AllowedFileOutcomes)
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStatus, status)))
}

func (m *ingestionMetrics) RecordFileDuration(ctx context.Context, duration time.Duration, status string) {
	status = Normalize(status, AllowedFileOutcomes)
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(AttrStatus, status)))
}

func (m *ingestionMetrics) RecordStageError(ctx context.Context, stage string) {
	stage = Normalize(stage, AllowedIngestionStages)
	m.stageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStage, stage)))
}

func (m *ingestionMetrics) RecordChunks(ctx context.Context, count int64) {
	m.chunks.Add(ctx, count)
}

func (m *ingestionMetrics) RecordEmbeddingBatches(ctx context.Context, succeeded, failed int64) {
	if succeeded > 0 {
		m.batches.Add(ctx, succeeded, metric.WithAttributes(attribute.String(AttrStatus, "success")))
	}
	if failed > 0 {
		m.batches.Add(ctx, failed, metric.WithAttributes(attribute.String(AttrStatus, "failed")))
	}
}

func (m *ingestionMetrics) RecordLeaseExpired(ctx context.Context, count int64) {
	m.leaseExpired.Add(ctx, count)
}
