package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RAGMetrics records question answering metrics.
type RAGMetrics interface {
	RecordQuery(ctx context.Context, outcome string)
	RecordQueryDuration(ctx context.Context, duration time.Duration, outcome string)
}

type ragMetrics struct {
	queries  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRAGMetrics creates RAGMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewRAGMetrics(meter metric.Meter) (RAGMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	queries, err := meter.Int64Counter(
		MetricNameRAGQueries,
		metric.WithDescription("Total RAG queries by outcome. "+
			"answered: success=true; unanswered: success=false (no embeddings, provider error); "+
			"rejected: 4xx; error: 5xx."),
	)
	if err != nil {
		return nil, fmt.Errorf("create rag queries counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameRAGQueryDuration,
		metric.WithDescription("RAG query duration including embedding and chat calls (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rag query duration histogram: %w", err)
	}

	return &ragMetrics{queries: queries, duration: duration}, nil
}

func (m *ragMetrics) RecordQuery(ctx context.Context, outcome string) {
	outcome = Normalize(outcome, AllowedRAGOutcomes)
	m.queries.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, outcome)))
}

func (m *ragMetrics) RecordQueryDuration(ctx context.Context, duration time.Duration, outcome string) {
	outcome = Normalize(outcome, AllowedRAGOutcomes)
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(AttrOutcome, outcome)))
}
