package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// WebhookMetrics covers both halves of a file status notification: the River job being
// queued and the HTTP delivery the worker makes.
type WebhookMetrics interface {
	RecordEnqueue(ctx context.Context, eventType string, err error)
	RecordDelivery(ctx context.Context, eventType, status string, duration time.Duration)
}

type webhookMetrics struct {
	enqueued   metric.Int64Counter
	deliveries metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewWebhookMetrics returns (nil, nil) when meter is nil.
func NewWebhookMetrics(meter metric.Meter) (WebhookMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	enqueued, err := meter.Int64Counter(MetricNameWebhookJobsEnqueued,
		metric.WithDescription("File status webhook jobs queued, by event type and result (ok or error)"))
	if err != nil {
		return nil, fmt.Errorf("create webhook enqueue counter: %w", err)
	}

	deliveries, err := meter.Int64Counter(MetricNameWebhookDeliveries,
		metric.WithDescription("Webhook delivery attempts by event type and status"))
	if err != nil {
		return nil, fmt.Errorf("create webhook deliveries counter: %w", err)
	}

	latency, err := meter.Float64Histogram(MetricNameWebhookDeliveryDuration,
		metric.WithDescription("Webhook delivery duration (seconds)"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create webhook delivery duration histogram: %w", err)
	}

	return &webhookMetrics{enqueued: enqueued, deliveries: deliveries, latency: latency}, nil
}

func (m *webhookMetrics) RecordEnqueue(ctx context.Context, eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	m.enqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrEventType, NormalizeEventType(eventType)),
		attribute.String(AttrResult, result),
	))
}

func (m *webhookMetrics) RecordDelivery(ctx context.Context, eventType, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrEventType, NormalizeEventType(eventType)),
		attribute.String(AttrStatus, Normalize(status, AllowedDeliveryStatuses)),
	)
	m.deliveries.Add(ctx, 1, attrs)
	m.latency.Record(ctx, duration.Seconds(), attrs)
}
