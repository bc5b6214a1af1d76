package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// JobMetrics records River job failures and queue depth.
type JobMetrics interface {
	RecordJobFailure(ctx context.Context, kind string, final bool)
	SetRiverQueueDepth(queue string, depth int)
}

// jobMetrics implements JobMetrics.
type jobMetrics struct {
	failures metric.Int64Counter

	mu     sync.Mutex
	depths map[string]int64
}

// NewJobMetrics creates JobMetrics and registers the queue depth gauge.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewJobMetrics(meter metric.Meter) (JobMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	failures, err := meter.Int64Counter(
		MetricNameJobFailures,
		metric.WithDescription("Total failed job attempts by kind; final=true when River will not retry"),
	)
	if err != nil {
		return nil, fmt.Errorf("create job failures counter: %w", err)
	}

	m := &jobMetrics{failures: failures, depths: map[string]int64{}}

	_, err = meter.Int64ObservableGauge(
		MetricNameRiverQueueDepth,
		metric.WithDescription("Current River job queue depth (available/retryable/scheduled) per queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			m.mu.Lock()
			defer m.mu.Unlock()

			for queue, depth := range m.depths {
				o.Observe(depth, metric.WithAttributes(attribute.String(AttrQueue, queue)))
			}

			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create river queue depth gauge: %w", err)
	}

	return m, nil
}

func (m *jobMetrics) RecordJobFailure(ctx context.Context, kind string, final bool) {
	kind = Normalize(kind, AllowedJobKinds)
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrKind, kind),
		attribute.Bool(AttrFinal, final),
	))
}

func (m *jobMetrics) SetRiverQueueDepth(queue string, depth int) {
	queue = Normalize(queue, AllowedQueues)

	m.mu.Lock()
	m.depths[queue] = int64(depth)
	m.mu.Unlock()
}
