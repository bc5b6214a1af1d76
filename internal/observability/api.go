package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// APIMetrics records HTTP metrics. Routes are ServeMux patterns, never raw paths.
type APIMetrics interface {
	RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration)
	RecordRequestBodyTooLarge(ctx context.Context, route string)
}

// apiMetrics implements APIMetrics.
type apiMetrics struct {
	requests            metric.Int64Counter
	requestDuration     metric.Float64Histogram
	requestBodyTooLarge metric.Int64Counter
}

// NewAPIMetrics creates APIMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewAPIMetrics(meter metric.Meter) (APIMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	requests, err := meter.Int64Counter(
		MetricNameHTTPRequests,
		metric.WithDescription("Total HTTP requests by method, route pattern and status class"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http requests counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		MetricNameHTTPRequestDuration,
		metric.WithDescription("HTTP request duration by method and route pattern (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http request duration histogram: %w", err)
	}

	desc := "Requests rejected with 413 because the body exceeded the route's limit, by route pattern."

	tooLarge, err := meter.Int64Counter(
		MetricNameRequestBodyTooLarge,
		metric.WithDescription(desc),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create request body too large counter: %w", err)
	}

	return &apiMetrics{
		requests:            requests,
		requestDuration:     requestDuration,
		requestBodyTooLarge: tooLarge,
	}, nil
}

func (a *apiMetrics) RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	route = routeLabel(route)

	a.requests.Add(ctx, 1, metric.WithAttributeSet(attribute.NewSet(
		attribute.String(AttrMethod, method),
		attribute.String(AttrRoute, route),
		attribute.String(AttrStatusClass, StatusClass(status)),
	)))
	a.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributeSet(attribute.NewSet(
		attribute.String(AttrMethod, method),
		attribute.String(AttrRoute, route),
	)))
}

func (a *apiMetrics) RecordRequestBodyTooLarge(ctx context.Context, route string) {
	a.requestBodyTooLarge.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrRoute, routeLabel(route))))
}

func routeLabel(route string) string {
	if route == "" {
		return "unmatched"
	}

	return route
}
