package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics counts lookups against the in-process caches (query embeddings, sessions).
type CacheMetrics interface {
	RecordLookup(ctx context.Context, cacheName string, hit bool)
}

type cacheMetrics struct {
	lookups metric.Int64Counter
}

// NewCacheMetrics returns (nil, nil) when meter is nil.
func NewCacheMetrics(meter metric.Meter) (CacheMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	lookups, err := meter.Int64Counter(MetricNameCacheLookups,
		metric.WithDescription("Cache lookups by cache and result (hit or miss). "+
			"Hit ratio = rate(result=\"hit\") / rate(all) per cache."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache lookups counter: %w", err)
	}

	return &cacheMetrics{lookups: lookups}, nil
}

func (c *cacheMetrics) RecordLookup(ctx context.Context, cacheName string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	c.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCache, NormalizeCacheName(cacheName)),
		attribute.String(AttrResult, result),
	))
}
