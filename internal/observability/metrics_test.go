package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/retailiq/hub/internal/config"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		allowed  map[string]bool
		expected string
	}{
		{"known outcome", "completed", AllowedFileOutcomes, "completed"},
		{"unknown outcome", "processing", AllowedFileOutcomes, "other"},
		{"known stage", "embed", AllowedIngestionStages, "embed"},
		{"empty stage", "", AllowedIngestionStages, "other"},
		{"known queue", "analysis", AllowedQueues, "analysis"},
		{"unknown queue", "default", AllowedQueues, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input, tt.allowed))
		})
	}
}

func TestNormalizeEventType(t *testing.T) {
	assert.Equal(t, "file.completed", NormalizeEventType("file.completed"))
	assert.Equal(t, "file.failed", NormalizeEventType("file.failed"))
	assert.Equal(t, "unknown", NormalizeEventType(""))
	assert.Equal(t, "unknown", NormalizeEventType("file.completd"))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "1xx", StatusClass(101))
	assert.Equal(t, "2xx", StatusClass(200))
	assert.Equal(t, "3xx", StatusClass(304))
	assert.Equal(t, "4xx", StatusClass(413))
	assert.Equal(t, "5xx", StatusClass(503))
}

func TestNewMetrics_NilMeter(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	mp, handler, err := NewMeterProvider(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, mp)
	assert.Nil(t, handler)

	mp, handler, err = NewMeterProvider(context.Background(), &config.Config{OtelMetricsExporter: "statsd"})
	require.NoError(t, err)
	assert.Nil(t, mp)
	assert.Nil(t, handler)
}

func TestNewMeterProvider_Prometheus(t *testing.T) {
	mp, handler, err := NewMeterProvider(context.Background(), &config.Config{OtelMetricsExporter: MetricsExporterPrometheus})
	require.NoError(t, err)
	require.NotNil(t, mp)
	assert.NotNil(t, handler)
	assert.NoError(t, ShutdownProviders(context.Background(), nil, mp))
}

func TestNewResource(t *testing.T) {
	res, err := newResource()
	require.NoError(t, err)

	assert.Equal(t, resource.Default().SchemaURL(), res.SchemaURL())

	name, ok := res.Set().Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, serviceName, name.AsString())

	_, ok = res.Set().Value(attribute.Key("service.version"))
	assert.True(t, ok)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}

	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, key, value string) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}

	return total
}

func TestMetrics_Recording(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()
	m.Ingestion.RecordFileOutcome(ctx, "completed")
	m.Ingestion.RecordFileOutcome(ctx, "completed")
	m.Ingestion.RecordFileOutcome(ctx, "bogus")
	m.Ingestion.RecordStageError(ctx, "analyze")
	m.Ingestion.RecordEmbeddingBatches(ctx, 3, 1)
	m.RAG.RecordQuery(ctx, "answered")
	m.Webhooks.RecordDelivery(ctx, "file.failed", "success", 20*time.Millisecond)
	m.Webhooks.RecordEnqueue(ctx, "file.completed", nil)
	m.Cache.RecordLookup(ctx, "rag_query_embedding", true)
	m.Cache.RecordLookup(ctx, "session", false)
	m.Cache.RecordLookup(ctx, "session", false)
	m.Jobs.SetRiverQueueDepth("analysis", 7)

	got := collect(t, reader)

	assert.Equal(t, int64(2), sumFor(t, got[MetricNameFilesProcessed], AttrStatus, "completed"))
	assert.Equal(t, int64(1), sumFor(t, got[MetricNameFilesProcessed], AttrStatus, "other"))
	assert.Equal(t, int64(1), sumFor(t, got[MetricNameIngestionStageErrors], AttrStage, "analyze"))
	assert.Equal(t, int64(3), sumFor(t, got[MetricNameEmbeddingBatches], AttrStatus, "success"))
	assert.Equal(t, int64(1), sumFor(t, got[MetricNameEmbeddingBatches], AttrStatus, "failed"))
	assert.Equal(t, int64(1), sumFor(t, got[MetricNameRAGQueries], AttrOutcome, "answered"))
	assert.Equal(t, int64(1), sumFor(t, got[MetricNameWebhookDeliveries], AttrEventType, "file.failed"))
	assert.Equal(t, int64(1), sumFor(t, got[MetricNameWebhookJobsEnqueued], AttrResult, "ok"))
	assert.Equal(t, int64(1), sumFor(t, got[MetricNameCacheLookups], AttrCache, "rag_query_embedding"))
	assert.Equal(t, int64(2), sumFor(t, got[MetricNameCacheLookups], AttrResult, "miss"))

	gauge, ok := got[MetricNameRiverQueueDepth].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(7), gauge.DataPoints[0].Value)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("verbose"))
}

func TestNewLogger_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, "info", "json")
	ctx := WithUserID(WithRequestID(context.Background(), "req-42"), "user-7")
	logger.InfoContext(ctx, "hello")
	logger.DebugContext(ctx, "hidden")

	assert.Equal(t, "req-42", RequestIDFrom(ctx))
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Contains(t, buf.String(), `"user_id":"user-7"`)
	assert.NotContains(t, buf.String(), "hidden")
}
