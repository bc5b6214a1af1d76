package observability

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/retailiq/hub/internal/config"
)

const tracerName = "github.com/retailiq/hub"

// defaultTraceIDRatio is used when a ratio sampler is selected without a valid argument.
const defaultTraceIDRatio = 1.0

// StartSpan starts a span on the global tracer. Without a tracer provider the span is a no-op.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (when non-nil) on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

// FileIDAttr is the span attribute for an uploaded file.
func FileIDAttr(fileID string) attribute.KeyValue {
	return attribute.String("hub.file_id", fileID)
}

// newSampler maps OTEL_TRACES_SAMPLER / OTEL_TRACES_SAMPLER_ARG to a Sampler.
// Empty or unknown names fall back to parentbased_always_on, the SDK default.
func newSampler(name, arg string) sdktrace.Sampler {
	switch name {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(parseTraceIDRatio(arg))
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(parseTraceIDRatio(arg)))
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}

func parseTraceIDRatio(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 1 {
		return defaultTraceIDRatio
	}

	return f
}

// Trace exporters selectable with OTEL_TRACES_EXPORTER.
const (
	TracesExporterOTLP   = "otlp"
	TracesExporterStdout = "stdout"
)

// NewTracerProvider builds a TracerProvider for cfg.OtelTracesExporter. It returns
// (nil, nil) when the exporter is empty or unknown, meaning tracing is off.
func NewTracerProvider(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	if cfg == nil {
		//nolint:nilnil // tracing disabled, caller checks for nil
		return nil, nil
	}

	var (
		exp sdktrace.SpanExporter
		err error
	)

	switch cfg.OtelTracesExporter {
	case TracesExporterOTLP:
		exp, err = newOTLPTraceExporter(ctx)
	case TracesExporterStdout:
		exp, err = newStdoutTraceExporter()
	default:
		//nolint:nilnil // tracing disabled, caller checks for nil
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	res, err := newResource()
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.OtelTracesSampler, cfg.OtelTracesSamplerArg)),
		sdktrace.WithBatcher(exp),
	), nil
}

// newOTLPTraceExporter creates an OTLP HTTP trace exporter. The SDK reads
// OTEL_EXPORTER_OTLP_ENDPOINT (and scheme/insecure) from the environment.
func newOTLPTraceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create OTLP HTTP trace exporter: %w", err)
	}

	return exp, nil
}

func newStdoutTraceExporter() (sdktrace.SpanExporter, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	return exp, nil
}
