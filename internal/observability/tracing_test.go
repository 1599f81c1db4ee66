package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestApplyTracingEnvOverrides(t *testing.T) {
	t.Setenv("MESHD_TRACING_ENABLED", "TRUE")
	t.Setenv("MESHD_TRACING_EXPORTER", "OTLP")
	t.Setenv("MESHD_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("MESHD_TRACING_SAMPLE_RATIO", "0.25")

	cfg := ApplyTracingEnv(DefaultTracingConfig())
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" || cfg.SampleRatio != 0.25 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ServiceName != "meshd" {
		t.Fatalf("ServiceName = %q, want default meshd", cfg.ServiceName)
	}
}

func TestApplyTracingEnvIgnoresBadRatio(t *testing.T) {
	t.Setenv("MESHD_TRACING_SAMPLE_RATIO", "1.5")
	cfg := ApplyTracingEnv(TracingConfig{SampleRatio: 0.5})
	if cfg.SampleRatio != 0.5 {
		t.Fatalf("SampleRatio = %v, want unchanged 0.5", cfg.SampleRatio)
	}
}

func TestInitTracingDisabledInstallsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	defer ShutdownWithTimeout(context.Background(), shutdown, nil)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Fatalf("noop provider produced a recording span")
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestStartSpanReturnsUsableContext(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "graph.regenerate", DeviceAttr("tcp:radio"))
	defer span.End()
	if ctx == nil || span == nil {
		t.Fatalf("StartSpan returned nil context or span")
	}
	if got := trace.SpanFromContext(ctx).SpanContext(); !got.Equal(span.SpanContext()) {
		t.Fatalf("context span = %v, want %v", got, span.SpanContext())
	}
}
