package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTestTracer registers an in-memory tracer provider as the global one
// for the duration of the test and returns its exporter.
func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestStartSpan_RecordsNamedSpan(t *testing.T) {
	exp := installTestTracer(t)

	ctx, span := StartSpan(context.Background(), "schedule-chunk")
	if CorrelationID(ctx) == "" {
		t.Error("span context carries no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "schedule-chunk" {
		t.Errorf("span name = %q, want schedule-chunk", spans[0].Name)
	}
}

func TestCorrelationID(t *testing.T) {
	installTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "correlated")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("trace ID length = %d, want 32 hex chars", len(cid))
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("trace ID %q contains non-hex characters", cid)
	}
}

func TestLogger_AttachesSpanIdentity(t *testing.T) {
	installTestTracer(t)

	var buf strings.Builder
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	ctx, span := StartSpan(context.Background(), "logged")
	defer span.End()

	Logger(ctx).Info("pipeline event")
	out := buf.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing span identity: %s", out)
	}

	buf.Reset()
	Logger(context.Background()).Info("plain event")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log line without a span should carry no trace_id: %s", buf.String())
	}
}
