package observe

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// instrumentedWriter captures the status code written by the wrapped handler.
// A handler that never calls WriteHeader implicitly writes 200.
type instrumentedWriter struct {
	http.ResponseWriter
	status int
}

func (w *instrumentedWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the operational HTTP endpoint. Every request gets a
// server span continuing any incoming W3C Trace Context, an X-Correlation-ID
// response header carrying the trace ID, a duration sample in
// [Metrics.HTTPRequestDuration], and a completion log line.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	propagator := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			begin := time.Now()

			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			iw := &instrumentedWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(iw, r.WithContext(ctx))

			elapsed := time.Since(begin)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", r.URL.Path),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(iw.status))

			Logger(ctx).Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", iw.status,
				"duration", elapsed,
			)
		})
	}
}
