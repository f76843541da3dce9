package serv

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// zapExporter writes finished spans to the service log at debug level.
type zapExporter struct {
	log *zap.Logger
}

func (e *zapExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		fields := []zap.Field{
			zap.String("span", s.Name()),
			zap.String("trace-id", s.SpanContext().TraceID().String()),
			zap.String("span-id", s.SpanContext().SpanID().String()),
			zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
			zap.String("status", s.Status().Code.String()),
		}
		if d := s.Status().Description; d != "" {
			fields = append(fields, zap.String("error", d))
		}
		for _, kv := range s.Attributes() {
			fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
		}
		e.log.Debug("span", fields...)
	}
	return nil
}

func (e *zapExporter) Shutdown(ctx context.Context) error {
	e.log.Sync() //nolint:errcheck
	return nil
}

// initTracing installs a global tracer provider that exports to zap. The
// returned function flushes and stops the provider.
func initTracing(log *zap.Logger) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(&zapExporter{log: log}),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// traceHandler wraps h with otelhttp server spans
func traceHandler(h http.Handler, name string) http.Handler {
	return otelhttp.NewHandler(h, name)
}

// traceID returns the trace id of the request span, if any
func traceID(r *http.Request) string {
	sc := trace.SpanContextFromContext(r.Context())
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
