package infrastructure

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"restobot/internal/config"
	"restobot/internal/logger"
)

// logExporter writes finished spans to the service log at debug level.
type logExporter struct {
	log logger.Logger
}

func (e *logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		fields := map[string]interface{}{
			"trace_id":    s.SpanContext().TraceID().String(),
			"span":        s.Name(),
			"duration_ms": s.EndTime().Sub(s.StartTime()).Milliseconds(),
			"status":      s.Status().Code.String(),
		}
		for _, attr := range s.Attributes() {
			fields[string(attr.Key)] = attr.Value.Emit()
		}
		e.log.Debug("span", fields)
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }

// NewTracerProvider installs the global tracer provider. With tracing
// disabled it installs a no-op provider and returns a no-op shutdown.
func NewTracerProvider(cfg config.TracingConfig, serviceName string, log logger.Logger) (trace.TracerProvider, func(context.Context) error) {
	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(&logExporter{log: log.With(map[string]interface{}{"service": serviceName})}),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown
}
