package observability

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type loggerKey struct{}

// WithLogger attaches a logger to ctx for FromContext to retrieve.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger attached to ctx (or a disabled logger if
// none was attached), enriched with trace_id/span_id from the active
// OpenTelemetry span, if any.
func FromContext(ctx context.Context) zerolog.Logger {
	l, ok := ctx.Value(loggerKey{}).(zerolog.Logger)
	if !ok {
		l = zerolog.Nop()
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		l = l.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()
	}
	return l
}
