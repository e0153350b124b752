package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/arbor/pkg/api"
)

const tracerName = "github.com/petrijr/arbor"

// Span attribute keys.
const (
	RunIDKey             = "arbor.run.id"
	ActionIDKey          = "arbor.action.id"
	ActionKindKey        = "arbor.action.kind"
	ActionDescriptionKey = "arbor.action.description"
)

// Tracing returns an interceptor that wraps every node in a span named after
// its kind. A nil provider uses the global one.
func Tracing(tp trace.TracerProvider) api.Interceptor {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)

	return func(next api.PerformFunc) api.PerformFunc {
		return func(ctx context.Context, a *api.Action, sc *api.Scope) error {
			attrs := []attribute.KeyValue{
				attribute.Int64(ActionIDKey, int64(a.ID())),
				attribute.String(ActionKindKey, a.Kind().String()),
				attribute.String(ActionDescriptionKey, a.Description()),
			}
			if run := api.RunFromContext(ctx); run != nil {
				attrs = append(attrs, attribute.String(RunIDKey, run.ID))
			}

			ctx, span := tracer.Start(ctx, a.Kind().String(), trace.WithAttributes(attrs...))
			defer span.End()

			err := next(ctx, a, sc)
			if err != nil {
				setError(span, err)
			}
			return err
		}
	}
}

func setError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if api.IsAssertion(err) {
		span.SetAttributes(attribute.Bool("arbor.assertion", true))
	}
}
