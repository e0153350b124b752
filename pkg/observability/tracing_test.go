package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petrijr/arbor/internal/engine"
	"github.com/petrijr/arbor/internal/testutil"
	"github.com/petrijr/arbor/pkg/api"
	"github.com/petrijr/arbor/pkg/observability"
)

func TestTracingOpensSpanPerNode(t *testing.T) {
	t.Parallel()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var rec testutil.Recorder
	tree := testutil.Must(api.NewNamed("job", testutil.Must(api.NewComposite(false,
		rec.Leaf("a"),
		rec.Fail("b", testutil.ErrBoom),
	))))
	e := engine.New(engine.Config{Interceptors: []api.Interceptor{observability.Tracing(tp)}})

	run, err := e.Run(context.Background(), tree, nil)
	require.ErrorIs(t, err, testutil.ErrBoom)

	spans := sr.Ended()
	require.Len(t, spans, 4)

	byDesc := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range spans {
		for _, kv := range s.Attributes() {
			if string(kv.Key) == observability.ActionDescriptionKey {
				byDesc[kv.Value.AsString()] = s
			}
		}
	}

	root := byDesc["job"]
	require.NotNil(t, root)
	assert.Equal(t, "named", root.Name())
	assert.Equal(t, codes.Error, root.Status().Code)
	assert.Equal(t, codes.Unset, byDesc["a"].Status().Code)
	assert.Equal(t, codes.Error, byDesc["b"].Status().Code)

	// Children share the trace of the root and nest under their parents.
	seq := byDesc["sequence"]
	assert.Equal(t, root.SpanContext().TraceID(), byDesc["a"].SpanContext().TraceID())
	assert.Equal(t, root.SpanContext().SpanID(), seq.Parent().SpanID())
	assert.Equal(t, seq.SpanContext().SpanID(), byDesc["b"].Parent().SpanID())

	var runID string
	for _, kv := range root.Attributes() {
		if string(kv.Key) == observability.RunIDKey {
			runID = kv.Value.AsString()
		}
	}
	assert.Equal(t, run.ID, runID)
}
