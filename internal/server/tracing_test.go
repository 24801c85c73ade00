package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/JakeFAU/rule-aggregator/internal/telemetry"
)

func TestRunOnceEmitsSpanTree(t *testing.T) {
	prevPropagator := otel.GetTextMapPropagator()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	telemetry.Install(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(prevPropagator)
	})

	var (
		mu          sync.Mutex
		traceparent string
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		traceparent = r.Header.Get("traceparent")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"name":"Rick","kind":"human"}]}`))
	}))
	t.Cleanup(upstream.Close)

	app, err := Build(context.Background(), testConfig(t, upstream.URL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	_, _, err = app.RunOnce(context.Background())
	require.NoError(t, err)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range rec.Ended() {
		byName[s.Name()] = s
	}
	run, ok := byName["aggregation.run"]
	require.True(t, ok, "run span missing")
	rule, ok := byName["aggregation.rule"]
	require.True(t, ok, "rule span missing")
	get, ok := byName["upstream.get"]
	require.True(t, ok, "upstream span missing")

	assert.Equal(t, run.SpanContext().SpanID(), rule.Parent().SpanID())
	assert.Equal(t, rule.SpanContext().SpanID(), get.Parent().SpanID())
	assert.Equal(t, run.SpanContext().TraceID(), get.SpanContext().TraceID())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, traceparent, get.SpanContext().TraceID().String())
}

func TestBuildWithTracingEnabled(t *testing.T) {
	prevPropagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(prevPropagator)
	})

	upstream := newUpstream(t)
	cfg := testConfig(t, upstream.URL)
	cfg.Tracing.Enabled = true
	cfg.Tracing.SampleRatio = 1

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, app.tracer)
	assert.Same(t, app.tracer, otel.GetTracerProvider())

	require.NoError(t, app.Close())
	// A shut down provider hands out non-recording spans.
	_, span := app.tracer.Tracer("after-close").Start(context.Background(), "late")
	assert.False(t, span.IsRecording())
}
