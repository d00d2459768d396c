package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"pulsarpub/internal/pub/tracing"
)

func newRecordingTracer(t *testing.T) (*tracing.Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return tracing.NewTracerFromProvider(tp, "test"), sr
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestEnd_Success(t *testing.T) {
	tracer, sr := newRecordingTracer(t)

	seq := uint64(9)
	ctx, span := tracer.StartSpan(context.Background(), "producer.send")
	span.SetAttributes(tracer.MessageAttributes("k", 5, &seq)...)
	tracer.End(ctx, nil)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "producer.send", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	got := attrs(spans[0])
	assert.Equal(t, int64(5), got["messaging.message.body.size"].AsInt64())
	assert.Equal(t, "k", got["messaging.pulsar.partition_key"].AsString())
	assert.Equal(t, int64(9), got["messaging.pulsar.sequence_id"].AsInt64())
	assert.False(t, got["error"].AsBool())
}

func TestEnd_Error(t *testing.T) {
	tracer, sr := newRecordingTracer(t)

	ctx, _ := tracer.StartSpan(context.Background(), "producer.wait")
	tracer.End(ctx, errors.New("boom"))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)

	got := attrs(spans[0])
	assert.True(t, got["error"].AsBool())
	assert.Equal(t, "*errors.errorString", got["error.type"].AsString())
}

func TestMessageAttributes_OmitsUnset(t *testing.T) {
	tracer := tracing.NewNoopTracer()

	got := tracer.MessageAttributes("", 3, nil)
	assert.Equal(t, []attribute.KeyValue{attribute.Int("messaging.message.body.size", 3)}, got)
}

func TestNewTracer_Disabled(t *testing.T) {
	tracer, cleanup, err := tracing.NewTracer(tracing.Config{})
	require.NoError(t, err)
	require.NoError(t, cleanup(context.Background()))

	ctx, span := tracer.StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	tracer.End(ctx, nil)
}
