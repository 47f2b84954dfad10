package storage

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrierRoundTrip(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := amqp.Table{"x-event-type": "run.finished"}
	prop := propagation.TraceContext{}
	prop.Inject(ctx, headerCarrier(headers))

	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", headers["traceparent"])
	assert.ElementsMatch(t, []string{"x-event-type", "traceparent"}, headerCarrier(headers).Keys())

	got := trace.SpanContextFromContext(prop.Extract(context.Background(), headerCarrier(headers)))
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}

func TestHeaderCarrierIgnoresNonString(t *testing.T) {
	c := headerCarrier(amqp.Table{"retries": int32(2)})
	assert.Empty(t, c.Get("retries"))
	assert.Empty(t, c.Get("missing"))
}
