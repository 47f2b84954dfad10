package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func endedSpan(t *testing.T, record func(ctx context.Context, tp *sdktrace.TracerProvider)) sdktrace.ReadOnlySpan {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	record(context.Background(), tp)
	spans := rec.Ended()
	require.Len(t, spans, 1)
	return spans[0]
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestRecordHTTPError(t *testing.T) {
	span := endedSpan(t, func(ctx context.Context, tp *sdktrace.TracerProvider) {
		_, s := tp.Tracer("test").Start(ctx, "download")
		RecordHTTPError(s, errors.New("bucket não encontrado"), 404)
		s.End()
	})

	assert.Equal(t, codes.Error, span.Status().Code)
	a := attrs(span)
	assert.Equal(t, "http", a["error.type"].AsString())
	assert.Equal(t, "client_error", a["error.category"].AsString())
	assert.EqualValues(t, 404, a["http.status_code"].AsInt64())
	require.Len(t, span.Events(), 1)
}

func TestRecordPublishFailure(t *testing.T) {
	span := endedSpan(t, func(ctx context.Context, tp *sdktrace.TracerProvider) {
		_, s := tp.Tracer("test").Start(ctx, "publish")
		RecordPublishFailure(s, errors.New("channel closed"), "run-1", 3, true)
		s.End()
	})

	a := attrs(span)
	assert.Equal(t, "messaging", a["error.type"].AsString())
	assert.Equal(t, "run-1", a["stage_ai.run_id"].AsString())
	assert.EqualValues(t, 3, a["messaging.attempt"].AsInt64())
	assert.True(t, a["messaging.exhausted"].AsBool())
}

func TestRecordErrorIgnoresNil(t *testing.T) {
	span := endedSpan(t, func(ctx context.Context, tp *sdktrace.TracerProvider) {
		_, s := tp.Tracer("test").Start(ctx, "noop")
		RecordError(s, nil, ErrorTypeInternal)
		s.End()
	})
	assert.Equal(t, codes.Unset, span.Status().Code)
	assert.Empty(t, span.Events())
}

func TestHTTPErrorCategory(t *testing.T) {
	assert.Equal(t, "client_error", httpErrorCategory(429))
	assert.Equal(t, "server_error", httpErrorCategory(502))
	assert.Equal(t, "unknown", httpErrorCategory(302))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "curto", TruncateString("curto", 10))
	assert.Equal(t, "abc", TruncateString("abcdef", 3))

	out := TruncateString(strings.Repeat("á", 50)+"fim", 13)
	assert.Equal(t, "ááááá...ááfim", out)
	assert.Len(t, []rune(out), 13)
}

func TestSafeCandidateText(t *testing.T) {
	out := SafeCandidateText("Maria   Silva\n maria.silva@example.com\tvendas")
	assert.Equal(t, "Maria Silva m**********@example.com vendas", out)

	long := SafeCandidateText(strings.Repeat("palavra ", 100))
	assert.LessOrEqual(t, len([]rune(long)), MaxCandidateTextLength)
	assert.Contains(t, long, "...")
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a****@x.com", MaskEmail("alice@x.com"))
	assert.Equal(t, "****", MaskEmail("@x.c"))
}
