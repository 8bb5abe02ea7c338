package client

import (
	"context"
	"strings"
	"testing"

	"github.com/BerjisTech/kra-connect-go/internal/testutil"
	"github.com/BerjisTech/kra-connect-go/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTracedClient(t *testing.T, mock *testutil.MockKRA) (*Client, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	cfg := DefaultConfig(testutil.TestAPIKey)
	cfg.Transport.BaseURL = mock.URL()

	c, err := New(cfg,
		WithClock(clock.NewManual(testStart)),
		WithLogger(zerolog.Nop()),
		WithTracerProvider(tp),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, recorder
}

// operationSpans drops the HTTP client spans the transport adds.
func operationSpans(recorder *tracetest.SpanRecorder) []sdktrace.ReadOnlySpan {
	var spans []sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if strings.HasPrefix(s.Name(), "kra.") {
			spans = append(spans, s)
		}
	}
	return spans
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestTracing_OperationSpans(t *testing.T) {
	mock := newMock(t)
	c, recorder := newTracedClient(t, mock)
	ctx := context.Background()

	_, err := c.VerifyPIN(ctx, testutil.ValidPIN)
	require.NoError(t, err)
	_, err = c.VerifyPIN(ctx, testutil.ValidPIN)
	require.NoError(t, err)

	var httpSpans int
	for _, s := range recorder.Ended() {
		if s.Parent().IsValid() {
			httpSpans++
		}
	}
	assert.Equal(t, 1, httpSpans, "only the miss reaches the transport")

	spans := operationSpans(recorder)
	require.Len(t, spans, 2)

	miss, hit := spans[0], spans[1]
	assert.Equal(t, "kra.verify_pin", miss.Name())
	assert.Equal(t, trace.SpanKindClient, miss.SpanKind())
	assert.Equal(t, codes.Ok, miss.Status().Code)

	attrs := spanAttrs(miss)
	assert.Equal(t, "verify_pin", attrs["kra.operation"].AsString())
	assert.Equal(t, "/verify-pin", attrs["kra.endpoint"].AsString())
	assert.NotEmpty(t, attrs["kra.request_id"].AsString())
	_, cached := attrs["kra.cache_hit"]
	assert.False(t, cached)

	assert.True(t, spanAttrs(hit)["kra.cache_hit"].AsBool())
}

func TestTracing_FailedOperationRecordsError(t *testing.T) {
	mock := newMock(t)
	mock.SetAPIKey("other-key")
	c, recorder := newTracedClient(t, mock)

	_, err := c.VerifyPIN(context.Background(), testutil.ValidPIN)
	require.Error(t, err)

	spans := operationSpans(recorder)
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}
