package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestTraceHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	logger.InfoContext(context.Background(), "cache miss", "url", "https://cdn.example.com/a.jpg")

	entry := decodeEntry(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.Equal(t, "https://cdn.example.com/a.jpg", entry["url"])
}

func TestTraceHandler_WithSampledSpan(t *testing.T) {
	var buf bytes.Buffer

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "fetch")
	defer span.End()

	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	logger.InfoContext(ctx, "downloading")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestTraceHandler_WithAttrsAndGroupKeepWrapper(t *testing.T) {
	var buf bytes.Buffer

	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	withAttrs := h.WithAttrs([]slog.Attr{slog.String("component", "downloader")})
	assert.IsType(t, &TraceHandler{}, withAttrs)

	grouped := withAttrs.WithGroup("fetch")
	assert.IsType(t, &TraceHandler{}, grouped)

	slog.New(grouped).Info("done", "bytes", 10)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "downloader", entry["component"])
	assert.Contains(t, entry, "fetch")
}

func TestTraceHandler_NilHandlerPanics(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}
