package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFromContext_DefaultWhenMissing(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))
}

func TestWith_PropagatesAttributes(t *testing.T) {
	var buf bytes.Buffer

	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithLogger(context.Background(), base)

	ctx, logger := With(ctx, "flip_id", "f-1")
	require.NotNil(t, logger)

	LoggerFromContext(ctx).Info("fetching")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "f-1", entry["flip_id"])
	assert.Equal(t, "fetching", entry["msg"])
}
