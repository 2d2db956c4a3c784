package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestWithRequestIDAddsField(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), New(&buf))
	ctx = WithRequestID(ctx, "req-1")

	Info(ctx, "hello", "task_id", "t-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "t-1", line["task_id"])
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, defaultLogger, FromContext(context.Background()))
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	SetLevel("info")
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), New(&buf))

	Debug(ctx, "noise")
	assert.Zero(t, buf.Len())
}
