package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrettyHandlerHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("Handle WARN level log with attributes", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		record := slog.NewRecord(time.Now(), slog.LevelWarn, "user store absent", 0)
		record.AddAttrs(slog.String("user_id", "u42"))

		err := handler.Handle(ctx, record)

		require.NoError(t, err)
		output := buf.String()
		assert.Contains(t, output, "WARN:")
		assert.Contains(t, output, "user store absent")
		assert.Contains(t, output, `"user_id":"u42"`)
		assert.Regexp(t, `\[\d{2}:\d{2}:\d{2}\.\d{3}\]`, output)
	})

	t.Run("Handle log with no attributes prints an empty object", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		record := slog.NewRecord(time.Now(), slog.LevelInfo, "simple message", 0)
		require.NoError(t, handler.Handle(ctx, record))

		assert.Contains(t, buf.String(), "{}")
	})

	t.Run("Handle renders error values as strings", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		record := slog.NewRecord(time.Now(), slog.LevelError, "query failed", 0)
		record.AddAttrs(slog.Any("err", errors.New("disk full")))
		require.NoError(t, handler.Handle(ctx, record))

		assert.Contains(t, buf.String(), `"err":"disk full"`)
	})

	t.Run("WithAttrs carries attributes into every record", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewPrettyHandler(&buf, PrettyHandlerOptions{})).With("component", "retrieve")

		logger.Info("hello")

		assert.Contains(t, buf.String(), `"component":"retrieve"`)
	})
}

func TestNew(t *testing.T) {
	t.Run("JSON format writes JSON records", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, "json", "info")
		logger.Info("started", "addr", ":8000")

		assert.Contains(t, buf.String(), `"msg":"started"`)
		assert.Contains(t, buf.String(), `"addr":":8000"`)
	})

	t.Run("Level filters lower records", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, "pretty", "warn")
		logger.Info("hidden")
		logger.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := slog.Default()
	assert.Same(t, l, OrDiscard(l))
}
