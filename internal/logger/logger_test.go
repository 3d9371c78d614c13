package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/troupe/internal/config"
)

func TestNewLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Run("production writes json", func(t *testing.T) {
		var buf bytes.Buffer
		l := newLogger(&buf, &config.Config{Environment: "production", LogLevel: slog.LevelInfo}, "worker")
		ForTurn(l, "req-1", "hall").Info("Turn committed")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "troupe", rec["service"])
		assert.Equal(t, "worker", rec["component"])
		assert.Equal(t, "req-1", rec["request_id"])
		assert.Equal(t, "hall", rec["location_id"])
		assert.Same(t, l.Handler(), slog.Default().Handler())
	})

	t.Run("development writes text and honours level", func(t *testing.T) {
		var buf bytes.Buffer
		l := newLogger(&buf, &config.Config{Environment: "development", LogLevel: slog.LevelWarn}, "api")
		l.Info("hidden")
		WithRequestID(l, "abc").Warn("shown")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "msg=shown")
		assert.Contains(t, out, "component=api")
		assert.Contains(t, out, "request_id=abc")
	})
}
