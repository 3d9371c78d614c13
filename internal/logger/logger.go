package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/jwebster45206/troupe/internal/config"
)

// Setup installs the process-wide logger for one binary. Production
// writes JSON, everything else writes text. Every record carries the
// component name ("api", "worker").
func Setup(cfg *config.Config, component string) *slog.Logger {
	return newLogger(os.Stdout, cfg, component)
}

func newLogger(w io.Writer, cfg *config.Config, component string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	l := slog.New(handler).With("service", "troupe", "component", component)
	slog.SetDefault(l)
	return l
}

// WithRequestID adds request ID to logger context
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

// ForTurn scopes a logger to one turn or retry at a location.
func ForTurn(logger *slog.Logger, requestID, locationID string) *slog.Logger {
	return logger.With("request_id", requestID, "location_id", locationID)
}
