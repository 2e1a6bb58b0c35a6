package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithSession returns a logger with session context fields attached.
// Use this for everything a data context does on behalf of a client.
func WithSession(sessionID, connID string) *slog.Logger {
	return slog.With(
		"session_id", sessionID,
		"conn_id", connID,
	)
}

// WithRef returns a logger scoped to a single object reference.
func WithRef(logger *slog.Logger, refKey string) *slog.Logger {
	return logger.With("ref", refKey)
}
