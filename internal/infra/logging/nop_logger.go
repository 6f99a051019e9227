package logging

import (
	"log/slog"
)

// NewNopLogger creates a logger that discards all output.
// Used when the configured output is "discard" and in tests.
func NewNopLogger() Logger {
	return slog.New(slog.DiscardHandler)
}
