package logging

import (
	"log/slog"
	"os"
)

// New builds the process-wide JSON logger. Every record carries the
// service name so the two saga participants can share one log stream.
func New(service string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h).With("service", service)
}
