// Package obs wires the scheduler's structured logging and
// OpenTelemetry tracing/metrics, including a Prometheus exposition
// endpoint for the /metrics surface.
package obs

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures the process-wide slog logger: JSON if
// SCHEDULER_JSON_LOG is 1/true/json, text otherwise. Level is read
// from SCHEDULER_LOG_LEVEL (debug/info/warn/error, defaulting to info).
func InitLogging(service string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("SCHEDULER_JSON_LOG"))
	json := mode == "1" || mode == "true" || mode == "json"

	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", json)
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("SCHEDULER_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
