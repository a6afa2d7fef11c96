package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is disabled until Init is called, so packages can log freely in tests.
var Logger zerolog.Logger

// Init configures the global logger. level is one of debug, info, warn,
// error or disabled; anything else means info.
func Init(serviceName, level string) {
	InitWriter(serviceName, level, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// InitWriter is Init with an explicit output, used for JSON logs.
func InitWriter(serviceName, level string, w io.Writer) {
	zerolog.SetGlobalLevel(parseLevel(level))
	Logger = log.Output(w).
		With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func WithJobID(jobID string) *zerolog.Logger {
	l := Logger.With().Str("job_id", jobID).Logger()
	return &l
}

func WithCorrelationID(correlationID string) *zerolog.Logger {
	l := Logger.With().Str("correlation_id", correlationID).Logger()
	return &l
}
