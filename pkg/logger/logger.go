package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes zerolog's global logger instance. Output is console
// or JSON depending on LOG_FORMAT; the level comes from LOG_LEVEL.
func InitLogger(logFormat, logLevelStr string) {
	var level zerolog.Level
	switch logLevelStr {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	if logFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	log.Info().Str("logFormat", logFormat).Str("logLevel", level.String()).Msg("Logger initialized")
}

// AttachSink tees the global logger into an additional level writer, keeping
// the console output configured by InitLogger.
func AttachSink(sink zerolog.LevelWriter, logFormat string) {
	var console io.Writer = os.Stderr
	if logFormat != "json" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log.Logger = log.Logger.Output(zerolog.MultiLevelWriter(console, sink))
}

// WithCorrelation returns a child logger tagged with the given correlation ID
// and component name. All pipeline stages log through one of these so a
// single event can be traced end to end.
func WithCorrelation(correlationID, component string) zerolog.Logger {
	return log.With().
		Str("correlationId", correlationID).
		Str("component", component).
		Logger()
}
