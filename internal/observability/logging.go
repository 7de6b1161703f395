package observability

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a structured JSON logger tagged with component.
// Level comes from METLEV_LOG_LEVEL (default info); METLEV_LOG_PRETTY=true
// switches to the human-readable console writer.
func NewLogger(component string) zerolog.Logger {
	level := parseLogLevel(os.Getenv("METLEV_LOG_LEVEL"))
	pretty, _ := strconv.ParseBool(os.Getenv("METLEV_LOG_PRETTY"))
	return newLogger(output(pretty), component, level)
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return newLogger(os.Stdout, component, level)
}

func newLogger(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func output(pretty bool) io.Writer {
	if pretty {
		return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return os.Stdout
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	// timestamps in RFC3339 with sub-second precision
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
