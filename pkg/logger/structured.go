package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var zlog = zerolog.New(os.Stdout).With().Timestamp().Logger()

// InitStructured initializes the structured zerolog logger
func InitStructured(env string) {
	InitWithWriter(env, nil)
}

// InitWithWriter is InitStructured with an explicit sink (tests pass a buffer)
func InitWithWriter(env string, out io.Writer) {
	var w io.Writer = out
	if w == nil {
		if env == "development" || env == "dev" || env == "local" {
			// Pretty console output for development
			w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		} else {
			// JSON output for production (machine-readable)
			w = os.Stdout
		}
	}

	zlog = zerolog.New(w).With().
		Timestamp().
		Str("service", "angple-chat").
		Logger()

	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// GetLogger returns the global zerolog logger
func GetLogger() *zerolog.Logger {
	return &zlog
}

// WithRequestID returns a logger with request_id field
func WithRequestID(requestID string) zerolog.Logger {
	return zlog.With().Str("request_id", requestID).Logger()
}

// WithScope returns a logger with scope_id field
func WithScope(scopeID string) zerolog.Logger {
	return zlog.With().Str("scope_id", scopeID).Logger()
}
