package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logger logs one line per request through logger.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return middleware.RequestLogger(&StructuredLogger{logger: logger})
}

// StructuredLogger implements middleware.LogFormatter on zerolog.
type StructuredLogger struct {
	logger zerolog.Logger
}

func (l *StructuredLogger) NewLogEntry(r *http.Request) middleware.LogEntry {
	entry := l.logger.With().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Logger()
	if org := r.Header.Get(HeaderOrganizationID); org != "" {
		entry = entry.With().Str("organization_id", org).Logger()
	}
	return &StructuredLoggerEntry{logger: entry}
}

type StructuredLoggerEntry struct {
	logger zerolog.Logger
}

func (e *StructuredLoggerEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	event := e.logger.Info()
	switch {
	case status >= 500:
		event = e.logger.Error()
	case status >= 400:
		event = e.logger.Warn()
	}
	event.
		Int("status", status).
		Int("bytes", bytes).
		Dur("elapsed", elapsed).
		Msg("Request completed")
}

func (e *StructuredLoggerEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error().
		Interface("panic", v).
		Bytes("stack", stack).
		Msg("Request panicked")
}
