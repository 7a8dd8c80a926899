package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

type LoggingConfig struct {
	Level      LogLevel        `yaml:"level" mapstructure:"level"`
	Format     LogFormat       `yaml:"format" mapstructure:"format"`
	Output     string          `yaml:"output" mapstructure:"output"`
	TimeFormat string          `yaml:"time_format" mapstructure:"time_format"`
	Sampling   *SamplingConfig `yaml:"sampling" mapstructure:"sampling"`
}

type SamplingConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	Thereafter int  `yaml:"thereafter" mapstructure:"thereafter"`
}

type Logger struct {
	logger zerolog.Logger
	config LoggingConfig
}

func NewLogger(config LoggingConfig) (*Logger, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	zerolog.SetGlobalLevel(parseLogLevel(config.Level))

	var output io.Writer
	switch config.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		output = file
	}

	return NewLoggerWithWriter(config, output), nil
}

// NewLoggerWithWriter builds a Logger on an explicit writer.
func NewLoggerWithWriter(config LoggingConfig, output io.Writer) *Logger {
	if config.Format == LogFormatConsole {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: getTimeFormat(config.TimeFormat),
		}
	}

	logger := zerolog.New(output).With().
		Timestamp().
		Caller().
		Str("service", ServiceName).
		Logger()

	if config.Sampling != nil && config.Sampling.Enabled && config.Sampling.Thereafter > 0 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(config.Sampling.Thereafter)})
	}

	return &Logger{logger: logger, config: config}
}

// NopLogger discards everything; tests use it.
func NopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.logger.With()

	if traceInfo := ExtractTraceInfo(ctx); traceInfo != nil {
		for key, value := range traceInfo {
			logger = logger.Str(key, value)
		}
	}
	if requestID := middleware.GetReqID(ctx); requestID != "" {
		logger = logger.Str("request_id", requestID)
	}

	contextLogger := logger.Logger()
	return &contextLogger
}

func (l *Logger) WithOperation(operation string) *zerolog.Logger {
	logger := l.logger.With().Str("operation", operation).Logger()
	return &logger
}

func (l *Logger) WithTransaction(transactionID, status string) *zerolog.Logger {
	logger := l.logger.With().
		Str("transaction_id", transactionID).
		Str("status", status).
		Logger()
	return &logger
}

func (l *Logger) WithUpstream(upstream, method, path string) *zerolog.Logger {
	logger := l.logger.With().
		Str("upstream", upstream).
		Str("method", method).
		Str("path", path).
		Logger()
	return &logger
}

func (l *Logger) WithError(err error) *zerolog.Logger {
	logger := l.logger.With().Stack().Err(err).Logger()
	return &logger
}

func (l *Logger) GetZerologLogger() zerolog.Logger {
	return l.logger
}

func parseLogLevel(level LogLevel) zerolog.Level {
	switch level {
	case LogLevelTrace:
		return zerolog.TraceLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func getTimeFormat(format string) string {
	if format == "" {
		return time.RFC3339
	}
	return format
}

// LoggingMiddleware writes one access log line per request.
func (l *Logger) LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			logger := l.WithContext(r.Context())
			event := logger.Info()
			switch {
			case status >= 500:
				event = logger.Error()
			case status >= 400:
				event = logger.Warn()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status_code", status).
				Int("response_size", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request completed")
		})
	}
}

func SetGlobalLogger(logger *Logger) {
	log.Logger = logger.logger
}
