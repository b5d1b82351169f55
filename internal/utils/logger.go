package utils

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLoggerKey holds the per-request logger in the gin context
const requestLoggerKey = "tryout-runtime.logger"

// Logger is the logging surface shared by the HTTP layer and the entrypoint
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)

	With(args ...any) Logger
	// ForView tags every line with the view and the attempt session it
	// renders. Empty IDs are left out.
	ForView(viewID, sessionID string) Logger

	LogRequest(method, path string, statusCode int, latency time.Duration, args ...any)
	LogError(err error, msg string, args ...any)
}

// SlogLogger implements Logger on top of slog
type SlogLogger struct {
	logger *slog.Logger
}

func NewSlogLogger(logger *slog.Logger) Logger {
	return &SlogLogger{logger: logger}
}

// NewLoggerForEnvironment writes JSON at info level in production and
// debug-level text everywhere else.
func NewLoggerForEnvironment(environment string) Logger {
	if environment == "production" {
		return NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})))
	}
	return NewSlogLogger(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

func (l *SlogLogger) ForView(viewID, sessionID string) Logger {
	var args []any
	if viewID != "" {
		args = append(args, "view_id", viewID)
	}
	if sessionID != "" {
		args = append(args, "session_id", sessionID)
	}
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}

// LogRequest writes the access line; 4xx is a warning and 5xx an error.
func (l *SlogLogger) LogRequest(method, path string, statusCode int, latency time.Duration, args ...any) {
	level := slog.LevelInfo
	if statusCode >= 400 {
		level = slog.LevelWarn
	}
	if statusCode >= 500 {
		level = slog.LevelError
	}

	allArgs := append([]any{
		"method", method,
		"path", path,
		"status_code", statusCode,
		"latency_ms", latency.Milliseconds(),
	}, args...)
	l.logger.Log(context.Background(), level, "HTTP Request", allArgs...)
}

func (l *SlogLogger) LogError(err error, msg string, args ...any) {
	l.logger.Error(msg, append([]any{"error", err}, args...)...)
}

// GetSlogLogger returns the underlying slog.Logger
func (l *SlogLogger) GetSlogLogger() *slog.Logger {
	return l.logger
}

// LoggerMiddleware binds a request logger to the gin context and writes one
// access line per request. Handlers that resolve a view retag it through
// BindView, so the access line carries the view and session IDs.
func LoggerMiddleware(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := logger
		if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
			requestLogger = logger.With("request_id", requestID)
		}
		c.Set(requestLoggerKey, requestLogger)

		c.Next()

		RequestLogger(c, logger).LogRequest(
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		)
	}
}

// RequestLogger returns the logger bound by LoggerMiddleware, or fallback
// when the middleware is not installed.
func RequestLogger(c *gin.Context, fallback Logger) Logger {
	if value, ok := c.Get(requestLoggerKey); ok {
		if logger, ok := value.(Logger); ok {
			return logger
		}
	}
	return fallback
}

// BindView retags the request logger once the view behind the request is known.
func BindView(c *gin.Context, fallback Logger, viewID, sessionID string) {
	c.Set(requestLoggerKey, RequestLogger(c, fallback).ForView(viewID, sessionID))
}

// ToSlogLogger unwraps the slog.Logger for packages that take one directly
func ToSlogLogger(logger Logger) *slog.Logger {
	if slogLogger, ok := logger.(*SlogLogger); ok {
		return slogLogger.GetSlogLogger()
	}
	return slog.Default()
}
