package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger wraps structured logging with OpenTelemetry integration
// Provides consistent logging interface across application components
// Automatically correlates logs with distributed traces for observability
type Logger struct {
	slogger *slog.Logger // Structured logger implementation
	tracer  trace.Tracer // OpenTelemetry tracer for correlation
}

// LogLevel represents logging severity levels
// Maps to standard syslog levels for consistent interpretation
type LogLevel int

const (
	LogLevelDebug LogLevel = iota // Detailed debugging information
	LogLevelInfo                  // General information messages
	LogLevelWarn                  // Warning conditions
	LogLevelError                 // Error conditions
	LogLevelFatal                 // Critical errors causing termination
)

// NewLogger creates structured logger with OpenTelemetry integration
// Configures JSON output for structured log parsing and correlation
func NewLogger(service string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	})

	logger := slog.New(handler)
	tracer := otel.Tracer(service)

	return &Logger{
		slogger: logger,
		tracer:  tracer,
	}
}

// Debug logs debug-level message with context and trace correlation
func (l *Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs informational message with context and trace correlation
func (l *Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs warning message with context and trace correlation
func (l *Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs error message with context and trace correlation
// Automatically marks associated span as error for tracing
func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
	}

	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
}

// Fatal logs fatal error and terminates application
// Used for unrecoverable errors requiring immediate shutdown
func (l *Logger) Fatal(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
	os.Exit(1)
}

// logWithTrace adds OpenTelemetry trace correlation to log entries
func (l *Logger) logWithTrace(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}

	attrs = append(attrs,
		slog.String("service", "proxy"),
		slog.Time("timestamp", time.Now()),
	)

	l.slogger.LogAttrs(ctx, level, msg, attrs...)
}

// StartSpan creates new OpenTelemetry span with logging context
func (l *Logger) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// WithFields creates logger with pre-configured attributes
// Returns new logger instance to avoid modifying original
func (l *Logger) WithFields(attrs ...slog.Attr) *Logger {
	anyAttrs := make([]any, len(attrs))
	for i, a := range attrs {
		anyAttrs[i] = a
	}
	return &Logger{
		slogger: l.slogger.With(anyAttrs...),
		tracer:  l.tracer,
	}
}

// StartSession opens a span covering one accepted client connection's
// entire lifetime, from accept to close. A session here is a long-lived
// socket serving many sequential requests, so this is one span per
// connection rather than one span per HTTP round trip. The returned close
// func ends the span and logs the requests served and bytes transferred
// over its lifetime.
func (l *Logger) StartSession(ctx context.Context, clientAddr string) (context.Context, func(requestsServed int, bytesServed int64, err error)) {
	start := time.Now()
	ctx, span := l.StartSpan(ctx, "session",
		attribute.String("client.addr", clientAddr),
	)

	l.Info(ctx, "session started", slog.String("client_addr", clientAddr))

	return ctx, func(requestsServed int, bytesServed int64, err error) {
		duration := time.Since(start)
		attrs := []slog.Attr{
			slog.String("client_addr", clientAddr),
			slog.Int("requests_served", requestsServed),
			slog.Int64("bytes_served", bytesServed),
			slog.Duration("duration", duration),
		}
		span.SetAttributes(
			attribute.Int("session.requests_served", requestsServed),
			attribute.Int64("session.bytes_served", bytesServed),
		)
		if err != nil {
			l.Error(ctx, "session ended", err, attrs...)
		} else {
			l.Info(ctx, "session ended", attrs...)
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
