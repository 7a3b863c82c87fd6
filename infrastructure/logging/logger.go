// Package logging provides structured logging with trace ID support and
// credential redaction for the supervisor's event-derived log stream.
package logging

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nestwatch/sentryd/infrastructure/redaction"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// TraceIDKey is the context key for the trace/run ID.
	TraceIDKey ContextKey = "trace_id"
)

// Logger wraps logrus.Logger with the supervisor's field conventions and a
// redactor applied to every field before it reaches stdout.
type Logger struct {
	*logrus.Logger
	service   string
	redactor  *redaction.Redactor
}

// New creates a new Logger instance.
func New(service, level, format string, redactor *redaction.Redactor) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&uppercaseLevelFormatter{inner: &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}})
	}

	logger.SetOutput(os.Stdout)

	if redactor == nil {
		redactor = redaction.New(redaction.DefaultTerms())
	}

	return &Logger{Logger: logger, service: service, redactor: redactor}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment
// variables. Defaults to "info" and "json" when unset.
func NewFromEnv(service string, redactor *redaction.Redactor) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format, redactor)
}

// WithContext creates a new logger entry carrying the trace ID, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := GetTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	return entry
}

// WithFields creates a new logger entry with custom fields, redacted.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(l.redactFields(fields))
}

// WithError creates a new logger entry with an error field.
func (l *Logger) WithError(err error) *logrus.Entry {
	if err == nil {
		return l.Logger.WithField("service", l.service)
	}
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"error":   err.Error(),
	})
}

func (l *Logger) redactFields(fields map[string]interface{}) logrus.Fields {
	out := logrus.Fields{"service": l.service}
	redactor := l.redactor
	if redactor == nil {
		redactor = redaction.New(redaction.DefaultTerms())
	}
	for k, v := range fields {
		if redactor.IsSensitiveField(k) {
			out[k] = redaction.RedactedValue
			continue
		}
		if m, ok := v.(map[string]interface{}); ok {
			out[k] = redactor.RedactMap(m)
			continue
		}
		out[k] = v
	}
	return out
}

// SetOutput sets the logger output (used by tests to capture log lines).
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// uppercaseLevelFormatter rewrites the level field to its uppercase form
// (INFO, WARNING, ERROR) as the external log-sink contract expects. The
// replaced token is unambiguous: encoding/json emits map keys sorted, so
// the serialized level field is exactly `"level":"<name>"`.
type uppercaseLevelFormatter struct {
	inner *logrus.JSONFormatter
}

func (f *uppercaseLevelFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	line, err := f.inner.Format(entry)
	if err != nil {
		return nil, err
	}
	name := entry.Level.String()
	return bytes.Replace(line,
		[]byte(`"level":"`+name+`"`),
		[]byte(`"level":"`+strings.ToUpper(name)+`"`), 1), nil
}

// NewTraceID generates a new trace/run ID.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from context.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// LogRequest logs an HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("http request")
}
