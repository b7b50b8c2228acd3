package log

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"
)

// StructuredLogger emits one JSON object per line. It implements the same
// Logger interface as BasicLogger and is the recommended choice for services.
type StructuredLogger struct {
	level  Level
	writer io.Writer
	fields map[string]interface{}
}

type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

type traceIDKey struct{}

// ContextWithTraceID attaches a trace identifier that StructuredLogger will
// include in every entry logged WithContext.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// NewStructuredLogger creates a JSON logger at the given level, writing to
// stdout.
func NewStructuredLogger(level Level) Logger {
	return NewStructuredLoggerWithWriter(level, os.Stdout)
}

// NewStructuredLoggerWithWriter creates a JSON logger with a custom writer.
func NewStructuredLoggerWithWriter(level Level, writer io.Writer) Logger {
	return &StructuredLogger{
		level:  level,
		writer: writer,
		fields: make(map[string]interface{}),
	}
}

func (l *StructuredLogger) clone() *StructuredLogger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	return &StructuredLogger{
		level:  l.level,
		writer: l.writer,
		fields: fields,
	}
}

// WithField returns a logger that includes the field in every entry.
func (l *StructuredLogger) WithField(key string, value interface{}) Logger {
	next := l.clone()
	next.fields[key] = value
	return next
}

// WithFields returns a logger that includes all fields in every entry.
func (l *StructuredLogger) WithFields(fields map[string]interface{}) Logger {
	next := l.clone()
	for k, v := range fields {
		next.fields[k] = v
	}
	return next
}

// WithError returns a logger carrying the error as a field.
func (l *StructuredLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// WithContext extracts the trace identifier, when present, into the entry.
func (l *StructuredLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok && traceID != "" {
		return l.WithField("trace_id", traceID)
	}
	return l
}

// Debug logs a debug entry.
func (l *StructuredLogger) Debug(message string) {
	l.log(DebugLevel, message, nil)
}

// Info logs an info entry.
func (l *StructuredLogger) Info(message string) {
	l.log(InfoLevel, message, nil)
}

// Warn logs a warning entry.
func (l *StructuredLogger) Warn(message string) {
	l.log(WarnLevel, message, nil)
}

// Error logs an error entry.
func (l *StructuredLogger) Error(message string, err error) {
	l.log(ErrorLevel, message, err)
}

// Fatal logs a fatal entry and exits.
func (l *StructuredLogger) Fatal(message string, err error) {
	l.log(FatalLevel, message, err)
	os.Exit(1)
}

func (l *StructuredLogger) log(level Level, message string, err error) {
	if level < l.level {
		return
	}

	entry := logEntry{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   message,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if len(l.fields) > 0 {
		fields := make(map[string]interface{}, len(l.fields))
		for k, v := range l.fields {
			if k == "trace_id" {
				if s, ok := v.(string); ok {
					entry.TraceID = s
					continue
				}
			}
			fields[k] = v
		}
		if len(fields) > 0 {
			entry.Fields = fields
		}
	}

	data, jsonErr := json.Marshal(entry)
	if jsonErr != nil {
		return
	}
	data = append(data, '\n')
	_, _ = l.writer.Write(data)
}
