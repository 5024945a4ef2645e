package logging

import (
	"context"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"
)

const scopeName = "sca"

type correlationIDKey struct{}

// WithCorrelationID attaches id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID returns the id attached by [WithCorrelationID], or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// Emitter is the subset of [otellog.Logger] the package needs.
type Emitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// Logger filters records by severity and stamps them with the correlation id.
// A nil *Logger drops everything.
type Logger struct {
	out Emitter
	min otellog.Severity
	now func() time.Time
}

// New returns a Logger backed by provider. A nil provider yields a Logger
// that drops every record.
func New(provider otellog.LoggerProvider, level string) *Logger {
	if provider == nil {
		return nil
	}
	return NewWithEmitter(provider.Logger(scopeName), level)
}

// NewWithEmitter returns a Logger writing to out.
func NewWithEmitter(out Emitter, level string) *Logger {
	if out == nil {
		return nil
	}
	return &Logger{out: out, min: ParseLevel(level), now: time.Now}
}

// ParseLevel maps debug, info, warn and error to OTel severities. Unknown
// values map to info.
func ParseLevel(level string) otellog.Severity {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return otellog.SeverityDebug
	case "warn", "warning":
		return otellog.SeverityWarn
	case "error":
		return otellog.SeverityError
	default:
		return otellog.SeverityInfo
	}
}

// Enabled reports whether records at sev would be emitted.
func (l *Logger) Enabled(sev otellog.Severity) bool {
	return l != nil && sev >= l.min
}

func (l *Logger) Log(ctx context.Context, sev otellog.Severity, msg string, attrs ...otellog.KeyValue) {
	if !l.Enabled(sev) {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rec otellog.Record
	rec.SetTimestamp(l.now().UTC())
	rec.SetSeverity(sev)
	rec.SetSeverityText(sev.String())
	rec.SetBody(otellog.StringValue(msg))
	if id := CorrelationID(ctx); id != "" {
		rec.AddAttributes(otellog.String("correlation_id", id))
	}
	rec.AddAttributes(attrs...)
	l.out.Emit(ctx, rec)
}

func (l *Logger) Debug(ctx context.Context, msg string, attrs ...otellog.KeyValue) {
	l.Log(ctx, otellog.SeverityDebug, msg, attrs...)
}

func (l *Logger) Info(ctx context.Context, msg string, attrs ...otellog.KeyValue) {
	l.Log(ctx, otellog.SeverityInfo, msg, attrs...)
}

func (l *Logger) Warn(ctx context.Context, msg string, attrs ...otellog.KeyValue) {
	l.Log(ctx, otellog.SeverityWarn, msg, attrs...)
}

func (l *Logger) Error(ctx context.Context, msg string, attrs ...otellog.KeyValue) {
	l.Log(ctx, otellog.SeverityError, msg, attrs...)
}
