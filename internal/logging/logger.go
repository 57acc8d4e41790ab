// Package logging provides the request-scoped structured logger used across
// the proxy. It keeps the teacher's ContextLogger shape (level filtering,
// WithField/WithModel/WithComponent chaining, request-ID-aware formatting)
// but backs the actual sink with logrus instead of the standard log package,
// so every line comes out as a single JSON object fields can be grepped on.
package logging

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ccproxy/ccproxy/internal/reqctx"
)

// Level mirrors logrus' severity ordering so callers don't need to import
// logrus directly just to pick a minimum level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) logrus() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is the interface every component in the proxy depends on. Never
// reach for logrus directly outside this package - route through here so
// request ID / component / model fields stay consistent.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithComponent(component string) Logger
	WithModel(model string) Logger
}

type contextKey string

const loggerContextKey contextKey = "logging.logger"

type entryLogger struct {
	ctx   context.Context
	entry *logrus.Entry
}

// New builds a root logger backed by the given logrus instance, pre-tagged
// with whatever request ID is present in ctx.
func New(ctx context.Context, base *logrus.Logger) Logger {
	entry := base.WithField("request_id", reqctx.RequestID(ctx))
	return &entryLogger{ctx: ctx, entry: entry}
}

// FromContext returns the logger stashed in ctx by WithContext, or a bare
// entry off the standard logger if none was stashed - callers should never
// nil-check the result.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerContextKey).(Logger); ok {
		return l
	}
	return New(ctx, logrus.StandardLogger())
}

// WithContext returns a copy of ctx carrying l, retrievable via FromContext.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, l)
}

func (l *entryLogger) WithField(key string, value interface{}) Logger {
	return &entryLogger{ctx: l.ctx, entry: l.entry.WithField(key, value)}
}

func (l *entryLogger) WithComponent(component string) Logger {
	return &entryLogger{ctx: l.ctx, entry: l.entry.WithField("component", component)}
}

func (l *entryLogger) WithModel(model string) Logger {
	return &entryLogger{ctx: l.ctx, entry: l.entry.WithField("model", model)}
}

func (l *entryLogger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *entryLogger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *entryLogger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *entryLogger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// NewBase builds the shared *logrus.Logger the whole process logs through,
// configured as JSON so it can be shipped to any log aggregator.
func NewBase(level Level, maskSecrets bool) *logrus.Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	base.SetLevel(level.logrus())
	if maskSecrets {
		base.AddHook(secretMaskHook{})
	}
	return base
}

// secretMaskHook redacts anything that looks like a bearer token or API key
// before it reaches the formatter, so the authorization header is never
// logged even if a caller accidentally interpolates it into a message.
type secretMaskHook struct{}

func (secretMaskHook) Levels() []logrus.Level { return logrus.AllLevels }

func (secretMaskHook) Fire(e *logrus.Entry) error {
	e.Message = maskSecrets(e.Message)
	for k, v := range e.Data {
		if s, ok := v.(string); ok {
			e.Data[k] = maskSecrets(s)
		}
	}
	return nil
}

func maskSecrets(s string) string {
	return redactBearer(redactAPIKeyParam(s))
}
