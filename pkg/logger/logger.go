package logger

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/imc400/tuka-backend/pkg/env"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Env         string
	Level       zerolog.Level
	WarnStack   bool
	Output      io.Writer
}

type Logger struct {
	base      *zerolog.Logger
	warnStack bool
}

type (
	ctxKey       struct{}
	requestIDKey struct{}
)

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}

	var output io.Writer = opts.Output
	if output == nil {
		output = os.Stdout
	}
	if env.Get("LOG_FORMAT", "json") == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
			NoColor:    env.Bool("LOG_NO_COLOR", false),
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	builder := zerolog.New(output).With().Timestamp().Str("service", opts.ServiceName)
	if opts.Env != "" {
		builder = builder.Str("env", opts.Env)
	}
	logger := builder.Logger().Level(opts.Level)

	return &Logger{
		base:      &logger,
		warnStack: opts.WarnStack,
	}
}

// ParseLevel maps LOG_LEVEL style strings to zerolog levels, falling back to
// info for blanks and typos.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return entry
		}
	}
	return l.base
}

func (l *Logger) attach(ctx context.Context, entry zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, &entry)
}

// WithField binds key to every later entry logged through ctx. Sensitive keys
// are redacted.
func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	entry := l.from(ctx)
	return l.attach(ctx, entry.With().Interface(key, Redact(key, value)).Logger())
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	entry := l.from(ctx)
	builder := entry.With()
	for k, v := range fields {
		builder = builder.Interface(k, Redact(k, v))
	}
	return l.attach(ctx, builder.Logger())
}

var sensitiveKeys = []string{"token", "secret", "password", "authorization", "email", "phone", "card", "nonce", "cvv", "cvc"}

// Redact masks values whose key names credentials or buyer contact data.
// Empty values pass through so missing data stays visible.
func Redact(key string, value any) any {
	if value == nil {
		return nil
	}
	if s, ok := value.(string); ok && s == "" {
		return s
	}
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

// WithRequestID tags later entries with the request id and keeps the raw
// value retrievable through RequestIDFrom.
func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey{}, requestID)
	return l.WithField(ctx, "request_id", requestID)
}

// RequestIDFrom returns the id stored by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (l *Logger) WithStoreKey(ctx context.Context, storeKey string) context.Context {
	return l.WithField(ctx, "store_key", storeKey)
}

func (l *Logger) WithTransactionID(ctx context.Context, transactionID uint64) context.Context {
	return l.WithField(ctx, "transaction_id", transactionID)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.from(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.from(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	l.emit(l.from(ctx).Warn(), nil, l.warnStack, msg)
}

// Error always carries a stack. Errors exposing a domain code are tagged with
// error_code so alerts can group by it.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.emit(l.from(ctx).Error(), err, true, msg)
}

type coded interface {
	error
	CodeString() string
}

func (l *Logger) emit(event *zerolog.Event, err error, withStack bool, msg string) {
	if err != nil {
		event = event.Err(err)
		var c coded
		if errors.As(err, &c) {
			event = event.Str("error_code", c.CodeString())
		}
	}
	if withStack {
		event = event.Str("stack", strings.TrimSpace(string(debug.Stack())))
	}
	event.Msg(msg)
}
