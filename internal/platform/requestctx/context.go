// Package requestctx carries the request-scoped values the platform middlewares share: the
// contextual logger and the trace the request belongs to.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

// key is typed by the value it stores, so two keys can never alias each other.
type key[T any] struct{ name string }

func (k key[T]) store(ctx context.Context, value T) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, k, value)
}

func (k key[T]) load(ctx context.Context) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	value, ok := ctx.Value(k).(T)
	return value, ok
}

var (
	loggerKey = key[*zap.Logger]{name: "logger"}
	traceKey  = key[Trace]{name: "trace"}

	nop = zap.NewNop()
)

// Trace identifies the distributed trace a request belongs to.
type Trace struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Resource is the Cloud Logging trace name, or "" when the project is unknown.
func (t Trace) Resource() string {
	if t.ProjectID == "" || t.TraceID == "" {
		return ""
	}
	return "projects/" + t.ProjectID + "/traces/" + t.TraceID
}

// WithLogger stores the logger for downstream handlers. A nil logger stores a no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return loggerKey.store(ctx, logger)
}

// Logger returns the request logger, or a no-op logger when none was stored.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := loggerKey.load(ctx); ok && logger != nil {
		return logger
	}
	return nop
}

// HasLogger reports whether a logger was stored on ctx.
func HasLogger(ctx context.Context) bool {
	logger, ok := loggerKey.load(ctx)
	return ok && logger != nil && logger != nop
}

// WithTrace stores the trace for downstream handlers.
func WithTrace(ctx context.Context, t Trace) context.Context {
	return traceKey.store(ctx, t)
}

// TraceFrom returns the stored trace.
func TraceFrom(ctx context.Context) (Trace, bool) {
	return traceKey.load(ctx)
}

// TraceID returns the stored trace id or "".
func TraceID(ctx context.Context) string {
	t, _ := traceKey.load(ctx)
	return t.TraceID
}
