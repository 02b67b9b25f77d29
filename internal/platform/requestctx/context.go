// Package requestctx carries request scoped values shared by middleware and handlers.
package requestctx

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceKey
	annotationsKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace context of the inbound request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Resource formats the trace for the logging.googleapis.com/trace field.
func (t TraceInfo) Resource() string {
	if t.ProjectID == "" || t.TraceID == "" {
		return ""
	}
	return "projects/" + t.ProjectID + "/traces/" + t.TraceID
}

// WithLogger stores logger on ctx. A nil logger stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request logger, or the no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// HasLogger reports whether a real logger was stored on ctx.
func HasLogger(ctx context.Context) bool {
	return Logger(ctx) != noopLogger
}

// WithTrace stores the trace context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey, info)
}

// Trace returns the stored trace context.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID returns the stored trace id or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// Annotations collects values that handlers learn after routing, such as the
// composition session or the saved outfit id. The request logger emits them
// with the completion entry.
type Annotations struct {
	mu     sync.Mutex
	values map[string]string
}

// WithAnnotations attaches an empty annotation set to ctx.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	if ctx == nil {
		ctx = context.Background()
	}
	a := &Annotations{values: make(map[string]string)}
	return context.WithValue(ctx, annotationsKey, a), a
}

// Annotate records key=value on the request. Without an annotation set it does nothing.
// Empty values are ignored; later values replace earlier ones.
func Annotate(ctx context.Context, key, value string) {
	if ctx == nil || key == "" || value == "" {
		return
	}
	a, ok := ctx.Value(annotationsKey).(*Annotations)
	if !ok || a == nil {
		return
	}
	a.mu.Lock()
	a.values[key] = value
	a.mu.Unlock()
}

// Fields renders the annotations as zap fields sorted by key.
func (a *Annotations) Fields() []zap.Field {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(a.values))
	for key := range a.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, len(keys))
	for i, key := range keys {
		fields[i] = zap.String(key, a.values[key])
	}
	return fields
}
