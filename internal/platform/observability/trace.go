package observability

import (
	"context"
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/requestctx"
)

// cloudTraceHeader carries "TRACE_ID/SPAN_ID;o=OPTIONS" where the span id is
// a decimal uint64, as set by Google front ends.
const cloudTraceHeader = "X-Cloud-Trace-Context"

var (
	tracer     = otel.Tracer("github.com/KyawIT/what-to-wear-sub000/internal/platform/observability")
	propagator = propagation.TraceContext{}
)

// TraceMiddleware joins the caller's trace from traceparent, or from the
// Cloud Trace header when traceparent is absent, and starts a server span. The
// span is renamed to the matched chi route once the handler returns.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			if !trace.SpanContextFromContext(ctx).IsValid() {
				if remote, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader)); ok {
					ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
				}
			}

			ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			span.SetAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
				semconv.ServerAddress(r.Host),
				semconv.UserAgentOriginal(r.UserAgent()),
			)

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			}
			if header := formatCloudTraceHeader(sc); header != "" {
				w.Header().Set(cloudTraceHeader, header)
			}

			r = r.WithContext(requestctx.WithTrace(ctx, info))
			next.ServeHTTP(w, r)

			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					span.SetName(r.Method + " " + pattern)
				}
			}
		})
	}
}

// InjectTraceHeaders writes the active span as traceparent so upstream calls
// join the caller's trace.
func InjectTraceHeaders(ctx context.Context, header http.Header) {
	if ctx == nil || header == nil {
		return
	}
	propagator.Inject(ctx, propagation.HeaderCarrier(header))
}

// InjectTraceAttributes writes the traceparent of ctx into message attributes.
func InjectTraceAttributes(ctx context.Context, attrs map[string]string) {
	if ctx == nil || attrs == nil {
		return
	}
	propagator.Inject(ctx, propagation.MapCarrier(attrs))
}

func parseCloudTraceContext(header string) (trace.SpanContext, bool) {
	traceHex, rest, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok || len(traceHex) != 32 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	n, err := strconv.ParseUint(strings.TrimSpace(spanPart), 10, 64)
	if err != nil || n == 0 {
		return trace.SpanContext{}, false
	}
	var spanID trace.SpanID
	binary.BigEndian.PutUint64(spanID[:], n)

	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func formatCloudTraceHeader(sc trace.SpanContext) string {
	if !sc.IsValid() {
		return ""
	}
	spanID := sc.SpanID()
	option := "0"
	if sc.IsSampled() {
		option = "1"
	}
	return sc.TraceID().String() + "/" + strconv.FormatUint(binary.BigEndian.Uint64(spanID[:]), 10) + ";o=" + option
}
