package observability

import (
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/httpx"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/requestctx"
)

// AccessLog puts a request scoped child of base on the context and writes one
// "request completed" entry per request. Values added with requestctx.Annotate
// while serving, such as user_id from the auth middleware, are appended to it.
// Place it after TraceMiddleware so the entry links to the trace.
func AccessLog(base *zap.Logger, projectID string) func(http.Handler) http.Handler {
	if base == nil {
		base = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, annotations := requestctx.WithAnnotations(r.Context())

			logger := base.With(requestFields(r, projectID)...)
			r = r.WithContext(requestctx.WithLogger(ctx, logger))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			logger.Debug("request started")

			panicked := true
			defer func() {
				status := ww.Status()
				switch {
				case panicked && status < http.StatusInternalServerError:
					status = http.StatusInternalServerError
				case status == 0:
					status = http.StatusOK
				}
				route := SanitizeRoute(matchedRoute(r))
				annotateSpan(trace.SpanFromContext(ctx), status, route)

				fields := []zap.Field{
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int("bytes", ww.BytesWritten()),
				}
				fields = append(fields, sanitizedAnnotations(annotations)...)
				if ce := logger.Check(completionLevel(status, panicked), "request completed"); ce != nil {
					ce.Write(fields...)
				}
			}()

			next.ServeHTTP(ww, r)
			panicked = false
		})
	}
}

// Recover turns a panic into a 500 envelope. http.ErrAbortHandler is re-raised.
func Recover(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger := fallback
				if requestctx.HasLogger(ctx) {
					logger = requestctx.Logger(ctx)
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestFields(r *http.Request, projectID string) []zap.Field {
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("method", SanitizeMethod(r.Method)),
	}
	if info, ok := requestctx.Trace(r.Context()); ok {
		if info.ProjectID == "" {
			info.ProjectID = projectID
		}
		fields = append(fields, zap.String("trace_id", info.TraceID))
		if resource := info.Resource(); resource != "" {
			fields = append(fields,
				zap.String("logging.googleapis.com/trace", resource),
				zap.String("logging.googleapis.com/spanId", info.SpanID),
				zap.Bool("logging.googleapis.com/trace_sampled", info.Sampled),
			)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		fields = append(fields, zap.String("remote_ip", sanitizeString(host, 64)))
	} else if r.RemoteAddr != "" {
		fields = append(fields, zap.String("remote_ip", sanitizeString(r.RemoteAddr, 64)))
	}
	return fields
}

func sanitizedAnnotations(a *requestctx.Annotations) []zap.Field {
	fields := a.Fields()
	for i := range fields {
		fields[i].String = sanitizeString(fields[i].String, annotationLimit)
	}
	return fields
}

// matchedRoute prefers the chi pattern, which is only complete after routing.
func matchedRoute(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func annotateSpan(span trace.Span, status int, route string) {
	span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

// completionLevel keeps expected client outcomes such as a missing session or
// throttling at info.
func completionLevel(status int, panicked bool) zapcore.Level {
	switch {
	case panicked || status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status == http.StatusNotFound, status == http.StatusConflict, status == http.StatusTooManyRequests:
		return zapcore.InfoLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
