package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/auth"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/httpx"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/requestctx"
)

const (
	defaultHeaderName   = "Idempotency-Key"
	replayHeaderName    = "X-Idempotent-Replay"
	defaultMaxBodyBytes = 1 << 20
	maxKeyLength        = 255
	anonymousRequester  = "anonymous"
)

type middlewareConfig struct {
	headerName   string
	ttl          time.Duration
	methods      map[string]struct{}
	clock        func() time.Time
	logger       *zap.Logger
	optional     bool
	maxBodyBytes int64
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long completed responses stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts the guarded methods. The default is POST, PUT, PATCH and DELETE.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			cfg.methods = set
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded instead
// of rejecting them.
func WithOptionalKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.optional = true
	}
}

// WithLogger sets the logger used when the request carries none.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMaxBodyBytes caps the request body hashed into the fingerprint.
func WithMaxBodyBytes(n int64) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if n > 0 {
			cfg.maxBodyBytes = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware makes guarded requests carrying a key replay their first
// completed response. Keys are scoped per authenticated user. Responses with a
// 5xx status release the key so the client may retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		clock:        time.Now,
		logger:       zap.NewNop(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, guarded := cfg.methods[r.Method]; !guarded {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			switch {
			case key == "" && cfg.optional:
				next.ServeHTTP(w, r)
				return
			case key == "":
				respondError(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing "+cfg.headerName+" header")
				return
			case len(key) > maxKeyLength:
				respondError(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", cfg.headerName+" header is too long")
				return
			}

			body, err := bufferBody(r, cfg.maxBodyBytes)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					respondError(ctx, w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body is too large")
					return
				}
				respondError(ctx, w, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
				return
			}

			logger := cfg.logger
			if requestctx.HasLogger(ctx) {
				logger = requestctx.Logger(ctx)
			}
			requester := requesterID(ctx)
			storeKey := key + "|" + requester
			fingerprint := fingerprintRequest(r, body, requester)
			logger = logger.With(zap.String("idempotency_key", key))

			claimed, err := store.Claim(ctx, storeKey, fingerprint, cfg.clock().UTC(), cfg.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				respondError(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
				return
			case err != nil:
				logger.Error("idempotency claim failed", zap.Error(err))
				respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
				return
			}

			switch claimed.Outcome {
			case OutcomeReplay:
				requestctx.Annotate(ctx, "idempotency", "replayed")
				replay(w, claimed.Entry.Response)
				return
			case OutcomeInFlight:
				respondError(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
				return
			}
			requestctx.Annotate(ctx, "idempotency", "new")

			recorder := newResponseRecorder()
			next.ServeHTTP(recorder, r)
			response := Response{
				Status:  recorder.Status(),
				Headers: cloneHeader(recorder.header),
				Body:    recorder.Body(),
			}

			if response.Status >= http.StatusInternalServerError {
				if err := store.Release(ctx, storeKey, fingerprint); err != nil {
					logger.Warn("idempotency release failed", zap.Int("status", response.Status), zap.Error(err))
				}
				flush(w, response, logger)
				return
			}

			if err := store.Complete(ctx, storeKey, fingerprint, response, cfg.clock().UTC(), cfg.ttl); err != nil {
				logger.Error("idempotency complete failed", zap.Error(err))
				if err := store.Release(ctx, storeKey, fingerprint); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
				respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
				return
			}
			flush(w, response, logger)
		})
	}
}

// bufferBody reads at most limit bytes and puts an equivalent reader back on r.
func bufferBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, limit))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func fingerprintRequest(r *http.Request, body []byte, requester string) string {
	parts := []string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
	}
	if len(body) > 0 {
		parts = append(parts, digest(body))
	}
	return digest([]byte(strings.Join(parts, "\x00")))
}

func requesterID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UserID != "" {
		return identity.UserID
	}
	return anonymousRequester
}

func replay(w http.ResponseWriter, stored Response) {
	header := w.Header()
	for key, values := range stored.Headers {
		header[key] = append([]string(nil), values...)
	}
	header.Set(replayHeaderName, "true")
	status := stored.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(stored.Body)
}

func flush(w http.ResponseWriter, response Response, logger *zap.Logger) {
	header := w.Header()
	for key, values := range response.Headers {
		header[key] = values
	}
	w.WriteHeader(response.Status)
	if len(response.Body) == 0 {
		return
	}
	if _, err := w.Write(response.Body); err != nil {
		logger.Debug("idempotency flush failed", zap.Error(err))
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// responseRecorder buffers the downstream response until the store decided
// whether it is kept.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 && status > 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	if r.body.Len() == 0 {
		return nil
	}
	return bytes.Clone(r.body.Bytes())
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return http.Header{}
	}
	return src.Clone()
}
