package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/auth"
)

const savePath = "/api/v1/compositions/01HZX/save"

var epoch = time.Date(2025, time.March, 3, 9, 30, 0, 0, time.UTC)

// saveRequest describes one call through the middleware.
type saveRequest struct {
	method string
	key    string
	body   string
	user   string
}

func (s saveRequest) build() *http.Request {
	method := s.method
	if method == "" {
		method = http.MethodPost
	}
	var req *http.Request
	if s.body == "" {
		req = httptest.NewRequest(method, savePath, nil)
	} else {
		req = httptest.NewRequest(method, savePath, strings.NewReader(s.body))
		req.Header.Set("Content-Type", "application/json")
	}
	if s.key != "" {
		req.Header.Set("Idempotency-Key", s.key)
	}
	if s.user != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: s.user}))
	}
	return req
}

// countingHandler answers with the scripted statuses in order, repeating the last one.
type countingHandler struct {
	calls    int
	statuses []int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusCreated
	if n := len(h.statuses); n > 0 {
		status = h.statuses[min(h.calls, n-1)]
	}
	h.calls++
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"outfit_id":"o-` + string(rune('0'+h.calls)) + `"}`))
}

func serve(t *testing.T, handler http.Handler, req saveRequest) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.build())
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error
}

func newTestMiddleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	opts = append([]MiddlewareOption{WithClock(func() time.Time { return epoch })}, opts...)
	return Middleware(store, opts...)
}

func TestMiddleware_RejectsBadKeys(t *testing.T) {
	cases := map[string]struct {
		req  saveRequest
		code string
	}{
		"missing":  {req: saveRequest{body: `{"title":"a"}`}, code: "idempotency_key_required"},
		"too long": {req: saveRequest{key: strings.Repeat("k", maxKeyLength+1)}, code: "idempotency_key_invalid"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			next := &countingHandler{}
			rec := serve(t, newTestMiddleware(NewMemoryStore())(next), tc.req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
			assert.Zero(t, next.calls)
		})
	}
}

func TestMiddleware_ReplaysCompletedSave(t *testing.T) {
	next := &countingHandler{}
	handler := newTestMiddleware(NewMemoryStore())(next)
	req := saveRequest{key: "save-1", body: `{"title":"weekend"}`, user: "u-1"}

	first := serve(t, handler, req)
	second := serve(t, handler, req)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(replayHeaderName))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayHeaderName))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestMiddleware_KeyReusedForDifferentBody(t *testing.T) {
	handler := newTestMiddleware(NewMemoryStore())(&countingHandler{})

	require.Equal(t, http.StatusCreated, serve(t, handler, saveRequest{key: "k", body: `{"title":"a"}`}).Code)
	rec := serve(t, handler, saveRequest{key: "k", body: `{"title":"b"}`})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "idempotency_key_conflict", errorCode(t, rec))
}

func TestMiddleware_InFlightKey(t *testing.T) {
	store := NewMemoryStore()
	req := saveRequest{key: "pending", body: `{"title":"a"}`}.build()
	body, err := bufferBody(req, defaultMaxBodyBytes)
	require.NoError(t, err)
	fingerprint := fingerprintRequest(req, body, anonymousRequester)
	_, err = store.Claim(context.Background(), "pending|"+anonymousRequester, fingerprint, epoch, time.Hour)
	require.NoError(t, err)

	next := &countingHandler{}
	rec := serve(t, newTestMiddleware(store)(next), saveRequest{key: "pending", body: `{"title":"a"}`})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "idempotency_in_progress", errorCode(t, rec))
	assert.Zero(t, next.calls)
}

func TestMiddleware_ServerErrorReleasesKey(t *testing.T) {
	next := &countingHandler{statuses: []int{http.StatusBadGateway, http.StatusCreated}}
	handler := newTestMiddleware(NewMemoryStore())(next)
	req := saveRequest{key: "retry"}

	assert.Equal(t, http.StatusBadGateway, serve(t, handler, req).Code)
	assert.Equal(t, http.StatusCreated, serve(t, handler, req).Code)
	assert.Equal(t, http.StatusCreated, serve(t, handler, req).Code)
	assert.Equal(t, 2, next.calls, "the third call replays the successful retry")
}

func TestMiddleware_StoreFailures(t *testing.T) {
	t.Run("claim", func(t *testing.T) {
		store := &stubStore{claimErr: errors.New("unavailable")}
		next := &countingHandler{}
		rec := serve(t, newTestMiddleware(store)(next), saveRequest{key: "k"})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "idempotency_store_error", errorCode(t, rec))
		assert.Zero(t, next.calls)
	})

	t.Run("complete", func(t *testing.T) {
		store := &stubStore{completeErr: errors.New("write failed")}
		rec := serve(t, newTestMiddleware(store)(&countingHandler{}), saveRequest{key: "k"})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "idempotency_store_error", errorCode(t, rec))
		assert.True(t, store.released)
	})
}

func TestMiddleware_ScopesKeysPerUser(t *testing.T) {
	next := &countingHandler{}
	handler := newTestMiddleware(NewMemoryStore())(next)

	for _, user := range []string{"user-a", "user-b"} {
		rec := serve(t, handler, saveRequest{key: "shared", user: user})
		assert.Empty(t, rec.Header().Get(replayHeaderName), user)
	}
	assert.Equal(t, 2, next.calls)
}

func TestMiddleware_Bypass(t *testing.T) {
	t.Run("optional key", func(t *testing.T) {
		store := NewMemoryStore()
		next := &countingHandler{}
		handler := newTestMiddleware(store, WithOptionalKey())(next)
		serve(t, handler, saveRequest{})
		serve(t, handler, saveRequest{})

		assert.Equal(t, 2, next.calls)
		assert.Zero(t, store.Len())
	})

	t.Run("unguarded method", func(t *testing.T) {
		next := &countingHandler{}
		handler := newTestMiddleware(NewMemoryStore(), WithMethods("post"))(next)
		serve(t, handler, saveRequest{method: http.MethodGet, key: "read"})
		serve(t, handler, saveRequest{method: http.MethodGet, key: "read"})

		assert.Equal(t, 2, next.calls)
	})

	t.Run("nil store", func(t *testing.T) {
		next := &countingHandler{}
		serve(t, Middleware(nil)(next), saveRequest{})
		assert.Equal(t, 1, next.calls)
	})
}

func TestMiddleware_RejectsOversizedBody(t *testing.T) {
	next := &countingHandler{}
	handler := newTestMiddleware(NewMemoryStore(), WithMaxBodyBytes(8))(next)

	rec := serve(t, handler, saveRequest{key: "big", body: `{"title":"weekend"}`})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", errorCode(t, rec))
	assert.Zero(t, next.calls)
}

type stubStore struct {
	claimErr    error
	completeErr error
	released    bool
}

func (s *stubStore) Claim(context.Context, string, string, time.Time, time.Duration) (Claim, error) {
	if s.claimErr != nil {
		return Claim{}, s.claimErr
	}
	return Claim{Outcome: OutcomeProceed}, nil
}

func (s *stubStore) Complete(context.Context, string, string, Response, time.Time, time.Duration) error {
	return s.completeErr
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) Sweep(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
