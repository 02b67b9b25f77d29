package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func serveRouter(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestNewRouter_Probes(t *testing.T) {
	router := NewRouter()

	rr := serveRouter(router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	assert.Equal(t, http.StatusOK, serveRouter(router, http.MethodGet, "/readyz").Code)
	assert.Equal(t, http.StatusNotFound, serveRouter(router, http.MethodGet, "/metrics").Code, "metrics are off unless configured")
}

func TestNewRouter_MountsRegisteredGroups(t *testing.T) {
	noContent := func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}
	router := NewRouter(WithWardrobeRoutes(noContent), WithCutoutRoutes(noContent))

	assert.Equal(t, http.StatusNoContent, serveRouter(router, http.MethodGet, "/api/v1/wardrobe").Code)
	assert.Equal(t, http.StatusNoContent, serveRouter(router, http.MethodGet, "/api/v1/cutouts").Code)

	rr := serveRouter(router, http.MethodGet, "/api/v1/recommendations")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "route_not_found", errorCode(t, rr))
}

func TestNewRouter_ErrorEnvelopes(t *testing.T) {
	router := NewRouter(WithWardrobeRoutes(func(r chi.Router) {
		r.Get("/", func(http.ResponseWriter, *http.Request) {})
	}))

	rr := serveRouter(router, http.MethodGet, "/does/not/exist")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "route_not_found", errorCode(t, rr))

	rr = serveRouter(router, http.MethodDelete, "/healthz")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "method_not_allowed", errorCode(t, rr))
}

func TestNewRouter_APIMiddlewareSkipsProbes(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusUnauthorized) })
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) })
	router := NewRouter(WithAPIMiddlewares(deny), WithMetricsHandler("/internal/metrics", metrics))

	for path, want := range map[string]int{
		"/healthz":              http.StatusOK,
		"/internal/metrics":     http.StatusOK,
		"/api/v1/wardrobe":      http.StatusUnauthorized,
		"/api/v1/compositions/": http.StatusUnauthorized,
	} {
		assert.Equal(t, want, serveRouter(router, http.MethodGet, path).Code, path)
	}
}

func TestNewRouter_GlobalMiddlewareWrapsEverything(t *testing.T) {
	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Studio", "on")
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(WithMiddlewares(tag))

	for _, path := range []string{"/healthz", "/api/v1/cutouts/sample", "/nowhere"} {
		assert.Equal(t, "on", serveRouter(router, http.MethodGet, path).Header().Get("X-Studio"), path)
	}
}
