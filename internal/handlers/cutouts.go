package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/httpx"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

const (
	defaultCutoutUploadLimit = 16 << 20
	defaultCutoutRateLimit   = 20
	defaultCutoutRateWindow  = time.Minute
	cutoutFormField          = "file"
)

// CutoutHandlers proxies background removal for uploaded photos.
type CutoutHandlers struct {
	cutouts     services.CutoutService
	limiter     rateLimiter
	uploadLimit int64
}

// CutoutOption customises CutoutHandlers.
type CutoutOption func(*CutoutHandlers)

// WithCutoutRateLimit caps uploads per user per window. A non-positive limit disables it.
func WithCutoutRateLimit(limit int, window time.Duration, clock func() time.Time) CutoutOption {
	return func(h *CutoutHandlers) {
		h.limiter = newUserLimiter(limit, window, clock)
	}
}

// WithCutoutUploadLimit bounds the multipart request body.
func WithCutoutUploadLimit(bytes int64) CutoutOption {
	return func(h *CutoutHandlers) {
		if bytes > 0 {
			h.uploadLimit = bytes
		}
	}
}

// NewCutoutHandlers constructs the cutout handlers.
func NewCutoutHandlers(svc services.CutoutService, opts ...CutoutOption) *CutoutHandlers {
	h := &CutoutHandlers{
		cutouts:     svc,
		limiter:     newUserLimiter(defaultCutoutRateLimit, defaultCutoutRateWindow, nil),
		uploadLimit: defaultCutoutUploadLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /cutouts endpoint.
func (h *CutoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", rateLimited(h.limiter, h.removeBackground))
}

func (h *CutoutHandlers) removeBackground(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cutouts == nil {
		serviceUnavailable(ctx, w, "cutout")
		return
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.uploadLimit)
	if err := r.ParseMultipartForm(h.uploadLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("image_too_large", "upload exceeds the size limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected a multipart form upload", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(cutoutFormField)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("image_required", "form field \"file\" is required", http.StatusBadRequest))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read upload", http.StatusBadRequest))
		return
	}

	out, err := h.cutouts.RemoveBackground(ctx, services.CutoutCommand{
		UserID: userID,
		Image:  domain.Image{Data: data, ContentType: header.Header.Get("Content-Type")},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeImage(w, out)
}
