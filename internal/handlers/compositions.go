package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/httpx"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/requestctx"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

const maxGestureBatch = 256

// CompositionHandlers exposes composition sessions over HTTP.
type CompositionHandlers struct {
	compositions services.CompositionService
	idempotency  func(http.Handler) http.Handler
}

// CompositionOption customises CompositionHandlers.
type CompositionOption func(*CompositionHandlers)

// WithCompositionIdempotency guards the save endpoint with the given middleware.
func WithCompositionIdempotency(mw func(http.Handler) http.Handler) CompositionOption {
	return func(h *CompositionHandlers) {
		h.idempotency = mw
	}
}

// NewCompositionHandlers constructs the composition handlers.
func NewCompositionHandlers(svc services.CompositionService, opts ...CompositionOption) *CompositionHandlers {
	h := &CompositionHandlers{compositions: svc}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /compositions endpoints.
func (h *CompositionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.start)
	r.Route("/{sessionID}", func(rt chi.Router) {
		rt.Get("/", h.get)
		rt.Delete("/", h.close)
		rt.Post("/gestures", h.applyGestures)
		rt.Post("/layers/{move}", h.moveLayer)
		rt.Put("/active", h.setActive)
		rt.Put("/metadata", h.updateMetadata)
		rt.Post("/tags", h.addTag)
		rt.Delete("/tags/{tag}", h.removeTag)
		rt.Post("/auto-tag", h.autoTag)
		rt.Post("/auto-fill", h.autoFill)
		rt.Get("/preview", h.preview)
		if h.idempotency != nil {
			rt.With(h.idempotency).Post("/save", h.save)
		} else {
			rt.Post("/save", h.save)
		}
	})
}

type startCompositionRequest struct {
	ItemIDs  []string `json:"itemIds"`
	OutfitID string   `json:"outfitId"`
}

type gesturesRequest struct {
	Events []domain.GestureEvent `json:"events"`
}

type setActiveRequest struct {
	ItemID string `json:"itemId"`
}

type metadataRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type addTagRequest struct {
	Tag string `json:"tag"`
}

type saveCompositionResponse struct {
	Outfit      persistedOutfitPayload `json:"outfit"`
	Updated     bool                   `json:"updated"`
	Composition compositionPayload     `json:"composition"`
}

func (h *CompositionHandlers) start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.compositions == nil {
		serviceUnavailable(ctx, w, "composition")
		return
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return
	}
	var req startCompositionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	view, err := h.compositions.Start(ctx, services.StartCompositionCommand{
		UserID:   userID,
		ItemIDs:  req.ItemIDs,
		OutfitID: strings.TrimSpace(req.OutfitID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Annotate(ctx, "composition_session", view.SessionID)
	w.Header().Set("Location", "/api/v1/compositions/"+url.PathEscape(view.SessionID))
	writeJSONResponse(w, http.StatusCreated, buildCompositionPayload(view))
}

func (h *CompositionHandlers) get(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	view, err := h.compositions.Get(r.Context(), ref)
	h.respond(w, r, view, err)
}

func (h *CompositionHandlers) close(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	if err := h.compositions.Close(r.Context(), ref); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CompositionHandlers) applyGestures(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	var req gesturesRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Events) == 0 || len(req.Events) > maxGestureBatch {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "events must hold between 1 and "+strconv.Itoa(maxGestureBatch)+" gestures", http.StatusBadRequest))
		return
	}
	view, err := h.compositions.ApplyGestures(r.Context(), ref, req.Events)
	h.respond(w, r, view, err)
}

// moveLayer handles /layers/{itemID}:up and /layers/{itemID}:down.
func (h *CompositionHandlers) moveLayer(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	itemID, up, valid := parseLayerMove(chi.URLParam(r, "move"))
	if !valid {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "expected {itemId}:up or {itemId}:down", http.StatusBadRequest))
		return
	}
	view, err := h.compositions.MoveLayer(r.Context(), ref, itemID, up)
	h.respond(w, r, view, err)
}

func (h *CompositionHandlers) setActive(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	var req setActiveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	view, err := h.compositions.SetActive(r.Context(), ref, strings.TrimSpace(req.ItemID))
	h.respond(w, r, view, err)
}

func (h *CompositionHandlers) updateMetadata(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	var req metadataRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	view, err := h.compositions.UpdateMetadata(r.Context(), ref, services.OutfitMetadata{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	})
	h.respond(w, r, view, err)
}

func (h *CompositionHandlers) addTag(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	var req addTagRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	view, err := h.compositions.AddTag(r.Context(), ref, req.Tag)
	h.respond(w, r, view, err)
}

func (h *CompositionHandlers) removeTag(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	tag, err := url.PathUnescape(chi.URLParam(r, "tag"))
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "tag is not properly escaped", http.StatusBadRequest))
		return
	}
	view, err := h.compositions.RemoveTag(r.Context(), ref, tag)
	h.respond(w, r, view, err)
}

func (h *CompositionHandlers) autoTag(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	view, err := h.compositions.AutoTag(r.Context(), ref)
	h.respond(w, r, view, err)
}

func (h *CompositionHandlers) autoFill(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	view, err := h.compositions.AutoFill(r.Context(), ref)
	h.respond(w, r, view, err)
}

func (h *CompositionHandlers) save(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	result, err := h.compositions.Save(r.Context(), ref)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	requestctx.Annotate(r.Context(), "outfit_id", result.Outfit.ID)
	status := http.StatusCreated
	if result.Updated {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, saveCompositionResponse{
		Outfit:      buildPersistedOutfitPayload(result.Outfit, result.View.Draft.Layers.IDs()),
		Updated:     result.Updated,
		Composition: buildCompositionPayload(result.View),
	})
}

func (h *CompositionHandlers) preview(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.sessionRef(w, r)
	if !ok {
		return
	}
	img, err := h.compositions.Preview(r.Context(), ref)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeImage(w, *img)
}

func (h *CompositionHandlers) sessionRef(w http.ResponseWriter, r *http.Request) (services.SessionRef, bool) {
	ctx := r.Context()
	if h.compositions == nil {
		serviceUnavailable(ctx, w, "composition")
		return services.SessionRef{}, false
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return services.SessionRef{}, false
	}
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return services.SessionRef{}, false
	}
	requestctx.Annotate(ctx, "composition_session", sessionID)
	return services.SessionRef{UserID: userID, SessionID: sessionID}, true
}

func (h *CompositionHandlers) respond(w http.ResponseWriter, r *http.Request, view services.CompositionView, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCompositionPayload(view))
}

func parseLayerMove(value string) (itemID string, up bool, ok bool) {
	idx := strings.LastIndex(value, ":")
	if idx <= 0 {
		return "", false, false
	}
	itemID = strings.TrimSpace(value[:idx])
	switch strings.ToLower(value[idx+1:]) {
	case "up":
		return itemID, true, itemID != ""
	case "down":
		return itemID, false, itemID != ""
	default:
		return "", false, false
	}
}

func writeImage(w http.ResponseWriter, img domain.Image) {
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}
