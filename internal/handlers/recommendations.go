package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/httpx"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/requestctx"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

const (
	defaultGenerateRateLimit  = 10
	defaultGenerateRateWindow = time.Minute
)

// RecommendationHandlers exposes the recommendation board of the caller.
type RecommendationHandlers struct {
	recommendations services.RecommendationService
	limiter         rateLimiter
	idempotency     func(http.Handler) http.Handler
}

// RecommendationOption customises RecommendationHandlers.
type RecommendationOption func(*RecommendationHandlers)

// WithGenerateRateLimit caps generations per user per window. A non-positive limit disables it.
func WithGenerateRateLimit(limit int, window time.Duration, clock func() time.Time) RecommendationOption {
	return func(h *RecommendationHandlers) {
		h.limiter = newUserLimiter(limit, window, clock)
	}
}

// WithRecommendationIdempotency guards the save endpoint with the given middleware.
func WithRecommendationIdempotency(mw func(http.Handler) http.Handler) RecommendationOption {
	return func(h *RecommendationHandlers) {
		h.idempotency = mw
	}
}

// NewRecommendationHandlers constructs the recommendation handlers.
func NewRecommendationHandlers(svc services.RecommendationService, opts ...RecommendationOption) *RecommendationHandlers {
	h := &RecommendationHandlers{
		recommendations: svc,
		limiter:         newUserLimiter(defaultGenerateRateLimit, defaultGenerateRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /recommendations endpoints.
func (h *RecommendationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.board)
	r.Post("/", rateLimited(h.limiter, h.generate))
	r.Delete("/", h.close)

	if h.idempotency != nil {
		r.With(h.idempotency).Post("/{outfitID}/save", h.saveSuggestion)
		return
	}
	r.Post("/{outfitID}/save", h.saveSuggestion)
}

type generateRequest struct {
	Limit int `json:"limit"`
}

type saveSuggestionResponse struct {
	Started   bool                    `json:"started"`
	SaveState string                  `json:"saveState"`
	Outfit    *persistedOutfitPayload `json:"outfit,omitempty"`
}

func (h *RecommendationHandlers) generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.recommendations == nil {
		serviceUnavailable(ctx, w, "recommendation")
		return
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return
	}

	var req generateRequest
	if r.Body != nil && r.ContentLength != 0 {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body too large", http.StatusBadRequest))
			return
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := decodeGenerateRequest(body, &req); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
				return
			}
		}
	}

	board, err := h.recommendations.Generate(ctx, services.GenerateCommand{UserID: userID, Limit: req.Limit})
	if err != nil {
		var (
			validation *services.ValidationError
			resolution *services.ResolutionError
		)
		// The board still reflects the failed generation for these errors.
		switch {
		case errors.As(err, &validation):
			requestctx.Annotate(ctx, "generate_outcome", "ineligible")
			writeJSONResponse(w, http.StatusOK, buildBoardPayload(board))
			return
		case errors.As(err, &resolution):
			requestctx.Annotate(ctx, "generate_outcome", "unresolved")
			writeJSONResponse(w, http.StatusOK, buildBoardPayload(board))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Annotate(ctx, "generate_outcome", "ok")
	writeJSONResponse(w, http.StatusOK, buildBoardPayload(board))
}

func (h *RecommendationHandlers) board(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.recommendations == nil {
		serviceUnavailable(ctx, w, "recommendation")
		return
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return
	}
	board, err := h.recommendations.Board(ctx, userID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildBoardPayload(board))
}

func (h *RecommendationHandlers) close(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.recommendations == nil {
		serviceUnavailable(ctx, w, "recommendation")
		return
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return
	}
	h.recommendations.Close(ctx, userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *RecommendationHandlers) saveSuggestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.recommendations == nil {
		serviceUnavailable(ctx, w, "recommendation")
		return
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return
	}
	outfitID := strings.TrimSpace(chi.URLParam(r, "outfitID"))
	if outfitID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "outfit id is required", http.StatusBadRequest))
		return
	}

	result, err := h.recommendations.SaveSuggestion(ctx, services.SaveSuggestionCommand{UserID: userID, OutfitID: outfitID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	requestctx.Annotate(ctx, "outfit_id", outfitID)
	requestctx.Annotate(ctx, "save_state", string(result.State))
	resp := saveSuggestionResponse{Started: result.Started, SaveState: string(result.State)}
	status := http.StatusOK
	if result.Outfit != nil {
		payload := buildPersistedOutfitPayload(*result.Outfit, nil)
		resp.Outfit = &payload
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, resp)
}

func decodeGenerateRequest(body []byte, req *generateRequest) error {
	if err := decodeStrictJSON(body, req); err != nil {
		return errors.New("request body must be valid JSON")
	}
	if req.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}
