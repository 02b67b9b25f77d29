package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/auth"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/httpx"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

const maxJSONBody = 256 * 1024

// writeServiceError translates the service error taxonomy into the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var (
		validation *services.ValidationError
		resolution *services.ResolutionError
		upstream   *services.UpstreamError
	)
	switch {
	case errors.As(err, &validation):
		details := map[string]any{"reason": validation.Reason}
		if len(validation.MissingBuckets) > 0 {
			details["missing_buckets"] = validation.MissingBuckets
		}
		httpx.WriteError(ctx, w, httpx.NewError(validation.Reason, validation.Error(), http.StatusUnprocessableEntity).WithDetails(details))
	case errors.Is(err, services.ErrAuth):
		httpx.WriteError(ctx, w, httpx.NewError("reauthentication_required", "Your session has expired. Please sign in again.", http.StatusUnauthorized))
	case errors.Is(err, services.ErrTimeout):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", err.Error(), http.StatusGatewayTimeout))
	case errors.As(err, &resolution):
		httpx.WriteError(ctx, w, httpx.NewError("resolution_"+string(resolution.Kind), resolution.Error(), http.StatusBadGateway))
	case errors.As(err, &upstream):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_error", upstream.Error(), http.StatusBadGateway).WithDetails(map[string]any{"upstream_status": upstream.Status}))
	case errors.Is(err, services.ErrSuperseded):
		httpx.WriteError(ctx, w, httpx.NewError("superseded", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrSaveInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("save_in_progress", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "composition session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOutfitNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("outfit_not_found", "outfit not found", http.StatusNotFound))
	case errors.Is(err, services.ErrNothingToCapture):
		httpx.WriteError(ctx, w, httpx.NewError("nothing_to_capture", "the canvas has nothing to draw", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_cancelled", "request cancelled", http.StatusRequestTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

// requireUserID returns the caller's user id or writes a 401.
func requireUserID(ctx context.Context, w http.ResponseWriter) (string, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UserID), true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func decodeStrictJSON(body []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}
