// Package httpx writes the JSON envelopes shared by every API handler.
package httpx

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/requestctx"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
)

// Error is the body of every non-2xx response:
//
//	{"error": code, "message": ..., "status": 422, "request_id": ..., "trace_id": ..., <details>}
//
// Details are merged into the top level object and never override the fixed keys.
type Error struct {
	Code       string
	Message    string
	Status     int
	RetryAfter time.Duration
	Details    map[string]any
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, codeLimit),
		Message: clean(message, messageLimit),
		Status:  status,
	}
}

// WithDetails attaches extra top level fields.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WithRetryAfter sets the Retry-After header, rounded up to whole seconds.
func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

// WriteError renders err with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status
	if id := clean(middleware.GetReqID(ctx), idLimit); id != "" {
		payload["request_id"] = id
	}
	if id := clean(requestctx.TraceID(ctx), idLimit); id != "" {
		payload["trace_id"] = id
	}

	if err.RetryAfter > 0 {
		seconds := int(math.Ceil(err.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
	}
	WriteJSON(w, status, payload)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// clean flattens line breaks and cuts value to limit bytes on a rune boundary.
func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
