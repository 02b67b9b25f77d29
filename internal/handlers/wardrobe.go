package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/httpx"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/pagination"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

const (
	defaultWardrobePageSize = 50
	maxWardrobePageSize     = 200
)

var wardrobePaginationOptions = pagination.Options{
	DefaultPageSize: defaultWardrobePageSize,
	MaxPageSize:     maxWardrobePageSize,
	Filters: map[string][]pagination.Operator{
		"bucket":   {pagination.OperatorEqual, pagination.OperatorNotEqual},
		"category": {pagination.OperatorEqual},
		"tags":     {pagination.OperatorArrayContains},
	},
}

// WardrobeHandlers exposes the caller's wardrobe.
type WardrobeHandlers struct {
	wardrobe services.WardrobeService
}

// NewWardrobeHandlers constructs the wardrobe handlers.
func NewWardrobeHandlers(wardrobe services.WardrobeService) *WardrobeHandlers {
	return &WardrobeHandlers{wardrobe: wardrobe}
}

// Routes registers the /wardrobe endpoints.
func (h *WardrobeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listItems)
	r.Get("/eligibility", h.eligibility)
}

type wardrobeListResponse struct {
	Items         []wardrobeItemPayload `json:"items"`
	Total         int                   `json:"total"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

type eligibilityResponse struct {
	Eligible       bool           `json:"eligible"`
	Reason         string         `json:"reason,omitempty"`
	Message        string         `json:"message,omitempty"`
	MissingBuckets []string       `json:"missingBuckets,omitempty"`
	ReadyItems     int            `json:"readyItems"`
	BucketCounts   map[string]int `json:"bucketCounts"`
}

func (h *WardrobeHandlers) listItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wardrobe == nil {
		serviceUnavailable(ctx, w, "wardrobe")
		return
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, wardrobePaginationOptions)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter, err := wardrobeFilter(userID, params)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.wardrobe.ListItems(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]wardrobeItemPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildWardrobeItemPayload(entry.Item))
	}
	writeJSONResponse(w, http.StatusOK, wardrobeListResponse{
		Items:         items,
		Total:         page.Total,
		NextPageToken: page.NextPageToken,
	})
}

func (h *WardrobeHandlers) eligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wardrobe == nil {
		serviceUnavailable(ctx, w, "wardrobe")
		return
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return
	}

	result, err := h.wardrobe.CheckEligibility(ctx, userID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	counts := make(map[string]int, len(result.BucketCounts))
	for bucket, n := range result.BucketCounts {
		counts[string(bucket)] = n
	}
	missing := make([]string, 0, len(result.MissingBuckets))
	for _, bucket := range result.MissingBuckets {
		missing = append(missing, bucket.FriendlyName())
	}
	writeJSONResponse(w, http.StatusOK, eligibilityResponse{
		Eligible:       result.OK,
		Reason:         result.Reason,
		Message:        result.Message,
		MissingBuckets: missing,
		ReadyItems:     len(result.Eligible),
		BucketCounts:   counts,
	})
}

func wardrobeFilter(userID string, params pagination.Params) (services.WardrobeListFilter, error) {
	filter := services.WardrobeListFilter{UserID: userID, Page: params}
	for _, f := range params.Filters {
		switch f.Field {
		case "bucket":
			bucket, ok := domain.ParseBucket(f.Value)
			if !ok {
				return services.WardrobeListFilter{}, fmt.Errorf("unknown bucket %q", f.Value)
			}
			if f.Op == pagination.OperatorNotEqual {
				filter.ExcludeBucket = bucket
			} else {
				filter.Bucket = bucket
			}
		case "category":
			filter.Category = strings.TrimSpace(f.Value)
		case "tags":
			filter.Tag = strings.TrimSpace(f.Value)
		default:
			return services.WardrobeListFilter{}, errors.New("unsupported filter")
		}
	}
	return filter, nil
}
