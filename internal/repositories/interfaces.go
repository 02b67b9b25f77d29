package repositories

import (
	"context"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
)

// RepositoryError wraps low-level collaborator failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StatusError exposes the HTTP status and body returned by an upstream collaborator.
type StatusError interface {
	error
	StatusCode() int
	Body() string
}

// TokenSource hands out the bearer token used to call collaborators on behalf of a user.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// WardrobeRepository reads the user's wardrobe from the CRUD backend.
type WardrobeRepository interface {
	ListItems(ctx context.Context, token string) ([]domain.WardrobeItem, error)
}

// RecommendationRequest is the input of a recommendation call.
type RecommendationRequest struct {
	Items []domain.UploadDescriptor
	Limit int
}

// RecommendationClient asks the recommendation service for outfit combinations.
type RecommendationClient interface {
	Recommend(ctx context.Context, req RecommendationRequest, token string) (domain.RecommendationResponse, error)
}

// OutfitRepository persists outfits in the CRUD backend.
type OutfitRepository interface {
	Create(ctx context.Context, submission domain.OutfitSubmission, token string) (domain.PersistedOutfit, error)
	Update(ctx context.Context, submission domain.OutfitSubmission, token string) (domain.PersistedOutfit, error)
	// Get should return a RepositoryError with IsNotFound when the outfit is absent.
	Get(ctx context.Context, outfitID string, token string) (domain.PersistedOutfit, error)
}

// TagPredictor predicts a category and tags for an image.
type TagPredictor interface {
	Predict(ctx context.Context, image domain.Image, token string) (domain.TagPrediction, error)
}

// ImageFetcher downloads item images for uploads and rasterization.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string, token string) (domain.Image, error)
}

// Capturer rasterizes a composition canvas. A nil image means nothing was drawable.
type Capturer interface {
	Capture(ctx context.Context, snapshot domain.CanvasSnapshot, token string) (*domain.Image, error)
}

// PreviewRenderer draws the preview grid of a recommended outfit. A nil image
// means none of the items has a picture.
type PreviewRenderer interface {
	RenderPreview(ctx context.Context, items []domain.WardrobeItem, token string) (*domain.Image, error)
}

// IndexSyncer pushes saved outfits to the AI index. Callers treat it as fire-and-forget.
type IndexSyncer interface {
	SyncOutfit(ctx context.Context, doc domain.IndexDocument, token string) error
}

// BackgroundRemover strips the background from a photo.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, image domain.Image) (domain.Image, error)
}

// HealthRepository aggregates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// ImageFetchError reports that an item image could not be downloaded before an upload.
type ImageFetchError struct {
	WearableID string
	URL        string
	Err        error
}

func (e *ImageFetchError) Error() string {
	return "fetch image for wearable " + e.WearableID + ": " + e.Err.Error()
}

func (e *ImageFetchError) Unwrap() error { return e.Err }
