package domain

import "time"

// WardrobeItem is a read-only snapshot of a wearable owned by the user.
type WardrobeItem struct {
	ID           string
	UserID       string
	Title        string
	Description  string
	CategoryID   string
	CategoryName string
	Tags         []string
	ImageKey     string
	ImageURL     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasImage reports whether the item has a processed image that can be drawn or uploaded.
func (w WardrobeItem) HasImage() bool {
	return w.ImageURL != ""
}

// IsCategorized reports whether the item was assigned a category.
func (w WardrobeItem) IsCategorized() bool {
	return w.CategoryID != ""
}

// Bucket derives the outfit role of the item from its category name.
func (w WardrobeItem) Bucket() Bucket {
	return ClassifyCategory(w.CategoryName)
}

// UploadDescriptor is the per-item payload sent to the recommendation service.
type UploadDescriptor struct {
	WearableID string
	ImageURI   string
	Tags       []string
}

// RemoteOutfit is a single combination returned by the recommendation service.
// ItemRefs are wardrobe ids that may or may not be known locally.
type RemoteOutfit struct {
	ID       string
	ItemRefs []string
}

// RecommendationResponse carries the raw recommendation service answer.
type RecommendationResponse struct {
	Outfits  []RemoteOutfit
	Warnings []string
}

// ResolvedOutfit is a recommendation mapped back onto local wardrobe items.
type ResolvedOutfit struct {
	ID    string
	Items []WardrobeItem
}

// SaveState tracks the persistence progress of a recommended outfit.
type SaveState string

const (
	SaveStateUnsaved SaveState = "unsaved"
	SaveStateSaving  SaveState = "saving"
	SaveStateSaved   SaveState = "saved"
)

// OutfitMetadata is the user editable description of a composed outfit.
type OutfitMetadata struct {
	Title       string
	Description string
	Tags        []string
}

// PersistedOutfit mirrors an outfit stored by the wardrobe backend.
type PersistedOutfit struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Tags        []string
	ImageKey    string
	ImageURL    string
	Items       []WardrobeItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Image is an encoded raster image.
type Image struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// TagPrediction is the output of the tag predictor for a single image.
type TagPrediction struct {
	Category   string
	Tags       []string
	Confidence float64
}

// OutfitSubmission is the payload used to create or update a persisted outfit.
type OutfitSubmission struct {
	OutfitID    string
	Title       string
	Description string
	Tags        []string
	WearableIDs []string
	Image       *Image
}

// IndexDocument is the outfit projection pushed to the AI index after a save.
type IndexDocument struct {
	OutfitID string   `json:"outfit_id"`
	UserID   string   `json:"user_id"`
	ItemIDs  []string `json:"item_ids"`
	Tags     []string `json:"tags"`
	Title    string   `json:"title"`
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Critical  bool
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
