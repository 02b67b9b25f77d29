package services

import (
	"context"
	"time"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/pagination"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	WardrobeItem       = domain.WardrobeItem
	ResolvedOutfit     = domain.ResolvedOutfit
	PersistedOutfit    = domain.PersistedOutfit
	OutfitDraft        = domain.OutfitDraft
	OutfitMetadata     = domain.OutfitMetadata
	GestureEvent       = domain.GestureEvent
	SaveState          = domain.SaveState
	SystemHealthReport = domain.SystemHealthReport
)

// WardrobeService exposes the caller's wardrobe annotated with outfit roles.
type WardrobeService interface {
	ListItems(ctx context.Context, filter WardrobeListFilter) (WardrobePage, error)
	CheckEligibility(ctx context.Context, userID string) (Eligibility, error)
}

// WardrobeListFilter narrows a wardrobe listing. Empty fields do not filter.
type WardrobeListFilter struct {
	UserID        string
	Bucket        domain.Bucket
	ExcludeBucket domain.Bucket
	Category      string
	Tag           string
	Page          pagination.Params
}

// WardrobeEntry is a wardrobe item with its derived bucket. Ready reports
// whether the item can take part in recommendations.
type WardrobeEntry struct {
	Item   WardrobeItem
	Bucket domain.Bucket
	Ready  bool
}

// WardrobePage is one page of a wardrobe listing.
type WardrobePage struct {
	Items         []WardrobeEntry
	Total         int
	NextPageToken string
}

// RecommendationService drives the per-user recommendation board.
type RecommendationService interface {
	Generate(ctx context.Context, cmd GenerateCommand) (RecommendationBoard, error)
	Board(ctx context.Context, userID string) (RecommendationBoard, error)
	Close(ctx context.Context, userID string)
	SaveSuggestion(ctx context.Context, cmd SaveSuggestionCommand) (SaveSuggestionResult, error)
}

// GenerateCommand requests a new generation of outfit suggestions.
type GenerateCommand struct {
	UserID string
	Limit  int
}

// RecommendationBoard is a snapshot of a user's recommendation screen.
type RecommendationBoard struct {
	Generation  uint64
	Generating  bool
	Outfits     []ResolvedOutfit
	Warnings    []string
	Error       string
	ErrorReason string
	SaveStates  map[string]SaveState
	UpdatedAt   time.Time
}

// SaveSuggestionCommand persists one suggested outfit.
type SaveSuggestionCommand struct {
	UserID   string
	OutfitID string
}

// SaveSuggestionResult reports whether this call performed the save.
type SaveSuggestionResult struct {
	Started bool
	State   SaveState
	Outfit  *PersistedOutfit
}

// CompositionService owns composition sessions and their capture/save workflow.
type CompositionService interface {
	Start(ctx context.Context, cmd StartCompositionCommand) (CompositionView, error)
	Get(ctx context.Context, ref SessionRef) (CompositionView, error)
	ApplyGestures(ctx context.Context, ref SessionRef, events []GestureEvent) (CompositionView, error)
	MoveLayer(ctx context.Context, ref SessionRef, itemID string, up bool) (CompositionView, error)
	SetActive(ctx context.Context, ref SessionRef, itemID string) (CompositionView, error)
	UpdateMetadata(ctx context.Context, ref SessionRef, meta OutfitMetadata) (CompositionView, error)
	AddTag(ctx context.Context, ref SessionRef, tag string) (CompositionView, error)
	RemoveTag(ctx context.Context, ref SessionRef, tag string) (CompositionView, error)
	AutoTag(ctx context.Context, ref SessionRef) (CompositionView, error)
	AutoFill(ctx context.Context, ref SessionRef) (CompositionView, error)
	Save(ctx context.Context, ref SessionRef) (SaveCompositionResult, error)
	Preview(ctx context.Context, ref SessionRef) (*domain.Image, error)
	Close(ctx context.Context, ref SessionRef) error
	EvictIdle(now time.Time) int
	ActiveSessions() int
}

// StartCompositionCommand opens a composition session. With OutfitID set the
// session edits that outfit.
type StartCompositionCommand struct {
	UserID   string
	ItemIDs  []string
	OutfitID string
}

// SessionRef addresses a composition session on behalf of its owner.
type SessionRef struct {
	UserID    string
	SessionID string
}

// CompositionSaveState is the save workflow state of a draft.
type CompositionSaveState string

const (
	CompositionIdle       CompositionSaveState = "idle"
	CompositionCapturing  CompositionSaveState = "capturing"
	CompositionSubmitting CompositionSaveState = "submitting"
	CompositionDone       CompositionSaveState = "done"
	CompositionFailed     CompositionSaveState = "failed"
)

// CompositionView is a detached copy of a session.
type CompositionView struct {
	SessionID string
	Draft     OutfitDraft
	SaveState CompositionSaveState
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
	SavedAt   time.Time
}

// SaveCompositionResult is the outcome of a successful save.
type SaveCompositionResult struct {
	Outfit  PersistedOutfit
	Updated bool
	View    CompositionView
}

// CutoutService removes photo backgrounds.
type CutoutService interface {
	RemoveBackground(ctx context.Context, cmd CutoutCommand) (domain.Image, error)
}

// CutoutCommand carries an uploaded photo.
type CutoutCommand struct {
	UserID string
	Image  domain.Image
}

// SystemService aggregates utility endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// IndexSyncDispatcher pushes saved outfits to the AI index in the background.
type IndexSyncDispatcher interface {
	Dispatch(ctx context.Context, doc domain.IndexDocument, token string)
	Wait(ctx context.Context) error
}

// MetricsRecorder receives domain counters. *metrics.Metrics implements it.
type MetricsRecorder interface {
	RecordRecommendation(outcome string, upstream time.Duration)
	RecordSave(source string, success bool)
	RecordCapture(result string)
	RecordIndexSyncFailure(mode string)
	SetActiveCompositions(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordRecommendation(string, time.Duration) {}
func (noopMetrics) RecordSave(string, bool)                    {}
func (noopMetrics) RecordCapture(string)                       {}
func (noopMetrics) RecordIndexSyncFailure(string)              {}
func (noopMetrics) SetActiveCompositions(int)                  {}
