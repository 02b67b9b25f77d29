package handlers

import (
	"time"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

type wardrobeItemPayload struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	CategoryID   string   `json:"categoryId,omitempty"`
	CategoryName string   `json:"categoryName,omitempty"`
	Bucket       string   `json:"bucket"`
	Tags         []string `json:"tags"`
	ImageURL     string   `json:"imageUrl,omitempty"`
	Ready        bool     `json:"ready"`
}

type transformPayload struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

type placedItemPayload struct {
	wardrobeItemPayload
	Transform transformPayload `json:"transform"`
	Active    bool             `json:"active"`
}

type metadataPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type compositionPayload struct {
	SessionID    string              `json:"sessionId"`
	OutfitID     string              `json:"outfitId,omitempty"`
	SaveState    string              `json:"saveState"`
	LastError    string              `json:"lastError,omitempty"`
	Canvas       domain.CanvasSize   `json:"canvas"`
	ItemSize     float64             `json:"itemSize"`
	ActiveItemID string              `json:"activeItemId,omitempty"`
	Layers       []string            `json:"layers"`
	Items        []placedItemPayload `json:"items"`
	Metadata     metadataPayload     `json:"metadata"`
	CreatedAt    string              `json:"createdAt"`
	UpdatedAt    string              `json:"updatedAt"`
	SavedAt      string              `json:"savedAt,omitempty"`
}

type suggestedOutfitPayload struct {
	ID        string                `json:"id"`
	Items     []wardrobeItemPayload `json:"items"`
	SaveState string                `json:"saveState"`
}

type boardPayload struct {
	Generation  uint64                   `json:"generation"`
	Generating  bool                     `json:"generating"`
	Outfits     []suggestedOutfitPayload `json:"outfits"`
	Warnings    []string                 `json:"warnings"`
	Error       string                   `json:"error,omitempty"`
	ErrorReason string                   `json:"errorReason,omitempty"`
	UpdatedAt   string                   `json:"updatedAt,omitempty"`
}

type persistedOutfitPayload struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	ItemIDs     []string `json:"itemIds"`
}

func buildWardrobeItemPayload(item domain.WardrobeItem) wardrobeItemPayload {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	return wardrobeItemPayload{
		ID:           item.ID,
		Title:        item.Title,
		Description:  item.Description,
		CategoryID:   item.CategoryID,
		CategoryName: item.CategoryName,
		Bucket:       string(item.Bucket()),
		Tags:         tags,
		ImageURL:     item.ImageURL,
		Ready:        item.IsCategorized() && item.HasImage(),
	}
}

func buildCompositionPayload(view services.CompositionView) compositionPayload {
	draft := view.Draft
	layers := draft.Layers.IDs()
	items := make([]placedItemPayload, 0, len(layers))
	for _, id := range layers {
		item, ok := draft.Item(id)
		if !ok {
			continue
		}
		transform := draft.Placement.Items[id].Transform
		items = append(items, placedItemPayload{
			wardrobeItemPayload: buildWardrobeItemPayload(item),
			Transform:           transformPayload{X: transform.X, Y: transform.Y, Scale: transform.Scale},
			Active:              id == draft.ActiveItemID,
		})
	}
	tags := draft.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}
	return compositionPayload{
		SessionID:    view.SessionID,
		OutfitID:     draft.OutfitID,
		SaveState:    string(view.SaveState),
		LastError:    view.LastError,
		Canvas:       draft.Placement.Canvas,
		ItemSize:     draft.Placement.ItemSize,
		ActiveItemID: draft.ActiveItemID,
		Layers:       layers,
		Items:        items,
		Metadata: metadataPayload{
			Title:       draft.Metadata.Title,
			Description: draft.Metadata.Description,
			Tags:        tags,
		},
		CreatedAt: formatTime(view.CreatedAt),
		UpdatedAt: formatTime(view.UpdatedAt),
		SavedAt:   formatTime(view.SavedAt),
	}
}

func buildBoardPayload(board services.RecommendationBoard) boardPayload {
	outfits := make([]suggestedOutfitPayload, 0, len(board.Outfits))
	for _, outfit := range board.Outfits {
		items := make([]wardrobeItemPayload, 0, len(outfit.Items))
		for _, item := range outfit.Items {
			items = append(items, buildWardrobeItemPayload(item))
		}
		state := board.SaveStates[outfit.ID]
		if state == "" {
			state = domain.SaveStateUnsaved
		}
		outfits = append(outfits, suggestedOutfitPayload{ID: outfit.ID, Items: items, SaveState: string(state)})
	}
	warnings := board.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return boardPayload{
		Generation:  board.Generation,
		Generating:  board.Generating,
		Outfits:     outfits,
		Warnings:    warnings,
		Error:       board.Error,
		ErrorReason: board.ErrorReason,
		UpdatedAt:   formatTime(board.UpdatedAt),
	}
}

func buildPersistedOutfitPayload(outfit domain.PersistedOutfit, itemIDs []string) persistedOutfitPayload {
	if len(outfit.Items) > 0 {
		itemIDs = make([]string, len(outfit.Items))
		for i, item := range outfit.Items {
			itemIDs[i] = item.ID
		}
	}
	if itemIDs == nil {
		itemIDs = []string{}
	}
	tags := outfit.Tags
	if tags == nil {
		tags = []string{}
	}
	return persistedOutfitPayload{
		ID:          outfit.ID,
		Title:       outfit.Title,
		Description: outfit.Description,
		Tags:        tags,
		ImageURL:    outfit.ImageURL,
		ItemIDs:     itemIDs,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
