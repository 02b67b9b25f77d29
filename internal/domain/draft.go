package domain

import (
	"errors"
	"strings"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/textutil"
)

var (
	// ErrDraftEmpty is returned when a draft would hold no items.
	ErrDraftEmpty = errors.New("draft: at least one item is required")
	// ErrDuplicateItem is returned when the same wardrobe item is selected twice.
	ErrDuplicateItem = errors.New("draft: duplicate item")
	// ErrUnknownItem is returned when an operation names an item outside the draft.
	ErrUnknownItem = errors.New("draft: unknown item")
)

// CanvasLayer is one drawable entry of a canvas snapshot.
type CanvasLayer struct {
	Item      WardrobeItem
	Transform Transform
}

// CanvasSnapshot is what a capturer rasterizes, layers listed back to front.
// ActiveItemID marks the item drawn with a selection outline.
type CanvasSnapshot struct {
	Canvas       CanvasSize
	ItemSize     float64
	ActiveItemID string
	Layers       []CanvasLayer
}

// OutfitDraft is the mutable state of an outfit being composed. Layers is
// always a permutation of the item ids and ActiveItemID is empty or one of them.
type OutfitDraft struct {
	ID           string
	OwnerID      string
	OutfitID     string
	Items        []WardrobeItem
	Layers       LayerOrder
	Placement    PlacementState
	ActiveItemID string
	Metadata     OutfitMetadata
}

// NewOutfitDraft starts a draft with items in selection order. The last
// selected item becomes active.
func NewOutfitDraft(id, ownerID string, items []WardrobeItem, canvas CanvasSize, itemSize float64) (*OutfitDraft, error) {
	if len(items) == 0 {
		return nil, ErrDraftEmpty
	}
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ID == "" {
			return nil, ErrUnknownItem
		}
		if _, ok := seen[item.ID]; ok {
			return nil, ErrDuplicateItem
		}
		seen[item.ID] = struct{}{}
		ids = append(ids, item.ID)
	}

	copied := make([]WardrobeItem, len(items))
	copy(copied, items)

	placement := NewPlacementState(ids, canvas, itemSize)
	active := ids[len(ids)-1]
	placement.Active = active

	return &OutfitDraft{
		ID:           id,
		OwnerID:      ownerID,
		Items:        copied,
		Layers:       NewLayerOrder(ids),
		Placement:    placement,
		ActiveItemID: active,
	}, nil
}

// Item looks up a draft member by id.
func (d *OutfitDraft) Item(id string) (WardrobeItem, bool) {
	for _, item := range d.Items {
		if item.ID == id {
			return item, true
		}
	}
	return WardrobeItem{}, false
}

// ApplyGesture routes ev through the placement reducer and keeps the active item in sync.
func (d *OutfitDraft) ApplyGesture(ev GestureEvent) {
	d.Placement = ReducePlacement(d.Placement, ev)
	d.ActiveItemID = d.Placement.Active
}

// MoveLayer moves id one step up (towards the front) or down.
func (d *OutfitDraft) MoveLayer(id string, up bool) (bool, error) {
	if !d.Layers.Contains(id) {
		return false, ErrUnknownItem
	}
	if up {
		return d.Layers.MoveUp(id), nil
	}
	return d.Layers.MoveDown(id), nil
}

// SetActive selects id, or clears the selection when id is empty.
func (d *OutfitDraft) SetActive(id string) error {
	if id == "" {
		d.ApplyGesture(GestureEvent{Kind: GestureDeselect})
		return nil
	}
	if _, ok := d.Item(id); !ok {
		return ErrUnknownItem
	}
	d.ApplyGesture(GestureEvent{Kind: GestureSelect, ItemID: id})
	return nil
}

// SetMetadata replaces the draft metadata. Tags are trimmed and deduplicated
// case-insensitively.
func (d *OutfitDraft) SetMetadata(meta OutfitMetadata) {
	d.Metadata = OutfitMetadata{
		Title:       meta.Title,
		Description: meta.Description,
		Tags:        textutil.DedupeFold(meta.Tags),
	}
}

// AddTag appends tag unless an equal tag, ignoring case, is already present.
func (d *OutfitDraft) AddTag(tag string) bool {
	before := len(d.Metadata.Tags)
	d.Metadata.Tags = textutil.DedupeFold(append(append([]string(nil), d.Metadata.Tags...), tag))
	return len(d.Metadata.Tags) != before
}

// RemoveTag drops every tag equal to tag ignoring case.
func (d *OutfitDraft) RemoveTag(tag string) bool {
	key := textutil.FoldKey(tag)
	kept := d.Metadata.Tags[:0:0]
	for _, existing := range d.Metadata.Tags {
		if textutil.FoldKey(existing) != key {
			kept = append(kept, existing)
		}
	}
	removed := len(kept) != len(d.Metadata.Tags)
	if len(kept) == 0 {
		kept = nil
	}
	d.Metadata.Tags = kept
	return removed
}

// Snapshot lists the drawable layers back to front together with the current
// selection. Deactivate the draft first to get a capture without selection chrome.
func (d *OutfitDraft) Snapshot() CanvasSnapshot {
	snapshot := CanvasSnapshot{
		Canvas:       d.Placement.Canvas,
		ItemSize:     d.Placement.ItemSize,
		ActiveItemID: d.ActiveItemID,
		Layers:       make([]CanvasLayer, 0, d.Layers.Len()),
	}
	for _, id := range d.Layers.IDs() {
		item, ok := d.Item(id)
		if !ok {
			continue
		}
		snapshot.Layers = append(snapshot.Layers, CanvasLayer{
			Item:      item,
			Transform: d.Placement.Items[id].Transform,
		})
	}
	return snapshot
}

// Submission builds the persistence payload. The layer order is the canonical item list.
func (d *OutfitDraft) Submission(image *Image) OutfitSubmission {
	return OutfitSubmission{
		OutfitID:    d.OutfitID,
		Title:       strings.TrimSpace(d.Metadata.Title),
		Description: strings.TrimSpace(d.Metadata.Description),
		Tags:        textutil.DedupeFold(d.Metadata.Tags),
		WearableIDs: d.Layers.IDs(),
		Image:       image,
	}
}

// Clone returns a deep copy safe to hand out of a session lock.
func (d *OutfitDraft) Clone() OutfitDraft {
	out := *d
	out.Items = append([]WardrobeItem(nil), d.Items...)
	out.Layers = NewLayerOrder(d.Layers.IDs())
	out.Placement = d.Placement.Clone()
	out.Metadata.Tags = append([]string(nil), d.Metadata.Tags...)
	return out
}
