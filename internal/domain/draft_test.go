package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draftItems() []WardrobeItem {
	return []WardrobeItem{
		{ID: "shirt", CategoryID: "c1", CategoryName: "Shirts", ImageURL: "http://img/shirt.png"},
		{ID: "jeans", CategoryID: "c2", CategoryName: "Jeans", ImageURL: "http://img/jeans.png"},
		{ID: "sneakers", CategoryID: "c3", CategoryName: "Sneakers", ImageURL: "http://img/sneakers.png"},
	}
}

func TestNewOutfitDraft(t *testing.T) {
	draft, err := NewOutfitDraft("d1", "user-1", draftItems(), CanvasSize{}, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"shirt", "jeans", "sneakers"}, draft.Layers.IDs())
	assert.Equal(t, "sneakers", draft.ActiveItemID)
	assert.Equal(t, "sneakers", draft.Placement.Active)
	assert.Len(t, draft.Placement.Items, 3)
}

func TestNewOutfitDraftRejectsInvalidSelections(t *testing.T) {
	_, err := NewOutfitDraft("d1", "user-1", nil, CanvasSize{}, 0)
	assert.ErrorIs(t, err, ErrDraftEmpty)

	items := draftItems()
	items = append(items, items[0])
	_, err = NewOutfitDraft("d1", "user-1", items, CanvasSize{}, 0)
	assert.ErrorIs(t, err, ErrDuplicateItem)
}

func TestOutfitDraftGesturesKeepActiveInSync(t *testing.T) {
	draft, err := NewOutfitDraft("d1", "user-1", draftItems(), CanvasSize{}, 0)
	require.NoError(t, err)

	draft.ApplyGesture(GestureEvent{Kind: GestureDragBegin, ItemID: "shirt"})
	assert.Equal(t, "shirt", draft.ActiveItemID)

	require.NoError(t, draft.SetActive(""))
	assert.Empty(t, draft.ActiveItemID)

	assert.ErrorIs(t, draft.SetActive("ghost"), ErrUnknownItem)
	require.NoError(t, draft.SetActive("jeans"))
	assert.Equal(t, "jeans", draft.Placement.Active)
}

func TestOutfitDraftMoveLayer(t *testing.T) {
	draft, err := NewOutfitDraft("d1", "user-1", draftItems(), CanvasSize{}, 0)
	require.NoError(t, err)

	changed, err := draft.MoveLayer("shirt", true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"jeans", "shirt", "sneakers"}, draft.Layers.IDs())

	_, err = draft.MoveLayer("ghost", true)
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestOutfitDraftTags(t *testing.T) {
	draft, err := NewOutfitDraft("d1", "user-1", draftItems(), CanvasSize{}, 0)
	require.NoError(t, err)

	draft.SetMetadata(OutfitMetadata{Title: "Weekend", Tags: []string{"Casual", "casual", " denim "}})
	assert.Equal(t, []string{"Casual", "denim"}, draft.Metadata.Tags)

	assert.False(t, draft.AddTag("CASUAL"))
	assert.True(t, draft.AddTag("street"))
	assert.True(t, draft.RemoveTag("DENIM"))
	assert.False(t, draft.RemoveTag("missing"))
	assert.Equal(t, []string{"Casual", "street"}, draft.Metadata.Tags)
}

func TestOutfitDraftSnapshotFollowsSelection(t *testing.T) {
	draft, err := NewOutfitDraft("d1", "user-1", draftItems(), CanvasSize{}, 0)
	require.NoError(t, err)

	full := draft.Snapshot()
	require.Len(t, full.Layers, 3)
	assert.Equal(t, "shirt", full.Layers[0].Item.ID)
	assert.Equal(t, "sneakers", full.ActiveItemID)

	require.NoError(t, draft.SetActive(""))
	clean := draft.Snapshot()
	require.Len(t, clean.Layers, 3)
	assert.Empty(t, clean.ActiveItemID)
}

func TestOutfitDraftSubmissionUsesLayerOrder(t *testing.T) {
	draft, err := NewOutfitDraft("d1", "user-1", draftItems(), CanvasSize{}, 0)
	require.NoError(t, err)
	draft.SetMetadata(OutfitMetadata{Title: "  Date night ", Description: " dinner ", Tags: []string{"a", "A"}})
	_, err = draft.MoveLayer("sneakers", false)
	require.NoError(t, err)

	sub := draft.Submission(nil)
	assert.Equal(t, "Date night", sub.Title)
	assert.Equal(t, "dinner", sub.Description)
	assert.Equal(t, []string{"a"}, sub.Tags)
	assert.Equal(t, []string{"shirt", "sneakers", "jeans"}, sub.WearableIDs)
}

func TestOutfitDraftCloneIsIndependent(t *testing.T) {
	draft, err := NewOutfitDraft("d1", "user-1", draftItems(), CanvasSize{}, 0)
	require.NoError(t, err)

	clone := draft.Clone()
	draft.Layers.MoveUp("shirt")
	draft.ApplyGesture(GestureEvent{Kind: GesturePinchUpdate, ItemID: "shirt", Scale: 2})

	assert.Equal(t, []string{"shirt", "jeans", "sneakers"}, clone.Layers.IDs())
	assert.Equal(t, 1.0, clone.Placement.Items["shirt"].Transform.Scale)
}
