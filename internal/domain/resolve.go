package domain

import "strconv"

// ResolveOutfits maps remote item references onto known wardrobe items.
// Unknown references are dropped, remote order is kept and outfits left with
// no items are omitted. Outfits without an id get "outfit-<n>", n being the
// 1-based position in the remote list.
func ResolveOutfits(remote []RemoteOutfit, wardrobe []WardrobeItem) []ResolvedOutfit {
	byID := make(map[string]WardrobeItem, len(wardrobe))
	for _, item := range wardrobe {
		byID[item.ID] = item
	}

	resolved := make([]ResolvedOutfit, 0, len(remote))
	for i, outfit := range remote {
		items := make([]WardrobeItem, 0, len(outfit.ItemRefs))
		for _, ref := range outfit.ItemRefs {
			if item, ok := byID[ref]; ok {
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			continue
		}
		id := outfit.ID
		if id == "" {
			id = "outfit-" + strconv.Itoa(i+1)
		}
		resolved = append(resolved, ResolvedOutfit{ID: id, Items: items})
	}
	return resolved
}
