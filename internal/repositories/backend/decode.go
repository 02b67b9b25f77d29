package backend

import (
	"time"

	"github.com/tidwall/gjson"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
)

func (c *Client) decodeWardrobeItem(value gjson.Result) domain.WardrobeItem {
	item := domain.WardrobeItem{
		ID:           value.Get("id").String(),
		UserID:       value.Get("userId").String(),
		Title:        value.Get("title").String(),
		Description:  value.Get("description").String(),
		CategoryID:   value.Get("categoryId").String(),
		CategoryName: value.Get("categoryName").String(),
		Tags:         stringArray(value.Get("tags")),
		ImageKey:     value.Get("cutoutImageKey").String(),
		CreatedAt:    parseTime(value.Get("createdAt")),
		UpdatedAt:    parseTime(value.Get("updatedAt")),
	}
	if item.CategoryName == "" {
		if category := value.Get("category"); category.Type == gjson.String {
			item.CategoryName = category.String()
		} else if category.IsObject() {
			item.CategoryName = category.Get("name").String()
			if item.CategoryID == "" {
				item.CategoryID = category.Get("id").String()
			}
		}
	}
	item.ImageURL = c.ResolveImageURL(value.Get("cutoutImageUrl").String())
	return item
}

func (c *Client) decodeOutfit(value gjson.Result) domain.PersistedOutfit {
	outfit := domain.PersistedOutfit{
		ID:          value.Get("id").String(),
		UserID:      value.Get("userId").String(),
		Title:       value.Get("title").String(),
		Description: value.Get("description").String(),
		Tags:        stringArray(value.Get("tags")),
		ImageKey:    value.Get("imageKey").String(),
		ImageURL:    c.ResolveImageURL(value.Get("imageUrl").String()),
		CreatedAt:   parseTime(value.Get("createdAt")),
		UpdatedAt:   parseTime(value.Get("updatedAt")),
	}
	for _, wearable := range value.Get("wearables").Array() {
		outfit.Items = append(outfit.Items, c.decodeWardrobeItem(wearable))
	}
	return outfit
}

// listRoot returns the array at the root of body or under one of the wrapper keys.
func listRoot(body []byte, keys ...string) gjson.Result {
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return root
	}
	for _, key := range keys {
		if value := root.Get(key); value.IsArray() {
			return value
		}
	}
	return gjson.Result{}
}

func stringArray(value gjson.Result) []string {
	if !value.IsArray() {
		return nil
	}
	var out []string
	value.ForEach(func(_, item gjson.Result) bool {
		if s := item.String(); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

func parseTime(value gjson.Result) time.Time {
	raw := value.String()
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
