package services

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// sanitizeText strips markup from user supplied text and trims it.
func sanitizeText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(plainTextPolicy.Sanitize(value)))
}

func sanitizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if cleaned := sanitizeText(tag); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

func sanitizeMetadata(meta OutfitMetadata) OutfitMetadata {
	return OutfitMetadata{
		Title:       sanitizeText(meta.Title),
		Description: sanitizeText(meta.Description),
		Tags:        sanitizeTags(meta.Tags),
	}
}
