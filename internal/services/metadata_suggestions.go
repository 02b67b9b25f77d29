package services

import (
	"fmt"
	"strings"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/textutil"
)

const (
	defaultOutfitName       = "My Outfit"
	maxSuggestedNameLength  = 40
	maxSuggestedDescription = 200
)

// OutfitSuggestionInput describes the outfit metadata is suggested for.
type OutfitSuggestionInput struct {
	Tags       []string
	ItemTitles []string
	ItemCount  int
}

// MetadataSuggestion is a proposed outfit name and description.
type MetadataSuggestion struct {
	Name        string
	Description string
}

// SuggestOutfitMetadata proposes a name and description. The name comes from
// the first tag, then the first item title, then a fixed default.
func SuggestOutfitMetadata(input OutfitSuggestionInput) MetadataSuggestion {
	tags := normalizeSuggestionTags(input.Tags)
	count := input.ItemCount
	if count < 0 {
		count = 0
	}

	var name string
	switch {
	case len(tags) > 0:
		name = tags[0] + " Outfit"
	default:
		name = defaultOutfitName
		for _, title := range input.ItemTitles {
			if cased := titleWords(title); cased != "" {
				name = cased + " Look"
				break
			}
		}
	}
	name = textutil.Truncate(name, maxSuggestedNameLength)

	noun := "items"
	if count == 1 {
		noun = "item"
	}
	description := fmt.Sprintf("Outfit built from %d selected %s.", count, noun)
	if phrase := tagPhrase(tags); phrase != "" {
		description = fmt.Sprintf("%s look built from %d selected %s.", phrase, count, noun)
	}

	if name == "" {
		name = defaultOutfitName
	}
	return MetadataSuggestion{
		Name:        name,
		Description: textutil.Truncate(description, maxSuggestedDescription),
	}
}

// applySuggestion fills empty fields of meta, or all fields when force is set.
func applySuggestion(meta OutfitMetadata, suggestion MetadataSuggestion, force bool) OutfitMetadata {
	if force || strings.TrimSpace(meta.Title) == "" {
		meta.Title = suggestion.Name
	}
	if force || strings.TrimSpace(meta.Description) == "" {
		meta.Description = suggestion.Description
	}
	return meta
}

func normalizeSuggestionTags(tags []string) []string {
	cased := make([]string, 0, len(tags))
	for _, tag := range tags {
		if value := titleWords(tag); value != "" {
			cased = append(cased, value)
		}
	}
	return textutil.DedupeFold(cased)
}

func titleWords(value string) string {
	return textutil.TitleCase(strings.Join(strings.Fields(value), " "))
}

func tagPhrase(tags []string) string {
	switch len(tags) {
	case 0:
		return ""
	case 1:
		return tags[0]
	case 2:
		return tags[0] + " and " + tags[1]
	default:
		return tags[0] + ", " + tags[1] + " and " + tags[2]
	}
}
