package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	folder = cases.Fold()
	titler = cases.Title(language.English)
)

// FoldKey returns the case-insensitive comparison key for a tag or label.
func FoldKey(value string) string {
	return folder.String(strings.TrimSpace(value))
}

// DedupeFold trims values, drops empty ones and removes case-insensitive
// duplicates while keeping the first spelling seen.
func DedupeFold(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		key := folder.String(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// MergeLower appends incoming tags to existing ones. Incoming tags are
// lower-cased; existing tags keep their spelling.
func MergeLower(existing, incoming []string) []string {
	merged := make([]string, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	for _, tag := range incoming {
		merged = append(merged, strings.ToLower(strings.TrimSpace(tag)))
	}
	return DedupeFold(merged)
}

// TitleCase capitalises every word of value using English casing rules.
func TitleCase(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return titler.String(value)
}

// Truncate cuts value to at most limit runes. Longer values are cut to
// limit-1 runes, right trimmed and terminated with a period.
func Truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	cut := strings.TrimRight(string(runes[:limit-1]), " \t\n")
	return cut + "."
}

// SplitCSV splits a comma separated list, trimming entries and dropping empties.
func SplitCSV(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
