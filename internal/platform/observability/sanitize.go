package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultStringLimit = 256
	routeLimit         = 180
	methodLimit        = 10
	annotationLimit    = 128
)

// sanitizeString drops control characters, line breaks included, and cuts the
// result to at most limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if utf8.RuneCountInString(cleaned) <= limit {
		return cleaned
	}
	runes := []rune(cleaned)
	return string(runes[:limit])
}

// SanitizeRoute cleans a route pattern for logging. Empty routes log as "/".
func SanitizeRoute(route string) string {
	route = sanitizeString(route, routeLimit)
	if route == "" {
		return "/"
	}
	return route
}

// SanitizeMethod cleans and upper-cases an HTTP method.
func SanitizeMethod(method string) string {
	return strings.ToUpper(sanitizeString(method, methodLimit))
}
