// Package pagination parses list query parameters of the form
//
//	?pageSize=20&pageToken=...&filter=bucket!=footwear&filter=tags array-contains summer
//
// and slices ordered in-memory listings into pages.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultPageSize applies when the request omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps pageSize when Options leaves it unset.
	DefaultMaxPageSize = 200

	maxFilterValueRunes = 256
)

// Operator is a filter comparison accepted in the filter parameter.
type Operator string

const (
	OperatorEqual         Operator = "=="
	OperatorNotEqual      Operator = "!="
	OperatorArrayContains Operator = "array-contains"
)

// Longer and more specific operators are matched first so "!=" never reads as "=".
var operators = []Operator{OperatorArrayContains, OperatorNotEqual, OperatorEqual}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Filter is one parsed predicate.
type Filter struct {
	Field string
	Op    Operator
	Value string
}

// Params is a parsed list request.
type Params struct {
	PageSize int
	Cursor   Cursor
	Filters  []Filter
}

// Options describe what a list endpoint accepts. Filters maps a field to the
// operators allowed on it; fields missing from the map are rejected.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	Filters         map[string][]Operator
}

// FromRequest parses the query string of r.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	return Parse(r.URL.Query(), opts)
}

// Parse validates values against opts. A page token is only accepted together
// with the filters it was issued for.
func Parse(values url.Values, opts Options) (Params, error) {
	size, err := pageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: size}

	for _, raw := range values["filter"] {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		filter, err := parseFilter(raw, opts.Filters)
		if err != nil {
			return Params{}, err
		}
		params.Filters = append(params.Filters, filter)
	}

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		if cursor.Scope != params.scope() {
			return Params{}, fmt.Errorf("%w: token was issued for different filters", ErrInvalidPageToken)
		}
		params.Cursor = cursor
	}
	return params, nil
}

// Window returns the [start, end) bounds of this page over total items and the
// token of the following page, empty on the last page.
func (p Params) Window(total int) (start, end int, next string) {
	size := p.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	start = min(max(p.Cursor.Offset, 0), total)
	end = start + size
	if end >= total {
		return start, total, ""
	}
	return start, end, EncodeToken(Cursor{Offset: end, Scope: p.scope()})
}

func pageSize(raw string, opts Options) (int, error) {
	limit := opts.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if opts.DefaultPageSize > 0 {
			return min(opts.DefaultPageSize, limit), nil
		}
		return min(DefaultPageSize, limit), nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidPageSize, raw)
	case n <= 0:
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidPageSize)
	}
	return min(n, limit), nil
}

func parseFilter(raw string, allowed map[string][]Operator) (Filter, error) {
	raw = strings.TrimSpace(raw)
	for _, op := range operators {
		field, value, found := strings.Cut(raw, string(op))
		if !found {
			continue
		}
		field = strings.TrimSpace(field)
		value = cleanFilterValue(value)
		if field == "" || value == "" {
			return Filter{}, fmt.Errorf("%w: %q needs a field and a value", ErrInvalidFilter, raw)
		}
		ops, ok := allowed[field]
		if !ok {
			return Filter{}, fmt.Errorf("%w: field %q is not filterable", ErrInvalidFilter, field)
		}
		for _, candidate := range ops {
			if candidate == op {
				return Filter{Field: field, Op: op, Value: value}, nil
			}
		}
		return Filter{}, fmt.Errorf("%w: operator %q is not allowed on %q", ErrInvalidFilter, op, field)
	}
	return Filter{}, fmt.Errorf("%w: no operator in %q", ErrInvalidFilter, raw)
}

func cleanFilterValue(value string) string {
	value = strings.Trim(strings.TrimSpace(value), `"'`)
	value = strings.Join(strings.Fields(value), " ")
	if utf8.RuneCountInString(value) > maxFilterValueRunes {
		value = string([]rune(value)[:maxFilterValueRunes])
	}
	return value
}
