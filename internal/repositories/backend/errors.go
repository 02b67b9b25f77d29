package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

var (
	// ErrInvalidWearableID is returned before any network call when an outfit references a malformed id.
	ErrInvalidWearableID = errors.New("backend: invalid wearable id")
	// ErrTitleRequired is returned when an outfit submission has no title.
	ErrTitleRequired = errors.New("backend: title is required")
	// ErrWearableIDsRequired is returned when an outfit submission lists no items.
	ErrWearableIDsRequired = errors.New("backend: wearableIds is required")
	// ErrImageTooLarge is returned when a downloaded image exceeds the configured limit.
	ErrImageTooLarge = errors.New("backend: image exceeds size limit")
	// ErrInvalidImageURL is returned when an item image cannot be resolved to an absolute URL.
	ErrInvalidImageURL = errors.New("backend: invalid image url")
)

// Error implements repositories.RepositoryError and repositories.StatusError for HTTP collaborators.
type Error struct {
	op     string
	status int
	body   string
	err    error
}

var (
	_ repositories.RepositoryError = (*Error)(nil)
	_ repositories.StatusError     = (*Error)(nil)
)

// Error renders "<op> (<status>): <body>" for HTTP failures and "<op>: <cause>" for transport failures.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.op, e.status, e.body)
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.op
}

// Unwrap returns the transport error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// StatusCode returns the HTTP status, or 0 for transport failures.
func (e *Error) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.status
}

// Body returns the raw response body.
func (e *Error) Body() string {
	if e == nil {
		return ""
	}
	return e.body
}

// Message extracts a human readable message from a JSON error body, falling back to the raw body.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	if gjson.Valid(e.body) {
		for _, path := range []string{"message", "error_description", "detail", "error", "title"} {
			if value := gjson.Get(e.body, path); value.Type == gjson.String && value.String() != "" {
				return value.String()
			}
		}
	}
	return strings.TrimSpace(e.body)
}

// IsNotFound reports whether the collaborator answered 404.
func (e *Error) IsNotFound() bool {
	return e != nil && e.status == http.StatusNotFound
}

// IsConflict reports whether the collaborator rejected the write as conflicting.
func (e *Error) IsConflict() bool {
	return e != nil && (e.status == http.StatusConflict || e.status == http.StatusPreconditionFailed)
}

// IsUnavailable reports whether the failure is transient.
func (e *Error) IsUnavailable() bool {
	if e == nil {
		return false
	}
	if e.status == 0 {
		return e.err != nil
	}
	return e.status == http.StatusTooManyRequests || e.status >= http.StatusInternalServerError
}

// IsUnauthorized reports whether the collaborator rejected the caller's token.
func (e *Error) IsUnauthorized() bool {
	return e != nil && (e.status == http.StatusUnauthorized || e.status == http.StatusForbidden)
}

func statusError(op string, status int, body []byte) *Error {
	return &Error{op: op, status: status, body: strings.TrimSpace(string(body))}
}

// wrapTransport annotates transport failures. Context errors pass through untouched.
func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var backendErr *Error
	if errors.As(err, &backendErr) {
		return backendErr
	}
	return &Error{op: op, err: err}
}
