package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

var (
	// ErrValidation marks local validation failures detected before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrAuth marks missing or expired credentials. It is never retried.
	ErrAuth = errors.New("not authenticated")
	// ErrTimeout indicates a bounded upstream call exceeded its deadline.
	ErrTimeout = errors.New("request timed out, please try again")
	// ErrResolution marks recommendations that could not be mapped onto the wardrobe.
	ErrResolution = errors.New("recommendation: resolution failed")
	// ErrUpstream marks transport or HTTP failures of a collaborator.
	ErrUpstream = errors.New("upstream request failed")

	// ErrSuperseded is returned to a generation whose result arrived after a newer one started.
	ErrSuperseded = errors.New("recommendation: superseded by a newer request")
	// ErrSessionNotFound indicates the composition session does not exist or belongs to another user.
	ErrSessionNotFound = errors.New("composition: session not found")
	// ErrSaveInProgress rejects a save while another save of the same draft is running.
	ErrSaveInProgress = errors.New("composition: save already in progress")
	// ErrNothingToCapture indicates the canvas rendered no image.
	ErrNothingToCapture = errors.New("composition: nothing to capture")
	// ErrOutfitNotFound indicates the referenced outfit is unknown.
	ErrOutfitNotFound = errors.New("outfit not found")
	// ErrInvalidInput indicates a malformed command.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	imageFetchHint = "Could not download wardrobe images. Check that the image host is reachable from the studio service."
	cutoutHint     = "Network request failed. Is the rembg service running and reachable?"
)

var authErrorPatterns = []string{
	"keycloak access token",
	"not authenticated",
	"(401)",
	"unauthorized",
	"token expired",
	"token not found",
	"invalid_grant",
	"session expired",
}

// ValidationError reports a rule violation detected locally.
type ValidationError struct {
	Reason         string
	Message        string
	MissingBuckets []string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return ErrValidation.Error()
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func newValidationError(reason, message string) *ValidationError {
	return &ValidationError{Reason: reason, Message: message}
}

// AuthError wraps a token acquisition or verification failure.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e == nil || e.Err == nil {
		return ErrAuth.Error()
	}
	return ErrAuth.Error() + ": " + e.Err.Error()
}

// Is matches ErrAuth.
func (e *AuthError) Is(target error) bool { return target == ErrAuth }

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ResolutionKind distinguishes an empty recommendation from one that matched nothing locally.
type ResolutionKind string

const (
	ResolutionEmpty     ResolutionKind = "empty"
	ResolutionUnmatched ResolutionKind = "unmatched"
)

// ResolutionError reports that no recommended outfit could be shown.
type ResolutionError struct {
	Kind ResolutionKind
}

func (e *ResolutionError) Error() string {
	if e != nil && e.Kind == ResolutionUnmatched {
		return "Outfits were generated, but matching wardrobe items could not be resolved."
	}
	return "No outfit recommendations were returned."
}

// Is matches ErrResolution.
func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }

// UpstreamError is a classified collaborator failure. Message is the
// collaborator's own message; Hint, when set, replaces it for display.
type UpstreamError struct {
	Op      string
	Status  int
	Message string
	Hint    string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return ""
	}
	if e.Hint != "" {
		return e.Hint
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Op + ": " + ErrUpstream.Error()
}

// Is matches ErrUpstream.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ClassifyFailure maps a collaborator error onto the service taxonomy. Errors
// that are already classified pass through unchanged.
func ClassifyFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		validation *ValidationError
		authErr    *AuthError
		resolution *ResolutionError
		upstream   *UpstreamError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &authErr), errors.As(err, &resolution), errors.As(err, &upstream):
		return err
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrSuperseded), errors.Is(err, context.Canceled):
		return err
	case isTimeout(err):
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	case IsAuthFailure(err):
		return &AuthError{Err: err}
	}

	classified := &UpstreamError{Op: op, Message: err.Error(), Err: err}
	var status repositories.StatusError
	if errors.As(err, &status) {
		classified.Status = status.StatusCode()
	}
	var fetchErr *repositories.ImageFetchError
	if errors.As(err, &fetchErr) || isHostResolutionFailure(err) {
		classified.Hint = imageFetchHint
	}
	return classified
}

// IsAuthFailure reports whether err means the caller must sign in again.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return true
	}
	var status repositories.StatusError
	if errors.As(err, &status) && status.StatusCode() == http.StatusUnauthorized {
		return true
	}
	lowered := strings.ToLower(err.Error())
	for _, pattern := range authErrorPatterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isHostResolutionFailure(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTransportFailure(err error) bool {
	var status repositories.StatusError
	if errors.As(err, &status) && status.StatusCode() > 0 {
		return false
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) || isHostResolutionFailure(err) || strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
