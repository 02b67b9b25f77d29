package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTokenNotFound indicates no access token is bound to the request.
	ErrTokenNotFound = errors.New("auth: keycloak access token not found")
	// ErrTokenExpired indicates the bound access token has expired.
	ErrTokenExpired = errors.New("auth: keycloak access token expired")
	// ErrIdentityMismatch indicates a token was requested for a different user than the caller.
	ErrIdentityMismatch = errors.New("auth: not authenticated as requested user")
)

// RequestTokenSource hands out the caller's own bearer token for upstream calls.
// The token is never refreshed here; an expired token surfaces as ErrTokenExpired.
type RequestTokenSource struct {
	now  func() time.Time
	skew time.Duration
}

// NewRequestTokenSource builds a token source that treats tokens expiring within skew as expired.
func NewRequestTokenSource(skew time.Duration, now func() time.Time) RequestTokenSource {
	if now == nil {
		now = time.Now
	}
	if skew < 0 {
		skew = 0
	}
	return RequestTokenSource{now: now, skew: skew}
}

// AccessToken returns the bearer token of the identity on ctx when it belongs to userID.
func (s RequestTokenSource) AccessToken(ctx context.Context, userID string) (string, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.AccessToken == "" {
		return "", ErrTokenNotFound
	}
	if userID != "" && identity.UserID != userID {
		return "", ErrIdentityMismatch
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	if identity.Expired(now().Add(s.skew)) {
		return "", ErrTokenExpired
	}
	return identity.AccessToken, nil
}
