package auth

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Realm roles the studio checks for.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is the caller behind a verified Keycloak access token. Roles hold
// lower-cased realm roles followed by roles of the configured client.
type Identity struct {
	UserID   string
	Username string
	Email    string
	Roles    []string
	Issuer   string

	// AccessToken is forwarded to the wardrobe backend on the caller's behalf.
	AccessToken string
	ExpiresAt   time.Time
}

// HasRole matches role case-insensitively.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.ToLower(strings.TrimSpace(role))
	return role != "" && slices.Contains(i.Roles, role)
}

// HasAnyRole reports whether any of roles is held.
func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// Expired reports whether the token is no longer valid at now. Tokens without
// an exp claim never expire here.
func (i *Identity) Expired(now time.Time) bool {
	switch {
	case i == nil:
		return true
	case i.ExpiresAt.IsZero():
		return false
	default:
		return !now.Before(i.ExpiresAt)
	}
}

type identityKey struct{}

// WithIdentity stores identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by the authenticator.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}
