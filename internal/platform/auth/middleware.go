package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/httpx"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/requestctx"
)

const defaultVerifyTimeout = 5 * time.Second

// MetricsRecorder records verification outcomes for observability.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, success, reason, duration)
	}
}

// Authenticator verifies Keycloak-issued bearer tokens and stores the caller identity on the request.
type Authenticator struct {
	keys     *JWKSCache
	issuers  map[string]struct{}
	audience string
	clientID string

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
	timeout time.Duration

	// unverified skips signature verification. Local development only.
	unverified bool
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithIssuers restricts accepted tokens to the provided realm issuers.
func WithIssuers(issuers ...string) Option {
	return func(a *Authenticator) {
		for _, issuer := range issuers {
			issuer = strings.TrimRight(strings.TrimSpace(issuer), "/")
			if issuer != "" {
				a.issuers[issuer] = struct{}{}
			}
		}
	}
}

// WithAudience requires the token audience (or authorized party) to match.
func WithAudience(audience string) Option {
	return func(a *Authenticator) {
		a.audience = strings.TrimSpace(audience)
	}
}

// WithClientID selects which resource_access entry contributes client roles.
func WithClientID(clientID string) Option {
	return func(a *Authenticator) {
		a.clientID = strings.TrimSpace(clientID)
	}
}

// WithLogger overrides the authenticator logger.
func WithLogger(logger Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(a *Authenticator) {
		a.metrics = recorder
	}
}

// WithClock injects a custom clock.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithVerificationTimeout bounds key set lookups performed during verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithUnverifiedTokens accepts tokens without checking their signature.
func WithUnverifiedTokens() Option {
	return func(a *Authenticator) {
		a.unverified = true
	}
}

// NewAuthenticator constructs an Authenticator backed by the provided key cache.
// keys may be nil only when WithUnverifiedTokens is supplied.
func NewAuthenticator(keys *JWKSCache, opts ...Option) *Authenticator {
	a := &Authenticator{
		keys:    keys,
		issuers: make(map[string]struct{}),
		logger:  discardLogger{},
		now:     time.Now,
		timeout: defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireUser verifies the Authorization bearer token and, when roles are supplied,
// ensures the caller holds at least one of them.
func (a *Authenticator) RequireUser(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := a.now()
			ctx := r.Context()

			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				a.record(ctx, false, "token_missing", start)
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}

			identity, reason, err := a.verify(ctx, tokenStr)
			if err != nil {
				status := http.StatusUnauthorized
				code := "invalid_token"
				message := "access token verification failed"
				switch {
				case errors.Is(err, ErrJWKSFetchFailed):
					status = http.StatusServiceUnavailable
					code = "verification_unavailable"
					message = "identity provider unavailable"
				case reason == "token_expired":
					code = "token_expired"
					message = "access token expired"
				}
				a.logger.Printf("auth: bearer verification failed (%s): %v", reason, err)
				a.record(ctx, false, reason, start)
				respondAuthError(ctx, w, status, code, message)
				return
			}

			if len(allowedRoles) > 0 && !identity.HasAnyRole(allowedRoles...) {
				a.record(ctx, false, "insufficient_role", start)
				respondAuthError(ctx, w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			a.record(ctx, true, "ok", start)
			requestctx.Annotate(ctx, "user_id", identity.UserID)
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) verify(ctx context.Context, tokenStr string) (*Identity, string, error) {
	claims := jwt.MapClaims{}
	if a.unverified {
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
			return nil, "token_malformed", err
		}
		if exp, ok := claimTime(claims, "exp"); ok && !a.now().Before(exp) {
			return nil, "token_expired", errors.New("auth: token is expired")
		}
	} else {
		if a.keys == nil {
			return nil, "keys_unavailable", ErrJWKSFetchFailed
		}
		if a.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}
		parser := jwt.NewParser(jwt.WithValidMethods(a.keys.Algorithms()))
		if _, err := parser.ParseWithClaims(tokenStr, claims, a.keys.Keyfunc(ctx)); err != nil {
			var verr *jwt.ValidationError
			if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
				return nil, "token_expired", err
			}
			if errors.Is(err, ErrJWKSFetchFailed) {
				return nil, "jwks_unavailable", err
			}
			return nil, "token_invalid", err
		}
	}

	issuer := strings.TrimRight(claimAsString(claims, "iss"), "/")
	if len(a.issuers) > 0 {
		if _, ok := a.issuers[issuer]; !ok {
			return nil, "issuer_mismatch", errors.New("auth: issuer mismatch " + issuer)
		}
	}

	if a.audience != "" {
		audiences := audienceFromClaims(claims)
		if !containsString(audiences, a.audience) && claimAsString(claims, "azp") != a.audience {
			return nil, "audience_mismatch", errors.New("auth: audience mismatch")
		}
	}

	subject := claimAsString(claims, "sub")
	if subject == "" {
		return nil, "subject_missing", errors.New("auth: token missing subject")
	}

	identity := &Identity{
		UserID:      subject,
		Username:    claimAsString(claims, "preferred_username"),
		Email:       claimAsString(claims, "email"),
		Roles:       rolesFromClaims(claims, a.clientID),
		Issuer:      issuer,
		AccessToken: tokenStr,
	}
	if exp, ok := claimTime(claims, "exp"); ok {
		identity.ExpiresAt = exp
	}
	return identity, "ok", nil
}

func (a *Authenticator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if a == nil || a.metrics == nil {
		return
	}
	a.metrics.RecordVerification(ctx, success, reason, a.now().Sub(start))
}

// rolesFromClaims merges realm_access.roles with resource_access[clientID].roles.
func rolesFromClaims(claims jwt.MapClaims, clientID string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(values any) {
		list, ok := values.([]any)
		if !ok {
			return
		}
		for _, value := range list {
			role, ok := value.(string)
			if !ok {
				continue
			}
			role = strings.ToLower(strings.TrimSpace(role))
			if role == "" {
				continue
			}
			if _, exists := seen[role]; exists {
				continue
			}
			seen[role] = struct{}{}
			out = append(out, role)
		}
	}

	if realm, ok := claims["realm_access"].(map[string]any); ok {
		add(realm["roles"])
	}
	if clientID != "" {
		if resources, ok := claims["resource_access"].(map[string]any); ok {
			if client, ok := resources[clientID].(map[string]any); ok {
				add(client["roles"])
			}
		}
	}
	return out
}

func claimAsString(claims jwt.MapClaims, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func claimTime(claims jwt.MapClaims, key string) (time.Time, bool) {
	switch v := claims[key].(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(n, 0), true
	default:
		return time.Time{}, false
	}
}

func audienceFromClaims(claims jwt.MapClaims) []string {
	switch v := claims["aud"].(type) {
	case string:
		return []string{strings.TrimSpace(v)}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				continue
			}
			if str = strings.TrimSpace(str); str != "" {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`"`)
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
