package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrJWKSKeyNotFound is returned when no realm key carries the token's kid.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport and decoding failures of the realm certs endpoint.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// Logger is the printf-style sink used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

const (
	defaultKeyTTL         = 15 * time.Minute
	defaultFetchTimeout   = 5 * time.Second
	defaultUnknownKIDWait = 30 * time.Second
)

// keySnapshot is one immutable download of the realm key set.
type keySnapshot struct {
	keys      map[string]any
	fetchedAt time.Time
	expiresAt time.Time
}

func (s *keySnapshot) stale(now time.Time) bool {
	return s == nil || !now.Before(s.expiresAt)
}

// warm reports whether the snapshot passed half its lifetime.
func (s *keySnapshot) warm(now time.Time) bool {
	return s != nil && !now.Before(s.fetchedAt.Add(s.expiresAt.Sub(s.fetchedAt)/2))
}

// JWKSCache serves Keycloak realm signing keys. Downloads are shared between
// concurrent callers, and an unknown kid triggers at most one forced download
// per unknownKIDWait.
type JWKSCache struct {
	url    string
	client *http.Client
	logger Logger
	now    func() time.Time

	ttl            time.Duration
	fetchTimeout   time.Duration
	unknownKIDWait time.Duration
	algorithms     []string
	background     bool

	current    atomic.Pointer[keySnapshot]
	downloads  singleflight.Group
	warming    atomic.Bool
	forcedMu   sync.Mutex
	lastForced time.Time
}

// JWKSOption configures a JWKSCache.
type JWKSOption func(*JWKSCache)

// NewJWKSCache serves keys from url, usually <issuer>/protocol/openid-connect/certs.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:            strings.TrimSpace(url),
		client:         &http.Client{Timeout: 10 * time.Second},
		logger:         discardLogger{},
		now:            time.Now,
		ttl:            defaultKeyTTL,
		fetchTimeout:   defaultFetchTimeout,
		unknownKIDWait: defaultUnknownKIDWait,
		algorithms:     []string{jwt.SigningMethodRS256.Alg()},
		background:     true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// WithJWKSHTTPClient replaces the HTTP client.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSRefreshInterval sets the key lifetime used when the response has no max-age.
func WithJWKSRefreshInterval(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithJWKSRefreshTimeout bounds a single download.
func WithJWKSRefreshTimeout(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithJWKSUnknownKIDWait sets the minimum gap between downloads forced by unknown kids.
func WithJWKSUnknownKIDWait(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d >= 0 {
			c.unknownKIDWait = d
		}
	}
}

// WithJWKSAlgorithms replaces the accepted signing algorithms. RS256 by default.
func WithJWKSAlgorithms(algs ...string) JWKSOption {
	return func(c *JWKSCache) {
		var accepted []string
		for _, alg := range algs {
			if alg = strings.ToUpper(strings.TrimSpace(alg)); alg != "" && !slices.Contains(accepted, alg) {
				accepted = append(accepted, alg)
			}
		}
		if len(accepted) > 0 {
			c.algorithms = accepted
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithoutJWKSBackgroundRefresh turns off early refreshes of warm key sets.
func WithoutJWKSBackgroundRefresh() JWKSOption {
	return func(c *JWKSCache) {
		c.background = false
	}
}

// Algorithms lists the accepted signing algorithms.
func (c *JWKSCache) Algorithms() []string {
	return slices.Clone(c.algorithms)
}

// Keyfunc adapts the cache to jwt.Parser.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	if ctx == nil {
		ctx = context.Background()
	}
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || !slices.Contains(c.algorithms, token.Method.Alg()) {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := c.now()

	snap := c.current.Load()
	if snap.stale(now) {
		var err error
		if snap, err = c.download(ctx); err != nil {
			return nil, err
		}
	} else if c.background && snap.warm(now) {
		c.refreshInBackground()
	}
	if key, ok := snap.keys[kid]; ok {
		return key, nil
	}

	// Realm keys rotate without notice.
	if !c.allowForced(now) {
		return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
	}
	snap, err := c.download(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := snap.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

// Check loads the key set when none is fresh. Readiness uses it.
func (c *JWKSCache) Check(ctx context.Context) error {
	if !c.current.Load().stale(c.now()) {
		return nil
	}
	_, err := c.download(ctx)
	return err
}

func (c *JWKSCache) allowForced(now time.Time) bool {
	c.forcedMu.Lock()
	defer c.forcedMu.Unlock()
	if !c.lastForced.IsZero() && now.Sub(c.lastForced) < c.unknownKIDWait {
		return false
	}
	c.lastForced = now
	return true
}

func (c *JWKSCache) refreshInBackground() {
	if !c.warming.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.warming.Store(false)
		if _, err := c.download(context.Background()); err != nil {
			c.logger.Printf("auth: background jwks refresh failed: %v", err)
		}
	}()
}

// download fetches the key set once for all concurrent callers.
func (c *JWKSCache) download(ctx context.Context) (*keySnapshot, error) {
	v, err, _ := c.downloads.Do("jwks", func() (any, error) {
		snap, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.current.Store(snap)
		c.logger.Printf("auth: loaded %d jwks keys, valid until %s", len(snap.keys), snap.expiresAt.Format(time.RFC3339))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySnapshot), nil
}

func (c *JWKSCache) fetch(ctx context.Context) (*keySnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := signingKeys(set)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no signing keys", ErrJWKSFetchFailed)
	}

	ttl := c.ttl
	if maxAge := parseMaxAge(resp.Header.Get("Cache-Control")); maxAge > 0 {
		ttl = maxAge
	}
	now := c.now()
	return &keySnapshot{keys: keys, fetchedAt: now, expiresAt: now.Add(ttl)}, nil
}

// signingKeys drops keys without a kid and Keycloak's use=enc keys.
func signingKeys(set jose.JSONWebKeySet) map[string]any {
	keys := make(map[string]any, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" || !jwk.Valid() || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		keys[jwk.KeyID] = jwk.Key
	}
	return keys
}

func parseMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	return 0
}
