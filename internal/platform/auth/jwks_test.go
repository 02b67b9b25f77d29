package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// keyServer serves a JWKS document and counts downloads.
type keyServer struct {
	*httptest.Server
	hits   atomic.Int32
	status atomic.Int32
}

func newKeyServer(t *testing.T, maxAge string, keys ...jose.JSONWebKey) *keyServer {
	t.Helper()
	ks := &keyServer{}
	ks.status.Store(http.StatusOK)
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ks.hits.Add(1)
		if code := int(ks.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		if maxAge != "" {
			w.Header().Set("Cache-Control", "max-age="+maxAge)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: keys})
	}))
	t.Cleanup(ks.Close)
	return ks
}

func realmKey(t *testing.T, kid string) (*rsa.PrivateKey, jose.JSONWebKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv, jose.JSONWebKey{Key: &priv.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
}

func TestJWKSCache_ServesCachedKey(t *testing.T) {
	_, jwk := realmKey(t, "realm-1")
	ks := newKeyServer(t, "3600", jwk)
	cache := NewJWKSCache(ks.URL,
		WithJWKSLogger(noopLogger{}),
		WithJWKSClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
	)

	for range 3 {
		got, err := cache.Key(context.Background(), "realm-1")
		require.NoError(t, err)
		assert.IsType(t, &rsa.PublicKey{}, got)
	}
	assert.EqualValues(t, 1, ks.hits.Load())
}

func TestJWKSCache_UnknownKidForcesOneRefetch(t *testing.T) {
	_, jwk := realmKey(t, "current")
	ks := newKeyServer(t, "", jwk)
	cache := NewJWKSCache(ks.URL, WithoutJWKSBackgroundRefresh())

	_, err := cache.Key(context.Background(), "rotated")

	assert.ErrorIs(t, err, ErrJWKSKeyNotFound)
	assert.EqualValues(t, 2, ks.hits.Load(), "initial download plus one forced refetch")
}

func TestJWKSCache_ThrottlesForcedRefetch(t *testing.T) {
	_, jwk := realmKey(t, "current")
	ks := newKeyServer(t, "3600", jwk)
	now := time.Unix(1_700_000_000, 0)
	cache := NewJWKSCache(ks.URL,
		WithoutJWKSBackgroundRefresh(),
		WithJWKSUnknownKIDWait(30*time.Second),
		WithJWKSClock(func() time.Time { return now }),
	)

	for range 3 {
		_, err := cache.Key(context.Background(), "forged")
		require.ErrorIs(t, err, ErrJWKSKeyNotFound)
	}
	assert.EqualValues(t, 2, ks.hits.Load())

	now = now.Add(31 * time.Second)
	_, err := cache.Key(context.Background(), "forged")
	require.ErrorIs(t, err, ErrJWKSKeyNotFound)
	assert.EqualValues(t, 3, ks.hits.Load())
}

func TestJWKSCache_Keyfunc(t *testing.T) {
	priv, jwk := realmKey(t, "realm-1")
	cache := NewJWKSCache(newKeyServer(t, "", jwk).URL, WithoutJWKSBackgroundRefresh())
	keyfunc := cache.Keyfunc(context.Background())

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{Subject: "u-1"})
	token.Header["kid"] = "realm-1"
	signed, err := token.SignedString(priv)
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, keyfunc)
	require.NoError(t, err)
	assert.True(t, parsed.Valid)

	hmac := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u-1"})
	hmac.Header["kid"] = "realm-1"
	forged, err := hmac.SignedString([]byte("shared"))
	require.NoError(t, err)
	_, err = jwt.Parse(forged, keyfunc)
	assert.ErrorContains(t, err, "unexpected signing method")

	unkeyed := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{Subject: "u-1"})
	signed, err = unkeyed.SignedString(priv)
	require.NoError(t, err)
	_, err = jwt.Parse(signed, keyfunc)
	assert.ErrorContains(t, err, "missing kid")
}

func TestSigningKeys_DropsUnusableEntries(t *testing.T) {
	_, sig := realmKey(t, "sig")
	enc := sig
	enc.KeyID, enc.Use, enc.Algorithm = "enc", "enc", "RSA-OAEP"
	anonymous := sig
	anonymous.KeyID = ""

	keys := signingKeys(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{sig, enc, anonymous}})

	require.Len(t, keys, 1)
	assert.Contains(t, keys, "sig")
}

func TestJWKSCache_CheckReportsFetchFailure(t *testing.T) {
	ks := newKeyServer(t, "")
	ks.status.Store(http.StatusInternalServerError)

	err := NewJWKSCache(ks.URL, WithoutJWKSBackgroundRefresh()).Check(context.Background())

	assert.ErrorIs(t, err, ErrJWKSFetchFailed)
}

func TestParseMaxAge(t *testing.T) {
	for header, want := range map[string]time.Duration{
		"":                           0,
		"no-store":                   0,
		"public, max-age=300":        5 * time.Minute,
		"max-age=soon":               0,
		"must-revalidate,max-age=42": 42 * time.Second,
	} {
		assert.Equal(t, want, parseMaxAge(header), header)
	}
}
