package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused is returned when a live key is presented with a different request.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

// Outcome tells the middleware what to do with a claimed key.
type Outcome int

const (
	// OutcomeProceed means the caller owns the key and must run the request.
	OutcomeProceed Outcome = iota
	// OutcomeReplay means Entry.Response holds the answer to send back.
	OutcomeReplay
	// OutcomeInFlight means another request owns the key right now.
	OutcomeInFlight
)

// Entry is the stored state of one key. Response is meaningful once Done.
type Entry struct {
	Key         string
	Fingerprint string
	Done        bool
	Response    Response
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Claim is the result of Store.Claim.
type Claim struct {
	Outcome Outcome
	Entry   Entry
}

// Response is a captured downstream response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store keeps idempotency entries. Implementations must make Claim atomic per key.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// claim resolves a Claim against the current entry. The returned entry is
// non-nil when it has to be written back.
func claim(current *Entry, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, *Entry, error) {
	if current == nil || current.expired(now) {
		fresh := &Entry{
			Key:         key,
			Fingerprint: fingerprint,
			CreatedAt:   now,
			ExpiresAt:   now.Add(orDefaultTTL(ttl)),
		}
		return Claim{Outcome: OutcomeProceed, Entry: *fresh}, fresh, nil
	}
	switch {
	case current.Fingerprint != fingerprint:
		return Claim{}, nil, ErrKeyReused
	case current.Done:
		return Claim{Outcome: OutcomeReplay, Entry: *current}, nil, nil
	default:
		return Claim{Outcome: OutcomeInFlight, Entry: *current}, nil, nil
	}
}

// finish marks the entry done with resp. A missing entry is recreated so a
// swept claim does not lose the response.
func finish(current *Entry, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) (Entry, error) {
	entry := Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	if current != nil {
		if current.Fingerprint != fingerprint {
			return Entry{}, ErrKeyReused
		}
		entry = *current
	}
	entry.Done = true
	entry.Response = Response{
		Status:  resp.Status,
		Headers: storableHeaders(resp.Headers),
		Body:    append([]byte(nil), resp.Body...),
	}
	entry.ExpiresAt = now.Add(orDefaultTTL(ttl))
	return entry, nil
}

func orDefaultTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// entryID hashes the user scoped key into a fixed-width document id.
func entryID(key string) string {
	return digest([]byte(strings.TrimSpace(key)))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hopHeaders are connection-level and never replayed.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Content-Length":      {},
	"Date":                {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func storableHeaders(header http.Header) http.Header {
	kept := http.Header{}
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if _, hop := hopHeaders[name]; hop {
			continue
		}
		kept[name] = append([]string(nil), values...)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
