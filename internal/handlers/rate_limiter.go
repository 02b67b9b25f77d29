package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/auth"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/httpx"
)

// rateLimiter decides whether key may proceed. When it may not, retryAfter
// tells the caller how long until the next call would be admitted.
type rateLimiter interface {
	Allow(key string) (ok bool, retryAfter time.Duration)
}

// userLimiter gives every key a token bucket refilled at limit per window,
// holding at most limit tokens.
type userLimiter struct {
	every  rate.Limit
	burst  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	sweepAt time.Time
}

func newUserLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &userLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *userLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	bucket := l.bucket(key, now)

	reservation := bucket.ReserveN(now, 1)
	if !reservation.OK() {
		return false, l.window
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *userLimiter) bucket(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !now.Before(l.sweepAt) {
		// A full bucket behaves exactly like a fresh one.
		for k, b := range l.buckets {
			if b.TokensAt(now) >= float64(l.burst) {
				delete(l.buckets, k)
			}
		}
		l.sweepAt = now.Add(l.window)
	}
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.every, l.burst)
		l.buckets[key] = bucket
	}
	return bucket
}

// rateLimited wraps next so each authenticated user gets their own budget.
// A nil limiter disables the check.
func rateLimited(limiter rateLimiter, next http.HandlerFunc) http.HandlerFunc {
	if limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := limiter.Allow(rateKey(r.Context()))
		if !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests, please slow down", http.StatusTooManyRequests).
				WithRetryAfter(max(retryAfter, time.Second)))
			return
		}
		next(w, r)
	}
}

func rateKey(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		return identity.UserID
	}
	return ""
}
