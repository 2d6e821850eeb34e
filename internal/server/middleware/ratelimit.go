package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimit configures a per-client token bucket.
type RateLimit struct {
	RequestsPerMinute int
	BurstLimit        int
	// TrustForwarded takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustForwarded bool
}

// RateLimiter implements a token bucket rate limiter per client address.
type RateLimiter struct {
	config  RateLimit
	buckets map[string]*tokenBucket
	mutex   sync.Mutex
	now     func() time.Time
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a limiter. Idle buckets are dropped every few
// minutes until ctx is cancelled.
func NewRateLimiter(ctx context.Context, config RateLimit) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.BurstLimit <= 0 {
		config.BurstLimit = 1
	}

	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
	go rl.cleanup(ctx, 5*time.Minute)

	return rl
}

// Limit wraps next, answering 429 once a client has spent its burst.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.clientKey(r)) {
			retry := time.Minute / time.Duration(rl.config.RequestsPerMinute)
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow spends one token for key if one is available.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: rl.config.BurstLimit, lastRefill: now}
		rl.buckets[key] = bucket
	}

	refill := time.Minute / time.Duration(rl.config.RequestsPerMinute)
	if added := int(now.Sub(bucket.lastRefill) / refill); added > 0 {
		bucket.tokens = min(rl.config.BurstLimit, bucket.tokens+added)
		bucket.lastRefill = bucket.lastRefill.Add(time.Duration(added) * refill)
	}

	if bucket.tokens == 0 {
		return false
	}
	bucket.tokens--
	return true
}

func (rl *RateLimiter) cleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.prune(rl.now().Add(-2 * every))
		}
	}
}

func (rl *RateLimiter) prune(cutoff time.Time) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	for key, bucket := range rl.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) clientKey(r *http.Request) string {
	if rl.config.TrustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(r.Header.Get("X-Real-IP")); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
