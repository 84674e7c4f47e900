package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/conneroisu/bloxciting/internal/config"
	"github.com/conneroisu/bloxciting/internal/logging"
)

// bucketExpiry is how long an idle client keeps its token bucket.
const bucketExpiry = 10 * time.Minute

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	buckets     map[string]*bucket
	bucketMutex sync.Mutex
	limit       rate.Limit
	burst       int
	logger      logging.Logger

	cleaner     *time.Ticker
	stopCleaner chan struct{}
	stopOnce    sync.Once
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter creates a limiter from the server rate limit settings and
// starts its cleanup goroutine. Call Stop to release it.
func NewRateLimiter(cfg config.RateLimitConfig, logger logging.Logger) *RateLimiter {
	rl := &RateLimiter{
		buckets:     make(map[string]*bucket),
		limit:       rate.Limit(cfg.RequestsPerSecond),
		burst:       cfg.Burst,
		logger:      logger,
		cleaner:     time.NewTicker(time.Minute),
		stopCleaner: make(chan struct{}),
	}
	go rl.cleanupExpiredBuckets()
	return rl
}

// Allow consumes a token for key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getBucket(key).Allow()
}

func (rl *RateLimiter) getBucket(key string) *rate.Limiter {
	rl.bucketMutex.Lock()
	defer rl.bucketMutex.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastAccess = time.Now()
	return b.limiter
}

func (rl *RateLimiter) cleanupExpiredBuckets() {
	for {
		select {
		case <-rl.cleaner.C:
			rl.performCleanup(time.Now())
		case <-rl.stopCleaner:
			rl.cleaner.Stop()
			return
		}
	}
}

func (rl *RateLimiter) performCleanup(now time.Time) {
	rl.bucketMutex.Lock()
	defer rl.bucketMutex.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.lastAccess) > bucketExpiry {
			delete(rl.buckets, key)
		}
	}
}

// Buckets returns the number of tracked clients.
func (rl *RateLimiter) Buckets() int {
	rl.bucketMutex.Lock()
	defer rl.bucketMutex.Unlock()
	return len(rl.buckets)
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleaner) })
}

// RateLimitMiddleware rejects requests from clients that exhausted their
// bucket with 429 Too Many Requests.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)
			if !rl.Allow(clientIP) {
				rl.logger.Warn(r.Context(), nil, "Rate limit exceeded",
					"client_ip", clientIP,
					"path", r.URL.Path,
					"method", r.Method)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl.limit)))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 {
		return 1
	}
	secs := int(1 / float64(limit))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
