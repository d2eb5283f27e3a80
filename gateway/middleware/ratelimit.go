package middleware

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucketTTL is how long an idle client bucket survives before it is dropped
// so the per-client map does not grow without bound.
const bucketTTL = 5 * time.Minute

type RateLimit struct {
	RatePerSecond float64
	Burst         int
	// DefaultTokens is the bucket cost charged to routes without an explicit
	// entry in Tokens. Zero means one token per request.
	DefaultTokens int
	Tokens        map[string]int
}

// cost returns the token cost of a request, preferring an explicit
// "METHOD /path" entry over the configured default.
func (l RateLimit) cost(req *http.Request) int {
	if c, ok := l.Tokens[req.Method+" "+req.URL.Path]; ok && c > 0 {
		return c
	}
	if l.DefaultTokens > 0 {
		return l.DefaultTokens
	}
	return 1
}

type RateLimiter struct {
	logger *log.Logger
	limits map[string]RateLimit
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewRateLimiter(limits map[string]RateLimit, logger *log.Logger) *RateLimiter {
	if logger == nil {
		logger = log.Default()
	}
	return &RateLimiter{
		logger:  logger,
		limits:  limits,
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Middleware throttles requests against the limit registered under key.
// Routes without a configured limit pass through untouched.
func (r *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limit, configured := r.limits[key]
			if !configured {
				next.ServeHTTP(w, req)
				return
			}
			bucket := r.bucketFor(key+"|"+clientID(req), limit)
			if !bucket.AllowN(r.now(), limit.cost(req)) {
				r.logger.Printf("rate limit exceeded on %s", key)
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) bucketFor(id string, cfg RateLimit) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bucket, ok := r.buckets[id]; ok {
		return bucket
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	bucket := rate.NewLimiter(rate.Limit(perSecond), max(cfg.Burst, 1))
	r.buckets[id] = bucket
	time.AfterFunc(bucketTTL, func() { r.drop(id) })
	return bucket
}

func (r *RateLimiter) drop(id string) {
	r.mu.Lock()
	delete(r.buckets, id)
	r.mu.Unlock()
}

// clientID identifies the caller for bucketing: the API key when present,
// otherwise the best client IP the proxy headers offer.
func clientID(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
