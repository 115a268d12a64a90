package crawler

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces requests per host. It is the politeness floor applied
// before every fetch, independent of backoff after rate limiting.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	delays   map[string]time.Duration
	mu       sync.RWMutex
	delay    time.Duration
}

// NewRateLimiter creates a rate limiter with a default per-host delay.
// A zero delay disables limiting for hosts without their own delay.
func NewRateLimiter(defaultDelay time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		delays:   make(map[string]time.Duration),
		delay:    defaultDelay,
	}
}

// Wait waits for permission to proceed with a request to the given URL
func (r *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return err
	}

	return r.getLimiter(HostKey(parsedURL.Host)).Wait(ctx)
}

// HostKey is the per-host key of limiters and delays. Callers reporting
// delays for a host, such as robots.txt handling, use the same key.
func HostKey(host string) string {
	return strings.ToLower(host)
}

// SetDomainDelay raises the delay for a host, e.g. from a robots.txt
// Crawl-delay. Delays below the default are ignored.
func (r *RateLimiter) SetDomainDelay(domain string, delay time.Duration) {
	domain = HostKey(domain)

	r.mu.Lock()
	defer r.mu.Unlock()

	if delay <= r.delay || delay <= r.delays[domain] {
		return
	}

	r.delays[domain] = delay
	if limiter, exists := r.limiters[domain]; exists {
		limiter.SetLimit(rate.Every(delay))
		return
	}
	r.limiters[domain] = rate.NewLimiter(rate.Every(delay), 1)
}

// DomainDelay returns the delay in effect for a host
func (r *RateLimiter) DomainDelay(domain string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.delays[HostKey(domain)]; ok {
		return d
	}
	return r.delay
}

// getLimiter gets or creates a rate limiter for a domain
func (r *RateLimiter) getLimiter(domain string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[domain]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check again in case another goroutine created it
	if limiter, exists := r.limiters[domain]; exists {
		return limiter
	}

	limit := rate.Inf
	if r.delay > 0 {
		limit = rate.Every(r.delay)
	}
	limiter = rate.NewLimiter(limit, 1)
	r.limiters[domain] = limiter

	return limiter
}
