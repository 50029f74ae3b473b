// Package ratelimit provides a per-domain token bucket for polite page
// fetching.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Config sets the per-domain request budget. A zero or negative QPS
// means unlimited.
type Config struct {
	QPS   float64
	Burst int
}

// Limiter hands every domain its own token bucket so captures against
// one shop cannot starve another.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.QPS)
	if cfg.QPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Wait blocks until the domain of rawURL has a token available or the
// context finishes.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if err := l.forDomain(rawURL).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// forDomain returns the bucket for the URL's hostname. Unparsable URLs
// share one fallback bucket instead of escaping the limit.
func (l *Limiter) forDomain(rawURL string) *rate.Limiter {
	domain := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[domain] = limiter
	}
	return limiter
}
