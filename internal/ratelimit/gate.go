package ratelimit

import (
	"context"
	"fmt"
)

// RobotsPolicy answers whether a URL may be fetched at all.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) (bool, error)
}

// Gate layers robots.txt screening over the per-domain limiter so the
// capture service applies both in a single Wait.
type Gate struct {
	limiter *Limiter
	robots  RobotsPolicy
}

// NewGate combines the limiter with an optional robots policy. Either
// side may be nil.
func NewGate(limiter *Limiter, robots RobotsPolicy) *Gate {
	return &Gate{limiter: limiter, robots: robots}
}

// Wait rejects URLs robots.txt disallows, then blocks for the domain's
// token.
func (g *Gate) Wait(ctx context.Context, rawURL string) error {
	if g.robots != nil {
		allowed, err := g.robots.Allowed(ctx, rawURL)
		if err != nil {
			return fmt.Errorf("robots check: %w", err)
		}
		if !allowed {
			return fmt.Errorf("robots.txt disallows %s", rawURL)
		}
	}
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx, rawURL)
}
