package extraction

import (
	"context"
	"errors"
	"net"
	"time"
)

// BackoffRetryPolicy governs retries of transient recognition failures.
// The delay grows linearly with the attempt index so a poison input
// finishes its retry budget quickly instead of stalling a whole batch.
type BackoffRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

// NewBackoffRetryPolicy builds a policy with sane defaults.
func NewBackoffRetryPolicy() *BackoffRetryPolicy {
	return &BackoffRetryPolicy{
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
	}
}

// NewBackoffRetryPolicyWith builds a policy from configured knobs.
func NewBackoffRetryPolicyWith(maxRetries int, baseDelay time.Duration) *BackoffRetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &BackoffRetryPolicy{maxRetries: maxRetries, baseDelay: baseDelay}
}

// MaxRetries returns the retry budget after the initial attempt.
func (p *BackoffRetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry decides whether the error from the given zero-based attempt
// is retryable. Structural failures (missing or oversized images, corrupt
// sidecars) are never retried; only timeouts and transient engine errors are.
func (p *BackoffRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRecognitionTimeout) || errors.Is(err, ErrEngineTransient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Backoff returns the wait duration before retrying the given zero-based
// attempt: baseDelay * (attempt + 1).
func (p *BackoffRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.baseDelay * time.Duration(attempt+1)
}
