package crawler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// LinearRetryPolicy retries throttled (429) and timed-out requests with a
// linear schedule: the n-th retry waits n * (maxWait / maxAttempts).
type LinearRetryPolicy struct {
	maxAttempts int
	step        time.Duration
}

// NewLinearRetryPolicy builds a policy allowing maxAttempts retries whose
// waits together stay close to the maxWait budget.
func NewLinearRetryPolicy(maxAttempts int, maxWait time.Duration) *LinearRetryPolicy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	var step time.Duration
	if maxAttempts > 0 && maxWait > 0 {
		step = maxWait / time.Duration(maxAttempts)
	}
	return &LinearRetryPolicy{maxAttempts: maxAttempts, step: step}
}

// MaxAttempts returns the number of retries after the first request.
func (p *LinearRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Step returns the backoff increment.
func (p *LinearRetryPolicy) Step() time.Duration {
	return p.step
}

// ShouldRetry decides whether the outcome of the given attempt (0 based) is
// worth another try.
func (p *LinearRetryPolicy) ShouldRetry(status int, err error, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return netErr.Timeout()
		}
		return errors.Is(err, context.DeadlineExceeded)
	}
	return status == http.StatusTooManyRequests
}

// Backoff returns the wait before retry number retry (1 based).
func (p *LinearRetryPolicy) Backoff(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	return time.Duration(retry) * p.step
}
