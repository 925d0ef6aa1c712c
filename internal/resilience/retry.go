// Package resilience provides the retry, circuit-breaker and provider
// failover primitives the pipeline stages share. All types are safe for
// concurrent use.
package resilience

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Policy describes an exponential backoff retry schedule.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt. Default: 3.
	MaxRetries int

	// BaseDelay is the delay before the first retry; it doubles per retry.
	// Default: 200ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 2s.
	MaxDelay time.Duration

	// Jitter is the fraction of random spread applied to each delay
	// (0.2 means ±20%). Default: 0.2.
	Jitter float64
}

// DefaultPolicy matches the transport-error retry schedule used by the ASR
// and LLM stages.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: 0.2}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0.2
	}
	return p
}

// delay returns the backoff before retry number n (0-based), jittered.
func (p Policy) delay(n int) time.Duration {
	d := p.BaseDelay << n
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	return d
}

// Retry runs fn, retrying per the policy while retryable(err) is true.
// Non-retryable errors and context cancellation return immediately. The
// last error is returned when the budget is exhausted.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(err) || attempt >= p.MaxRetries {
			return err
		}

		wait := p.delay(attempt)
		slog.Debug("retrying after transient failure",
			"attempt", attempt+1,
			"max_retries", p.MaxRetries,
			"backoff", wait,
			"error", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
