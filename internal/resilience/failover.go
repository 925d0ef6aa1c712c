package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvolkert/ekho/pkg/provider"
	"github.com/mvolkert/ekho/pkg/provider/tts"
)

// SynthFailover implements [tts.Synthesizer] with retry on the primary
// backend and a single fallback attempt on the secondary. Each backend has
// its own circuit breaker so a dead primary is bypassed instead of costing
// the full retry budget per segment.
type SynthFailover struct {
	primary  tts.Synthesizer
	fallback tts.Synthesizer // may be nil

	primaryBreaker  *CircuitBreaker
	fallbackBreaker *CircuitBreaker

	retry Policy
	log   *slog.Logger
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*SynthFailover)(nil)

// SynthFailoverConfig configures a [SynthFailover].
type SynthFailoverConfig struct {
	// Fallback is the secondary backend, optional.
	Fallback tts.Synthesizer

	// Retry applies to the primary only. Default: 2 retries, 200ms base.
	Retry Policy

	// Breaker tunes the per-backend circuit breakers; Name is overridden
	// per backend.
	Breaker BreakerConfig

	Logger *slog.Logger
}

// NewSynthFailover wraps primary (and optionally a fallback) in the
// segment-level retry and failover policy.
func NewSynthFailover(primary tts.Synthesizer, cfg SynthFailoverConfig) *SynthFailover {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry == (Policy{}) {
		cfg.Retry = Policy{MaxRetries: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: 0.2}
	}

	primaryCfg := cfg.Breaker
	primaryCfg.Name = primary.Name()
	primaryCfg.Logger = cfg.Logger

	f := &SynthFailover{
		primary:        primary,
		fallback:       cfg.Fallback,
		primaryBreaker: NewCircuitBreaker(primaryCfg),
		retry:          cfg.Retry,
		log:            cfg.Logger,
	}
	if cfg.Fallback != nil {
		fallbackCfg := cfg.Breaker
		fallbackCfg.Name = cfg.Fallback.Name()
		fallbackCfg.Logger = cfg.Logger
		f.fallbackBreaker = NewCircuitBreaker(fallbackCfg)
	}
	return f
}

// Name implements tts.Synthesizer.
func (f *SynthFailover) Name() string {
	if f.fallback == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.fallback.Name()
}

// Synthesize tries the primary with retries, then the fallback once. A
// cancelled context aborts immediately without touching the fallback.
func (f *SynthFailover) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	var wav []byte
	primaryErr := f.primaryBreaker.Execute(func() error {
		return Retry(ctx, f.retry, provider.IsRetryable, func(ctx context.Context) error {
			var err error
			wav, err = f.primary.Synthesize(ctx, req)
			return err
		})
	})
	if primaryErr == nil {
		return wav, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.fallback == nil {
		return nil, fmt.Errorf("synthesis failed on %s: %w", f.primary.Name(), primaryErr)
	}

	if !errors.Is(primaryErr, ErrCircuitOpen) {
		f.log.Warn("primary synthesis failed, trying fallback",
			"primary", f.primary.Name(),
			"fallback", f.fallback.Name(),
			"error", primaryErr)
	}

	fallbackErr := f.fallbackBreaker.Execute(func() error {
		var err error
		wav, err = f.fallback.Synthesize(ctx, req)
		return err
	})
	if fallbackErr == nil {
		return wav, nil
	}
	return nil, fmt.Errorf("synthesis failed on %s (%w) and %s (%w)",
		f.primary.Name(), primaryErr, f.fallback.Name(), fallbackErr)
}
