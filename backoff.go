package gax

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// BackoffSettings parameterises the retry loop: the delay between attempts
// grows geometrically, as does the timeout given to each attempt, and the
// whole loop is bounded by TotalTimeout.
//
// A zero TotalTimeout means the settings carry no timeouts: the loop has no
// deadline and attempts have no timeout of their own, so retrying is bounded
// only by the caller's context. Long-running operation polling relies on
// this.
type BackoffSettings struct {
	// InitialRetryDelay is the delay ceiling before the first retry.
	InitialRetryDelay time.Duration
	// RetryDelayMultiplier grows the delay ceiling after each retry.
	RetryDelayMultiplier float64
	// MaxRetryDelay caps the delay ceiling.
	MaxRetryDelay time.Duration
	// InitialAttemptTimeout is the timeout of the first attempt. Zero leaves
	// each attempt bounded only by what is left of TotalTimeout.
	InitialAttemptTimeout time.Duration
	// AttemptTimeoutMultiplier grows the attempt timeout after each retry.
	AttemptTimeoutMultiplier float64
	// MaxAttemptTimeout caps the attempt timeout.
	MaxAttemptTimeout time.Duration
	// TotalTimeout bounds the wall-clock span of the whole retry loop.
	TotalTimeout time.Duration
}

// HasTimeouts reports whether the settings bound the retry loop with a
// deadline.
func (b BackoffSettings) HasTimeouts() bool {
	return b.TotalTimeout > 0
}

// Validate checks the multiplier invariants. Unset (zero) multipliers are
// accepted and treated as 1.
func (b BackoffSettings) Validate() error {
	if b.RetryDelayMultiplier != 0 && b.RetryDelayMultiplier < 1 {
		return fmt.Errorf(
			"gax: retry delay multiplier must be >= 1, got %v",
			b.RetryDelayMultiplier,
		)
	}

	if b.AttemptTimeoutMultiplier != 0 && b.AttemptTimeoutMultiplier < 1 {
		return fmt.Errorf(
			"gax: attempt timeout multiplier must be >= 1, got %v",
			b.AttemptTimeoutMultiplier,
		)
	}

	if b.InitialRetryDelay < 0 || b.MaxRetryDelay < 0 ||
		b.InitialAttemptTimeout < 0 || b.MaxAttemptTimeout < 0 ||
		b.TotalTimeout < 0 {
		return fmt.Errorf("gax: backoff durations must be >= 0")
	}

	return nil
}

// backoff tracks the state of one retry loop invocation.
type backoff struct {
	settings       BackoffSettings
	delay          time.Duration
	attemptTimeout time.Duration
	deadline       time.Time
}

func newBackoff(settings BackoffSettings, now time.Time) *backoff {
	b := &backoff{
		settings: settings,
		delay:    settings.InitialRetryDelay,
	}

	if settings.HasTimeouts() {
		b.attemptTimeout = settings.InitialAttemptTimeout
		b.deadline = now.Add(settings.TotalTimeout)
	}

	return b
}

// expired reports whether the loop deadline has passed at now.
func (b *backoff) expired(now time.Time) bool {
	return b.settings.HasTimeouts() && !now.Before(b.deadline)
}

// budget returns the timeout for an attempt starting at now: the attempt
// timeout capped by what is left before the deadline. Zero means the attempt
// is unbounded.
func (b *backoff) budget(now time.Time) time.Duration {
	if !b.settings.HasTimeouts() {
		return 0
	}

	remaining := max(b.deadline.Sub(now), time.Nanosecond)
	if b.attemptTimeout > 0 && b.attemptTimeout < remaining {
		return b.attemptTimeout
	}

	return remaining
}

// pause draws the jittered sleep for the current delay ceiling: a uniform
// duration in [0, delay].
func (b *backoff) pause() time.Duration {
	if b.delay <= 0 {
		return 0
	}

	return time.Duration(rand.Int64N(int64(b.delay) + 1))
}

// advance grows the delay ceiling and the attempt timeout after a retry
// that ended at now.
func (b *backoff) advance(now time.Time) {
	b.delay = scale(b.delay, b.settings.RetryDelayMultiplier, b.settings.MaxRetryDelay)

	if !b.settings.HasTimeouts() {
		return
	}

	b.attemptTimeout = scale(
		b.attemptTimeout,
		b.settings.AttemptTimeoutMultiplier,
		b.settings.MaxAttemptTimeout,
	)

	if remaining := b.deadline.Sub(now); remaining < b.attemptTimeout {
		b.attemptTimeout = max(remaining, 0)
	}
}

// scale returns min(d*mult, ceiling); a zero ceiling means no cap.
func scale(d time.Duration, mult float64, ceiling time.Duration) time.Duration {
	if mult > 1 {
		d = time.Duration(float64(d) * mult)
	}

	if ceiling > 0 && d > ceiling {
		d = ceiling
	}

	return d
}
