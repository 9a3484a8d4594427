package gax

import (
	"context"
	"time"
)

// RetryPolicy decides which failures are transient and how long to keep
// retrying them.
type RetryPolicy struct {
	// Codes holds the status codes that trigger a retry.
	Codes CodeSet
	// Backoff shapes the delays and timeouts of the retry loop.
	Backoff BackoffSettings
}

// Validate checks the backoff settings.
func (p *RetryPolicy) Validate() error {
	if p == nil {
		return nil
	}

	return p.Backoff.Validate()
}

// RetryParams carries a retry policy together with the clock and hooks the
// loop runs against. Nil Clock uses [RealClock]; nil Hooks emit nothing.
type RetryParams struct {
	Policy *RetryPolicy
	Clock  Clock
	Hooks  *Hooks
}

type attemptTimeoutKey struct{}

// AttemptTimeout returns the timeout the retry loop assigned to the current
// attempt. The same bound is applied as the context deadline; the value is
// exposed for calls that forward it to a transport.
func AttemptTimeout(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(attemptTimeoutKey{}).(time.Duration)

	return d, ok
}

// DoRetry invokes call with req until it succeeds, fails with a code
// outside the policy's set, or the policy's total timeout elapses. The call
// is always attempted at least once.
//
// Failures are reported as [*RetryError]: Kind [ErrNotRetryable] carries
// the offending error, Kind [ErrRetriesExhausted] carries the last error
// seen, or [ErrNoResponse] if no attempt completed. Cancelling ctx during a
// backoff sleep returns ctx.Err() unchanged.
//
//nolint:ireturn // generic type parameter Resp, not an interface
func DoRetry[Req, Resp any](
	ctx context.Context,
	call APICall[Req, Resp],
	req Req,
	params RetryParams,
) (Resp, error) {
	var zero Resp

	clock := params.Clock
	if clock == nil {
		clock = RealClock{}
	}

	var policy RetryPolicy
	if params.Policy != nil {
		policy = *params.Policy
	}

	b := newBackoff(policy.Backoff, clock.Now())

	var lastErr error

	attempts := 0

	for {
		attempts++

		resp, err := invokeAttempt(ctx, call, req, b.budget(clock.Now()))
		if err == nil {
			return resp, nil
		}

		if !policy.Codes.Contains(Code(err)) {
			return zero, &RetryError{Kind: ErrNotRetryable, Cause: err}
		}

		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err() //nolint:wrapcheck // preserving context error identity
		}

		if b.expired(clock.Now()) {
			break
		}

		params.Hooks.emitRetry(attempts, err)

		if err := sleep(ctx, clock, b.pause()); err != nil {
			return zero, err
		}

		now := clock.Now()
		if b.expired(now) {
			break
		}

		b.advance(now)
	}

	if lastErr == nil {
		lastErr = ErrNoResponse
	}

	params.Hooks.emitRetriesExhausted(attempts, lastErr)

	return zero, &RetryError{Kind: ErrRetriesExhausted, Cause: lastErr}
}

// Retryable wraps call so that every invocation runs through [DoRetry]
// with params.
func Retryable[Req, Resp any](
	call APICall[Req, Resp],
	params RetryParams,
) APICall[Req, Resp] {
	return func(ctx context.Context, req Req) (Resp, error) {
		return DoRetry(ctx, call, req, params)
	}
}

// invokeAttempt runs one attempt, bounding it by timeout when positive.
//
//nolint:ireturn // generic type parameter Resp, not an interface
func invokeAttempt[Req, Resp any](
	ctx context.Context,
	call APICall[Req, Resp],
	req Req,
	timeout time.Duration,
) (Resp, error) {
	if timeout <= 0 {
		return call(ctx, req)
	}

	attemptCtx, cancel := context.WithTimeout(
		context.WithValue(ctx, attemptTimeoutKey{}, timeout),
		timeout,
	)
	defer cancel()

	return call(attemptCtx, req)
}
