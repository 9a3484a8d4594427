package gax

import (
	"time"

	"google.golang.org/grpc/codes"
)

// DefaultPollingBackoff is the backoff used to poll long-running
// operations: delays start at one second and double up to thirty seconds.
// It carries no timeouts; [OperationFuture.Result] sets TotalTimeout from
// its argument.
//
//nolint:gochecknoglobals // value type, copied on use
var DefaultPollingBackoff = BackoffSettings{
	InitialRetryDelay:    time.Second,
	RetryDelayMultiplier: 2,
	MaxRetryDelay:        30 * time.Second,
}

// IdempotentCodes returns the codes on which calls that are safe to repeat
// are retried.
func IdempotentCodes() CodeSet {
	return NewCodeSet(codes.DeadlineExceeded, codes.Unavailable)
}

// NonIdempotentCodes returns the codes on which calls that are not safe to
// repeat are retried: none.
func NonIdempotentCodes() CodeSet {
	return NewCodeSet()
}

// DefaultRetryPolicy returns the policy commonly configured for idempotent
// methods: delays from 100ms growing by 1.3 up to a minute, 20s attempts,
// ten minutes overall.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		Codes: IdempotentCodes(),
		Backoff: BackoffSettings{
			InitialRetryDelay:        100 * time.Millisecond,
			RetryDelayMultiplier:     1.3,
			MaxRetryDelay:            time.Minute,
			InitialAttemptTimeout:    20 * time.Second,
			AttemptTimeoutMultiplier: 1,
			MaxAttemptTimeout:        20 * time.Second,
			TotalTimeout:             10 * time.Minute,
		},
	}
}

// DefaultSettings returns settings for a method without a client config:
// the default timeout, retried when idempotent.
func DefaultSettings(idempotent bool) CallSettings {
	s := CallSettings{Timeout: DefaultTimeout}
	if idempotent {
		s.Retry = DefaultRetryPolicy()
	}

	return s
}
