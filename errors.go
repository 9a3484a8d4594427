package gax

import (
	"errors"
	"strings"
)

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------.

type (
	// Error identifies errors produced by the call-shaping layer itself, as
	// opposed to errors returned by the wrapped call.
	//
	//nolint:iface // exported for consumer error classification.
	Error interface {
		error
		// IsGax reports whether this error originates from this package.
		IsGax() bool
	}

	// gaxError is the concrete type backing all sentinel errors.
	gaxError string

	// RetryError is returned by the retry engine. Kind is one of
	// [ErrNotRetryable] or [ErrRetriesExhausted]; Cause is the error that
	// triggered it. Both are reachable through [errors.Is] and [errors.As].
	RetryError struct {
		Kind  error
		Cause error
	}

	// OperationError is the terminal error of a long-running operation that
	// completed with an error status. Cause is a gRPC status error, so
	// [Code] reports the operation's canonical code.
	OperationError struct {
		Name  string
		Cause error
	}
)

// Sentinel errors.
var (
	// ErrNotRetryable is the Kind of a RetryError raised for an error whose
	// code is outside the policy's retryable set.
	ErrNotRetryable error = gaxError("error not classified as transient")
	// ErrRetriesExhausted is the Kind of a RetryError raised when the total
	// retry deadline elapsed without a successful attempt.
	ErrRetriesExhausted error = gaxError("retry total timeout exceeded")
	// ErrNoResponse is the cause of an exhausted retry that never observed
	// a completed attempt.
	ErrNoResponse error = gaxError("no response received before the retry deadline")
	// ErrTimeout is returned when a non-retrying call exceeds its timeout.
	ErrTimeout error = gaxError("timeout")
	// ErrConfigConflict is returned when page streaming and bundling are
	// both active on the same settings.
	ErrConfigConflict error = gaxError("page streaming and bundling are mutually exclusive")
	// ErrIncompatibleOptions is returned when call options override both
	// the timeout and the retry policy.
	ErrIncompatibleOptions error = gaxError("timeout cannot be specified on a retrying call")
	// ErrBundleLimitExceeded is delivered to a bundled call whose request
	// alone exceeds the configured element count or byte limit.
	ErrBundleLimitExceeded error = gaxError("request exceeds the bundle limit")
	// ErrBundlingDisabled is returned when a call that is not configured for
	// bundling is scheduled on a bundler.
	ErrBundlingDisabled error = gaxError("call is not configured for bundling")
	// ErrPagingDisabled is returned when a call without a page descriptor
	// is iterated.
	ErrPagingDisabled error = gaxError("call is not configured for paging")
	// ErrInvalidBundleOptions is returned when no bundle threshold is set.
	ErrInvalidBundleOptions error = gaxError("one bundle threshold must be > 0")
	// ErrFieldNotFound is returned when a dotted field path does not
	// resolve on a request or response.
	ErrFieldNotFound error = gaxError("field not found")
	// ErrUnsupportedRecord is returned when a value is neither a protobuf
	// message nor a map[string]any.
	ErrUnsupportedRecord error = gaxError("unsupported record type")
	// ErrUnknownOperationError is the result of an operation that is done
	// but carries neither a response nor an error.
	ErrUnknownOperationError error = gaxError("unknown operation error")
)

func (e gaxError) Error() string { return string(e) }

// IsGax reports whether the error is a call-shaping infrastructure error.
func (gaxError) IsGax() bool { return true }

// Error returns the kind, followed by the cause when there is one.
func (e *RetryError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}

	var b strings.Builder

	b.WriteString(e.Kind.Error())
	b.WriteString(", caused by ")
	b.WriteString(e.Cause.Error())

	return b.String()
}

// Unwrap exposes both the kind and the cause to [errors.Is].
func (e *RetryError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Cause}
}

// IsGax reports true: retry errors always originate from this package.
func (*RetryError) IsGax() bool { return true }

func (e *OperationError) Error() string {
	return "operation " + e.Name + " failed: " + e.Cause.Error()
}

func (e *OperationError) Unwrap() error { return e.Cause }

// IsRetryExhausted reports whether err is a retry-exhausted failure.
func IsRetryExhausted(err error) bool {
	var re *RetryError

	return errors.As(err, &re) && re.Kind == ErrRetriesExhausted
}

// IsNotRetryable reports whether err is a non-retryable failure.
func IsNotRetryable(err error) bool {
	var re *RetryError

	return errors.As(err, &re) && re.Kind == ErrNotRetryable
}
