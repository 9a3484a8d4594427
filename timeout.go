package gax

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// timeoutError is returned by [DoTimeout] when the call outlives its
// timeout. It matches [ErrTimeout] and carries DEADLINE_EXCEEDED so retry
// policies classify it like a server-side deadline.
type timeoutError struct {
	timeout time.Duration
}

func (e *timeoutError) Error() string {
	return "gax: call timed out after " + e.timeout.String()
}

func (*timeoutError) Is(target error) bool { return target == ErrTimeout }

func (*timeoutError) IsGax() bool { return true }

func (e *timeoutError) GRPCStatus() *status.Status {
	return status.New(codes.DeadlineExceeded, e.Error())
}

// DoTimeout invokes call with req under a deadline of timeout. If the call
// does not return in time its context is cancelled and an error matching
// [ErrTimeout] is returned. Cancellation of ctx itself is reported as
// ctx.Err(). A non-positive timeout invokes call directly.
//
//nolint:ireturn // generic type parameter Resp, not an interface
func DoTimeout[Req, Resp any](
	ctx context.Context,
	timeout time.Duration,
	call APICall[Req, Resp],
	req Req,
	hooks *Hooks,
) (Resp, error) {
	var zero Resp

	if ctx.Err() != nil {
		return zero, ctx.Err() //nolint:wrapcheck // preserving context error identity
	}

	if timeout <= 0 {
		return call(ctx, req)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val Resp
		err error
	}

	ch := make(chan result, 1)

	go func() {
		v, err := call(timeoutCtx, req)
		ch <- result{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err() //nolint:wrapcheck // preserving context error identity
		}

		hooks.emitTimeout()

		return zero, &timeoutError{timeout: timeout}
	}
}

// WithTimeout wraps call so that every invocation runs through [DoTimeout].
func WithTimeout[Req, Resp any](
	call APICall[Req, Resp],
	timeout time.Duration,
	hooks *Hooks,
) APICall[Req, Resp] {
	return func(ctx context.Context, req Req) (Resp, error) {
		return DoTimeout(ctx, timeout, call, req, hooks)
	}
}
