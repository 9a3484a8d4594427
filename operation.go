package gax

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/emptypb"
)

// OperationsClient is the part of the long-running operations service an
// [OperationFuture] uses. longrunningpb.OperationsClient satisfies it.
type OperationsClient interface {
	GetOperation(
		ctx context.Context,
		in *longrunningpb.GetOperationRequest,
		opts ...grpc.CallOption,
	) (*longrunningpb.Operation, error)
	CancelOperation(
		ctx context.Context,
		in *longrunningpb.CancelOperationRequest,
		opts ...grpc.CallOption,
	) (*emptypb.Empty, error)
}

// OperationFuture tracks a server-side long-running operation whose
// response is an R and whose metadata is an M.
//
// Status is refreshed by polling until the operation is done; the terminal
// operation is then cached and never fetched again.
type OperationFuture[R, M proto.Message] struct {
	client OperationsClient
	opts   options

	mu        sync.Mutex
	op        *longrunningpb.Operation
	resultSet bool
	result    R
	err       error
	callbacks []func(*OperationFuture[R, M])
	polling   bool
}

// NewOperationFuture returns a future for op, polled through client.
func NewOperationFuture[R, M proto.Message](
	op *longrunningpb.Operation,
	client OperationsClient,
	opts ...Option,
) *OperationFuture[R, M] {
	f := &OperationFuture[R, M]{
		client: client,
		opts:   buildOptions(opts),
		op:     op,
	}

	f.mu.Lock()
	f.setResultLocked()
	f.mu.Unlock()

	return f
}

// Name returns the operation's server-assigned name.
func (f *OperationFuture[R, M]) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.op.GetName()
}

// Operation returns a copy of the last operation snapshot.
func (f *OperationFuture[R, M]) Operation() *longrunningpb.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()

	return proto.Clone(f.op).(*longrunningpb.Operation) //nolint:forcetypeassert // Clone preserves the type
}

// refresh fetches the operation unless it is already known to be done.
func (f *OperationFuture[R, M]) refresh(ctx context.Context) (*longrunningpb.Operation, error) {
	f.mu.Lock()
	op := f.op
	f.mu.Unlock()

	if op.GetDone() {
		return op, nil
	}

	fresh, err := f.client.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: op.GetName()})
	if err != nil {
		return nil, fmt.Errorf("gax: polling operation %s: %w", op.GetName(), err)
	}

	f.opts.hooks.emitOperationPolled(fresh.GetName(), fresh.GetDone())

	f.mu.Lock()

	if f.op.GetDone() {
		op = f.op
		f.mu.Unlock()

		return op, nil
	}

	f.op = fresh
	callbacks := f.setResultLocked()
	f.mu.Unlock()

	f.invoke(callbacks)

	return fresh, nil
}

// setResultLocked records the outcome of a done operation once and returns
// the callbacks to run.
func (f *OperationFuture[R, M]) setResultLocked() []func(*OperationFuture[R, M]) {
	if !f.op.GetDone() || f.resultSet {
		return nil
	}

	switch {
	case f.op.GetResponse() != nil:
		f.result, f.err = unpackAny[R](f.op.GetResponse())
	case f.op.GetError() != nil:
		f.err = &OperationError{
			Name:  f.op.GetName(),
			Cause: status.ErrorProto(f.op.GetError()),
		}
	default:
		f.err = fmt.Errorf("%w: operation %s", ErrUnknownOperationError, f.op.GetName())
	}

	f.resultSet = true
	callbacks := f.callbacks
	f.callbacks = nil

	return callbacks
}

// Done refreshes the operation and reports whether it is complete.
func (f *OperationFuture[R, M]) Done(ctx context.Context) (bool, error) {
	op, err := f.refresh(ctx)
	if err != nil {
		return false, err
	}

	return op.GetDone(), nil
}

// Running reports whether the operation is still in progress.
func (f *OperationFuture[R, M]) Running(ctx context.Context) (bool, error) {
	done, err := f.Done(ctx)

	return !done, err
}

// Cancelled reports whether the operation ended because it was cancelled.
func (f *OperationFuture[R, M]) Cancelled(ctx context.Context) (bool, error) {
	op, err := f.refresh(ctx)
	if err != nil {
		return false, err
	}

	return op.GetError() != nil && codes.Code(op.GetError().GetCode()) == codes.Canceled, nil
}

// Cancel asks the server to cancel the operation. It returns false without
// a request when the operation is already done.
func (f *OperationFuture[R, M]) Cancel(ctx context.Context) (bool, error) {
	done, err := f.Done(ctx)
	if err != nil || done {
		return false, err
	}

	if _, err := f.client.CancelOperation(
		ctx,
		&longrunningpb.CancelOperationRequest{Name: f.Name()},
	); err != nil {
		return false, fmt.Errorf("gax: cancelling operation %s: %w", f.Name(), err)
	}

	return true, nil
}

// Metadata unpacks the metadata of the last snapshot. It returns the zero M
// when the operation carries none.
//
//nolint:ireturn // generic type parameter M, not an interface
func (f *OperationFuture[R, M]) Metadata() (M, error) {
	f.mu.Lock()
	md := f.op.GetMetadata()
	f.mu.Unlock()

	if md == nil {
		var zero M

		return zero, nil
	}

	return unpackAny[M](md)
}

// Result blocks until the operation is done and returns its response, or
// an [*OperationError] when it failed. Polling backs off from one second
// up to thirty; a positive timeout bounds the wait with a retry-exhausted
// error, zero waits until ctx is done.
//
//nolint:ireturn // generic type parameter R, not an interface
func (f *OperationFuture[R, M]) Result(ctx context.Context, timeout time.Duration) (R, error) {
	var zero R

	if err := f.blockingPoll(ctx, timeout); err != nil {
		return zero, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.result, f.err
}

func (f *OperationFuture[R, M]) blockingPoll(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	set := f.resultSet
	f.mu.Unlock()

	if set {
		return nil
	}

	backoff := DefaultPollingBackoff
	backoff.TotalTimeout = timeout

	_, err := DoRetry[struct{}, struct{}](ctx, f.pollOnce, struct{}{}, RetryParams{
		Policy: &RetryPolicy{Codes: NewCodeSet(codes.DeadlineExceeded), Backoff: backoff},
		Clock:  f.opts.clock,
		Hooks:  f.opts.hooks,
	})

	return err
}

// pollOnce fails with DEADLINE_EXCEEDED while the operation is running, so
// the retry loop keeps polling.
func (f *OperationFuture[R, M]) pollOnce(ctx context.Context, _ struct{}) (struct{}, error) {
	done, err := f.Done(ctx)
	if err != nil {
		return struct{}{}, err
	}

	if !done {
		return struct{}{}, status.Error(codes.DeadlineExceeded, "operation not complete")
	}

	return struct{}{}, nil
}

// AddDoneCallback arranges for fn to be called once the operation is done.
// fn runs immediately when it already is; otherwise a background poll is
// started on the future's [Runner] if none is running. Panics in fn are
// recovered and logged.
func (f *OperationFuture[R, M]) AddDoneCallback(fn func(*OperationFuture[R, M])) {
	f.mu.Lock()

	if f.resultSet {
		f.mu.Unlock()
		f.invoke([]func(*OperationFuture[R, M]){fn})

		return
	}

	f.callbacks = append(f.callbacks, fn)
	start := !f.polling
	f.polling = true
	f.mu.Unlock()

	if !start {
		return
	}

	f.opts.runner.Go(func(ctx context.Context) error {
		err := f.blockingPoll(ctx, 0)

		f.mu.Lock()
		f.polling = false
		f.mu.Unlock()

		if err != nil {
			f.opts.logger.Error("polling operation for done callbacks",
				zap.String("operation", f.Name()), zap.Error(err))
		}

		return err
	})
}

func (f *OperationFuture[R, M]) invoke(callbacks []func(*OperationFuture[R, M])) {
	for _, fn := range callbacks {
		f.safeInvoke(fn)
	}
}

func (f *OperationFuture[R, M]) safeInvoke(fn func(*OperationFuture[R, M])) {
	defer func() {
		if p := recover(); p != nil {
			f.opts.logger.Error("operation done callback panicked",
				zap.String("operation", f.Name()), zap.Any("panic", p))
		}
	}()

	fn(f)
}

// unpackAny decodes a into a new message and asserts it to T.
//
//nolint:ireturn // generic type parameter T, not an interface
func unpackAny[T proto.Message](a *anypb.Any) (T, error) {
	var zero T

	msg, err := a.UnmarshalNew()
	if err != nil {
		return zero, fmt.Errorf("gax: unpacking %s: %w", a.GetTypeUrl(), err)
	}

	t, ok := msg.(T)
	if !ok {
		return zero, fmt.Errorf("gax: operation payload is %T, want %T", msg, zero)
	}

	return t, nil
}
