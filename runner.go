package gax

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Runner runs background work, such as the polling loop started by
// [OperationFuture.AddDoneCallback]. Applications supply their own Runner
// to control the lifetime of that work.
type Runner interface {
	// Go runs fn asynchronously.
	Go(fn func(ctx context.Context) error)
}

// goRunner starts a goroutine per task with a background context.
type goRunner struct{}

func (goRunner) Go(fn func(ctx context.Context) error) {
	go func() { _ = fn(context.Background()) }()
}

// GroupRunner runs background work in an errgroup bound to a context:
// cancelling that context stops the work, and Wait collects it.
type GroupRunner struct {
	group *errgroup.Group
	ctx   context.Context //nolint:containedctx // shared by every task of the group
}

// NewGroupRunner returns a runner whose tasks observe ctx. The first task
// to fail cancels the others.
func NewGroupRunner(ctx context.Context) *GroupRunner {
	g, gctx := errgroup.WithContext(ctx)

	return &GroupRunner{group: g, ctx: gctx}
}

// Go runs fn in the group.
func (r *GroupRunner) Go(fn func(ctx context.Context) error) {
	r.group.Go(func() error { return fn(r.ctx) })
}

// Wait blocks until every task has returned and reports the first error.
func (r *GroupRunner) Wait() error {
	return r.group.Wait() //nolint:wrapcheck // task errors are returned as-is
}
