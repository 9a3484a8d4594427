package gax

import "go.uber.org/zap"

// options holds the collaborators shared by executors, callables and
// operation futures.
type options struct {
	clock  Clock
	hooks  *Hooks
	logger *zap.Logger
	runner Runner
}

// Option configures an [Executor], a [Callable] or an [OperationFuture].
type Option func(*options)

// WithClock sets the clock used for deadlines, backoff sleeps and bundle
// timers. The default is [RealClock].
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithHooks sets the lifecycle hooks.
func WithHooks(h *Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRunner sets where background work, such as operation polling for
// done callbacks, is run. The default starts a goroutine.
func WithRunner(r Runner) Option {
	return func(o *options) { o.runner = r }
}

func buildOptions(opts []Option) options {
	o := options{
		clock:  RealClock{},
		logger: zap.NewNop(),
		runner: goRunner{},
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.clock == nil {
		o.clock = RealClock{}
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if o.runner == nil {
		o.runner = goRunner{}
	}

	return o
}
