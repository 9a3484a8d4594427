package gax

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Executor coalesces scheduled calls that share a bundle id into single
// downstream calls, dispatching each bundle when a threshold of its
// [BundleOptions] is reached.
//
// mu guards the task map, task contents and cancellation. runMu serialises
// dispatch: two bundles of one executor never run concurrently, whether a
// threshold or a delay timer triggered them.
type Executor struct {
	opts   BundleOptions
	clock  Clock
	hooks  *Hooks
	logger *zap.Logger

	mu    sync.Mutex
	runMu sync.Mutex
	tasks map[string]*bundleTask
}

// NewExecutor returns an executor dispatching bundles according to opts.
func NewExecutor(opts BundleOptions, options ...Option) (*Executor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	o := buildOptions(options)

	return &Executor{
		opts:   opts,
		clock:  o.clock,
		hooks:  o.hooks,
		logger: o.logger,
		tasks:  make(map[string]*bundleTask),
	}, nil
}

// Options returns the executor's bundle options.
func (e *Executor) Options() BundleOptions { return e.opts }

// bundleTask accumulates the batches of one bundle id until it runs.
type bundleTask struct {
	id      string
	ctx     context.Context //nolint:containedctx // carried to the deferred downstream call
	call    APICall[any, any]
	desc    *BundleDescriptor
	request Record
	timer   Timer
	created time.Time
	batches []*batch
	sent    bool
}

type batch struct {
	elems []any
	size  int
	event *Event
}

func (t *bundleTask) elementCount() int {
	n := 0
	for _, b := range t.batches {
		n += len(b.elems)
	}

	return n
}

func (t *bundleTask) byteSize() int {
	n := 0
	for _, b := range t.batches {
		n += b.size
	}

	return n
}

// Schedule adds the elements of req's bundled field to the bundle for id
// and returns the event that will receive the outcome of the bundled call.
//
// The bundle is dispatched synchronously, before Schedule returns, if this
// request makes it reach a threshold. Errors from call are delivered through
// the event; Schedule itself fails only when req cannot be read.
//
// The first request scheduled for a bundle is cloned as the template of the
// bundled request, and call runs with that request's context detached from
// its cancellation.
func (e *Executor) Schedule(
	ctx context.Context,
	call APICall[any, any],
	id string,
	desc *BundleDescriptor,
	req any,
) (*Event, error) {
	rec, err := AsRecord(req)
	if err != nil {
		return nil, err
	}

	elems, err := rec.List(desc.BundledField)
	if err != nil {
		return nil, fmt.Errorf("gax: bundled field: %w", err)
	}

	elems = slices.Clone(elems)

	size := 0
	for _, el := range elems {
		size += elementSize(el)
	}

	if e.opts.exceedsLimit(len(elems), size) {
		return failedEvent(fmt.Errorf(
			"%w: %d elements, %d bytes",
			ErrBundleLimitExceeded, len(elems), size,
		)), nil
	}

	var ready []*bundleTask

	e.mu.Lock()

	task := e.tasks[id]
	if task != nil && e.opts.exceedsLimit(task.elementCount()+len(elems), task.byteSize()+size) {
		ready = append(ready, e.popLocked(task))
		task = nil
	}

	if task == nil {
		task = e.newTaskLocked(ctx, call, id, desc, rec)
	}

	b := &batch{elems: elems, size: size, event: newEvent()}
	b.event.canceller = e.cancellerFor(task, b)
	task.batches = append(task.batches, b)

	if e.opts.reachesThreshold(task.elementCount(), task.byteSize()) {
		ready = append(ready, e.popLocked(task))
	}

	e.mu.Unlock()

	for _, t := range ready {
		e.run(t)
	}

	return b.event, nil
}

// Flush dispatches every pending bundle.
func (e *Executor) Flush() {
	e.mu.Lock()

	ready := make([]*bundleTask, 0, len(e.tasks))
	for _, t := range e.tasks {
		ready = append(ready, e.popLocked(t))
	}

	e.mu.Unlock()

	slices.SortFunc(ready, func(a, b *bundleTask) int { return a.created.Compare(b.created) })

	for _, t := range ready {
		e.run(t)
	}
}

func (e *Executor) newTaskLocked(
	ctx context.Context,
	call APICall[any, any],
	id string,
	desc *BundleDescriptor,
	req Record,
) *bundleTask {
	task := &bundleTask{
		id:      id,
		ctx:     context.WithoutCancel(ctx),
		call:    call,
		desc:    desc,
		request: req.Clone(),
		created: e.clock.Now(),
	}

	if e.opts.DelayThreshold > 0 {
		task.timer = e.clock.AfterFunc(e.opts.DelayThreshold, func() {
			e.runIfPending(task)
		})
	}

	e.tasks[id] = task

	return task
}

// popLocked removes task from the map and marks it sent, so that its
// batches can no longer be cancelled.
func (e *Executor) popLocked(task *bundleTask) *bundleTask {
	if e.tasks[task.id] == task {
		delete(e.tasks, task.id)
	}

	task.sent = true

	if task.timer != nil {
		task.timer.Stop()
	}

	return task
}

// runIfPending runs task unless a threshold already did.
func (e *Executor) runIfPending(task *bundleTask) {
	e.mu.Lock()

	if task.sent {
		e.mu.Unlock()

		return
	}

	e.popLocked(task)
	e.mu.Unlock()

	e.run(task)
}

func (e *Executor) cancellerFor(task *bundleTask, b *batch) func() bool {
	return func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()

		if task.sent {
			return false
		}

		i := slices.Index(task.batches, b)
		if i < 0 {
			return false
		}

		task.batches = slices.Delete(task.batches, i, i+1)

		return true
	}
}

func (e *Executor) run(task *bundleTask) {
	if len(task.batches) == 0 {
		return
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	var elems []any
	for _, b := range task.batches {
		elems = append(elems, b.elems...)
	}

	req := task.request.Clone()
	if err := req.SetList(task.desc.BundledField, elems); err != nil {
		task.broadcast(nil, fmt.Errorf("gax: building bundled request: %w", err))

		return
	}

	resp, err := task.call(task.ctx, req.Unwrap())

	e.hooks.emitBundleSent(len(elems), len(task.batches), e.clock.Since(task.created))

	switch {
	case err != nil:
		task.broadcast(nil, err)
	case task.desc.SubresponseField == "":
		task.broadcast(resp, nil)
	default:
		e.demultiplex(task, resp, len(elems))
	}
}

// demultiplex hands each batch a copy of resp holding only its slice of the
// subresponse field. When the subresponses do not line up with the
// batches, every batch receives the whole response.
func (e *Executor) demultiplex(task *bundleTask, resp any, want int) {
	field := task.desc.SubresponseField

	rec, err := AsRecord(resp)
	if err != nil {
		e.logger.Warn("cannot demultiplex the bundled response",
			zap.String("bundle_id", task.id), zap.Error(err))
		task.broadcast(resp, nil)

		return
	}

	subs, err := rec.List(field)
	if err != nil || len(subs) != want {
		e.logger.Warn(
			"cannot demultiplex the bundled response, each bundled request will receive all responses",
			zap.String("bundle_id", task.id),
			zap.Int("got", len(subs)),
			zap.Int("want", want),
			zap.Error(err),
		)
		e.hooks.emitDemuxMismatch(len(subs), want)
		task.broadcast(resp, nil)

		return
	}

	start := 0

	for _, b := range task.batches {
		part := rec.Clone()
		end := start + len(b.elems)

		if err := part.SetList(field, slices.Clone(subs[start:end])); err != nil {
			b.event.set(nil, fmt.Errorf("gax: demultiplexing response: %w", err))
		} else {
			b.event.set(part.Unwrap(), nil)
		}

		start = end
	}
}

func (t *bundleTask) broadcast(resp any, err error) {
	for _, b := range t.batches {
		b.event.set(resp, err)
	}
}
