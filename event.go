package gax

import (
	"context"
	"fmt"
	"sync"
)

// Event is the completion handle of one scheduled bundled call. It is set
// once, when the bundle carrying the call's elements has been dispatched,
// and then holds the call's response or error.
type Event struct {
	once      sync.Once
	done      chan struct{}
	result    any
	err       error
	canceller func() bool
}

func newEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// failedEvent returns an event already set to err.
func failedEvent(err error) *Event {
	e := newEvent()
	e.set(nil, err)

	return e
}

func (e *Event) set(result any, err error) {
	e.once.Do(func() {
		e.result = result
		e.err = err
		close(e.done)
	})
}

// Done returns a channel closed when the event is set.
func (e *Event) Done() <-chan struct{} { return e.done }

// IsSet reports whether the event has been set.
func (e *Event) IsSet() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the event is set or ctx is done, and returns the
// bundled call's outcome.
func (e *Event) Wait(ctx context.Context) (any, error) {
	select {
	case <-e.done:
		return e.result, e.err
	case <-ctx.Done():
		return nil, ctx.Err() //nolint:wrapcheck // preserving context error identity
	}
}

// Cancel withdraws the call's elements from its bundle. It succeeds only if
// the bundle has not been dispatched yet; a cancelled event is never set.
func (e *Event) Cancel() bool {
	if e.canceller == nil {
		return false
	}

	return e.canceller()
}

// EventResult waits for e and asserts its response to Resp.
//
//nolint:ireturn // generic type parameter Resp, not an interface
func EventResult[Resp any](ctx context.Context, e *Event) (Resp, error) {
	var zero Resp

	v, err := e.Wait(ctx)
	if err != nil {
		return zero, err
	}

	resp, ok := v.(Resp)
	if !ok {
		return zero, fmt.Errorf("gax: bundled response is %T, want %T", v, zero)
	}

	return resp, nil
}
