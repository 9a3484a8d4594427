package gax

import "time"

// Hooks holds optional callback functions for call lifecycle events. All
// fields are nil by default; callers set only the hooks they care about.
// A Hooks value must not be mutated once it has been handed to a call:
// emit methods read the function fields without synchronisation.
//
// See the otelgax package for an OpenTelemetry implementation.
type Hooks struct {
	// OnRetry is called before each backoff sleep with the 1-indexed
	// attempt number that failed and its error.
	OnRetry func(attempt int, err error)
	// OnRetriesExhausted is called when the total deadline elapses.
	OnRetriesExhausted func(attempts int, err error)
	// OnTimeout is called when a non-retrying call exceeds its timeout.
	OnTimeout func()
	// OnBundleSent is called each time a bundle is dispatched with the
	// number of elements and the number of callers it carries.
	OnBundleSent func(elements, callers int, elapsed time.Duration)
	// OnDemuxMismatch is called when a bundled response cannot be
	// demultiplexed and is broadcast instead.
	OnDemuxMismatch func(got, want int)
	// OnPageFetched is called after each page with its resource count.
	OnPageFetched func(resources int)
	// OnOperationPolled is called after each poll of a long-running
	// operation.
	OnOperationPolled func(name string, done bool)
}

func (h *Hooks) emitRetry(attempt int, err error) {
	if h != nil && h.OnRetry != nil {
		h.OnRetry(attempt, err)
	}
}

func (h *Hooks) emitRetriesExhausted(attempts int, err error) {
	if h != nil && h.OnRetriesExhausted != nil {
		h.OnRetriesExhausted(attempts, err)
	}
}

func (h *Hooks) emitTimeout() {
	if h != nil && h.OnTimeout != nil {
		h.OnTimeout()
	}
}

func (h *Hooks) emitBundleSent(elements, callers int, elapsed time.Duration) {
	if h != nil && h.OnBundleSent != nil {
		h.OnBundleSent(elements, callers, elapsed)
	}
}

func (h *Hooks) emitDemuxMismatch(got, want int) {
	if h != nil && h.OnDemuxMismatch != nil {
		h.OnDemuxMismatch(got, want)
	}
}

func (h *Hooks) emitPageFetched(resources int) {
	if h != nil && h.OnPageFetched != nil {
		h.OnPageFetched(resources)
	}
}

func (h *Hooks) emitOperationPolled(name string, done bool) {
	if h != nil && h.OnOperationPolled != nil {
		h.OnOperationPolled(name, done)
	}
}
