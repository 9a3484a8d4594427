package gax

import (
	"fmt"
	"slices"
	"time"

	"google.golang.org/grpc/metadata"
)

// DefaultTimeout is the timeout of settings built without an explicit one.
const DefaultTimeout = 30 * time.Second

// CallSettings is the resolved behaviour of one API method: how long a call
// may take, whether and how it is retried, paged or bundled, and which
// metadata it carries. Settings are values; [CallSettings.Merge] returns a
// new one and never modifies its receiver.
type CallSettings struct {
	// Timeout bounds a call that is not retried.
	Timeout time.Duration
	// Retry enables retrying. Nil disables it.
	Retry *RetryPolicy
	// PageDescriptor marks the method as paginated.
	PageDescriptor *PageDescriptor
	// PageToken, when set, streams pages starting at that token instead of
	// flattening resources.
	PageToken *PageToken
	// BundleDescriptor marks the method as bundleable.
	BundleDescriptor *BundleDescriptor
	// Bundler schedules bundled calls. Bundling is active only when both
	// Bundler and BundleDescriptor are set.
	Bundler *Executor
	// Metadata is attached to the outgoing context of every call.
	Metadata metadata.MD
}

// FlattenPages reports whether a paginated call yields resources rather
// than pages.
func (s CallSettings) FlattenPages() bool { return s.PageToken == nil }

// Bundling reports whether calls are routed through the bundler.
func (s CallSettings) Bundling() bool {
	return s.Bundler != nil && s.BundleDescriptor != nil
}

// Validate rejects settings that are both paginated and bundled.
func (s CallSettings) Validate() error {
	if s.PageDescriptor != nil && s.Bundling() {
		return ErrConfigConflict
	}

	return s.Retry.Validate()
}

// Merge returns s overridden by opts. Fields opts leaves to inherit keep
// the value from s; a page token override switches the call to page
// streaming; bundling stays on only if opts asks for it and s carries a
// bundler; metadata keys of opts replace those of s.
func (s CallSettings) Merge(opts *CallOptions) CallSettings {
	merged := s
	merged.Metadata = s.Metadata.Copy()

	if opts == nil {
		return merged
	}

	merged.Timeout = opts.Timeout.Or(s.Timeout)
	merged.Retry = opts.Retry.Or(s.Retry)

	if token, ok := opts.PageToken.Get(); ok {
		merged.PageToken = &token
	}

	if !opts.IsBundling {
		merged.Bundler = nil
	}

	if len(opts.Metadata) > 0 {
		if merged.Metadata == nil {
			merged.Metadata = metadata.MD{}
		}

		for k, v := range opts.Metadata {
			merged.Metadata[k] = slices.Clone(v)
		}
	}

	return merged
}

// Inheritable is a call option field that either inherits the method's
// setting (the zero value) or overrides it.
type Inheritable[T any] struct {
	value T
	set   bool
}

// Override returns an Inheritable overriding the setting with v.
func Override[T any](v T) Inheritable[T] {
	return Inheritable[T]{value: v, set: true}
}

// Get returns the override, and false when the setting is inherited.
//
//nolint:ireturn // generic type parameter T, not an interface
func (i Inheritable[T]) Get() (T, bool) { return i.value, i.set }

// Or returns the override, or def when the setting is inherited.
//
//nolint:ireturn // generic type parameter T, not an interface
func (i Inheritable[T]) Or(def T) T {
	if i.set {
		return i.value
	}

	return def
}

// IsInherited reports whether the setting is inherited.
func (i Inheritable[T]) IsInherited() bool { return !i.set }

// CallOptions overrides [CallSettings] for a single call. Build it with
// [NewCallOptions].
type CallOptions struct {
	Timeout    Inheritable[time.Duration]
	Retry      Inheritable[*RetryPolicy]
	PageToken  Inheritable[PageToken]
	IsBundling bool
	Metadata   metadata.MD
}

// CallOption configures [CallOptions].
type CallOption func(*CallOptions)

// WithCallTimeout overrides the timeout of a call that is not retried.
func WithCallTimeout(d time.Duration) CallOption {
	return func(o *CallOptions) { o.Timeout = Override(d) }
}

// WithRetry overrides the retry policy.
func WithRetry(p *RetryPolicy) CallOption {
	return func(o *CallOptions) { o.Retry = Override(p) }
}

// WithoutRetry disables retrying.
func WithoutRetry() CallOption {
	return WithRetry(nil)
}

// WithPageToken streams pages starting at token. Use [InitialPage] to
// stream from the first page.
func WithPageToken(token PageToken) CallOption {
	return func(o *CallOptions) { o.PageToken = Override(token) }
}

// WithBundling routes the call through the method's bundler, if it has one.
func WithBundling() CallOption {
	return func(o *CallOptions) { o.IsBundling = true }
}

// WithMetadata adds key/value pairs to the call's outgoing metadata. Keys
// also present in the method's settings replace them.
func WithMetadata(kv ...string) CallOption {
	return func(o *CallOptions) {
		o.Metadata = metadata.Join(o.Metadata, metadata.Pairs(kv...))
	}
}

// NewCallOptions builds call options. Overriding both the timeout and the
// retry policy is rejected with [ErrIncompatibleOptions]: a retried call
// takes its timeouts from the policy.
func NewCallOptions(opts ...CallOption) (*CallOptions, error) {
	o := &CallOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if !o.Timeout.IsInherited() && !o.Retry.IsInherited() {
		return nil, fmt.Errorf(
			"%w: timeout %v with retry policy",
			ErrIncompatibleOptions, o.Timeout.value,
		)
	}

	return o, nil
}
