package gax

import (
	"context"
	"fmt"

	"google.golang.org/grpc/metadata"
)

// Callable layers the policies of a method's [CallSettings] around a raw
// API call. Each invocation merges the settings with the call's options:
// the call carries the settings' metadata, is retried under the retry
// policy or else bounded by the timeout, and may be paged or bundled.
//
// A Callable is safe for concurrent use.
type Callable[Req, Resp any] struct {
	call     APICall[Req, Resp]
	settings CallSettings
	opts     options
	user     []Middleware[Req, Resp]
}

// NewCallable returns a callable for call. It fails with
// [ErrConfigConflict] if settings are both paginated and bundled.
func NewCallable[Req, Resp any](
	call APICall[Req, Resp],
	settings CallSettings,
	opts ...Option,
) (*Callable[Req, Resp], error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &Callable[Req, Resp]{
		call:     call,
		settings: settings,
		opts:     buildOptions(opts),
	}, nil
}

// Settings returns the method's default settings.
func (c *Callable[Req, Resp]) Settings() CallSettings { return c.settings }

// With returns a copy of c that also runs mws, innermost, around the raw
// call on every attempt.
func (c *Callable[Req, Resp]) With(mws ...Middleware[Req, Resp]) *Callable[Req, Resp] {
	cp := *c
	cp.user = append(append([]Middleware[Req, Resp](nil), c.user...), mws...)

	return &cp
}

// resolve merges the call options into the method's settings.
func (c *Callable[Req, Resp]) resolve(opts []CallOption) (CallSettings, error) {
	if len(opts) == 0 {
		return c.settings, nil
	}

	co, err := NewCallOptions(opts...)
	if err != nil {
		return CallSettings{}, err
	}

	merged := c.settings.Merge(co)
	if err := merged.Validate(); err != nil {
		return CallSettings{}, err
	}

	return merged, nil
}

// wrap builds the per-call middleware stack for settings.
func (c *Callable[Req, Resp]) wrap(settings CallSettings) APICall[Req, Resp] {
	layers := []Layer[Req, Resp]{{
		Name:     "metadata",
		Priority: PriorityMetadata,
		MW:       withMetadata[Req, Resp](settings.Metadata),
	}}

	if settings.Retry != nil && len(settings.Retry.Codes) > 0 {
		params := RetryParams{Policy: settings.Retry, Clock: c.opts.clock, Hooks: c.opts.hooks}
		layers = append(layers, Layer[Req, Resp]{
			Name:     "retry",
			Priority: PriorityRetry,
			MW: func(next APICall[Req, Resp]) APICall[Req, Resp] {
				return Retryable(next, params)
			},
		})
	} else {
		layers = append(layers, Layer[Req, Resp]{
			Name:     "timeout",
			Priority: PriorityTimeout,
			MW: func(next APICall[Req, Resp]) APICall[Req, Resp] {
				return WithTimeout(next, settings.Timeout, c.opts.hooks)
			},
		})
	}

	for i, mw := range c.user {
		layers = append(layers, Layer[Req, Resp]{
			Name:     fmt.Sprintf("user-%d", i),
			Priority: PriorityUser,
			MW:       mw,
		})
	}

	return Chain(SortLayers(layers)...)(c.call)
}

// Call invokes the method. When the merged settings enable bundling, the
// request is scheduled on the bundler and Call waits for its bundle; if ctx
// ends first, the request is withdrawn from the bundle when still possible.
//
//nolint:ireturn // generic type parameter Resp, not an interface
func (c *Callable[Req, Resp]) Call(ctx context.Context, req Req, opts ...CallOption) (Resp, error) {
	var zero Resp

	settings, err := c.resolve(opts)
	if err != nil {
		return zero, err
	}

	if !settings.Bundling() {
		return c.wrap(settings)(ctx, req)
	}

	ev, err := c.schedule(ctx, settings, req)
	if err != nil {
		return zero, err
	}

	resp, err := EventResult[Resp](ctx, ev)
	if err != nil && ctx.Err() != nil {
		ev.Cancel()
	}

	return resp, err
}

// Schedule adds req to the method's bundler and returns the event that will
// hold the outcome of its bundle. It fails with [ErrBundlingDisabled] when
// the merged settings do not bundle; call options must then include
// [WithBundling].
func (c *Callable[Req, Resp]) Schedule(ctx context.Context, req Req, opts ...CallOption) (*Event, error) {
	settings, err := c.resolve(opts)
	if err != nil {
		return nil, err
	}

	if !settings.Bundling() {
		return nil, ErrBundlingDisabled
	}

	return c.schedule(ctx, settings, req)
}

func (c *Callable[Req, Resp]) schedule(ctx context.Context, settings CallSettings, req Req) (*Event, error) {
	desc := settings.BundleDescriptor

	id, err := ComputeBundleID(req, desc.DiscriminatorFields)
	if err != nil {
		return nil, err
	}

	inner := c.wrap(settings)
	call := func(ctx context.Context, r any) (any, error) {
		typed, ok := r.(Req)
		if !ok {
			return nil, fmt.Errorf("gax: bundled request is %T", r)
		}

		return inner(ctx, typed)
	}

	return settings.Bundler.Schedule(ctx, call, id, desc, req)
}

// Pages returns an iterator over the pages of the method. It starts at the
// page token given with [WithPageToken], or at the first page.
func (c *Callable[Req, Resp]) Pages(
	ctx context.Context,
	req Req,
	opts ...CallOption,
) (*PageIterator[Req, Resp], error) {
	settings, err := c.resolve(opts)
	if err != nil {
		return nil, err
	}

	return c.pages(ctx, settings, req)
}

func (c *Callable[Req, Resp]) pages(
	ctx context.Context,
	settings CallSettings,
	req Req,
) (*PageIterator[Req, Resp], error) {
	if settings.PageDescriptor == nil {
		return nil, ErrPagingDisabled
	}

	token := InitialPage
	if settings.PageToken != nil {
		token = *settings.PageToken
	}

	return NewPageIterator(
		ctx,
		c.wrap(settings),
		settings.PageDescriptor,
		token,
		req,
		WithHooks(c.opts.hooks),
	)
}

// Resources returns an iterator over the resources of all pages of c.
// Page streaming requested with [WithPageToken] cannot be flattened and is
// rejected; use [Callable.Pages] instead.
func Resources[R, Req, Resp any](
	ctx context.Context,
	c *Callable[Req, Resp],
	req Req,
	opts ...CallOption,
) (*ResourceIterator[R], error) {
	settings, err := c.resolve(opts)
	if err != nil {
		return nil, err
	}

	if !settings.FlattenPages() {
		return nil, fmt.Errorf("gax: page token %v requests page streaming", settings.PageToken)
	}

	pages, err := c.pages(ctx, settings, req)
	if err != nil {
		return nil, err
	}

	return NewResourceIterator[R](pages), nil
}

// withMetadata attaches md to the outgoing context of every call.
func withMetadata[Req, Resp any](md metadata.MD) Middleware[Req, Resp] {
	return func(next APICall[Req, Resp]) APICall[Req, Resp] {
		if len(md) == 0 {
			return next
		}

		return func(ctx context.Context, req Req) (Resp, error) {
			existing, _ := metadata.FromOutgoingContext(ctx)

			return next(metadata.NewOutgoingContext(ctx, metadata.Join(existing, md)), req)
		}
	}
}
