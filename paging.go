package gax

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/api/iterator"
)

// PageDescriptor names the fields a paginated method uses.
type PageDescriptor struct {
	// RequestPageTokenField is the request field the page token is
	// written to.
	RequestPageTokenField string
	// ResponsePageTokenField is the response field holding the token of
	// the next page. An empty token ends the sequence.
	ResponsePageTokenField string
	// ResourceField is the repeated response field holding the page's
	// resources.
	ResourceField string
}

// PageToken selects where a page sequence starts: either at the initial
// page, leaving the request's token field untouched, or at an explicit
// token.
type PageToken struct {
	value   string
	initial bool
}

// InitialPage starts a page sequence with the request as given.
//
//nolint:gochecknoglobals // immutable variant value
var InitialPage = PageToken{initial: true}

// Token starts a page sequence at token.
func Token(token string) PageToken {
	return PageToken{value: token}
}

// IsInitial reports whether t is [InitialPage].
func (t PageToken) IsInitial() bool { return t.initial }

// Value returns the explicit token; it is empty for [InitialPage].
func (t PageToken) Value() string { return t.value }

func (t PageToken) String() string {
	if t.initial {
		return "<initial page>"
	}

	return t.value
}

// PageIterator fetches the pages of a paginated method one call at a time.
//
// The iterator owns req: it writes each page token into that same request
// before the call, so the caller must not read or modify req until
// iteration is over.
type PageIterator[Req, Resp any] struct {
	ctx   context.Context //nolint:containedctx // iterators fetch lazily
	call  APICall[Req, Resp]
	desc  *PageDescriptor
	req   Req
	rec   Record
	token PageToken
	hooks *Hooks

	resp    Resp
	next    string
	fetched bool
	done    bool
	err     error
}

// NewPageIterator returns an iterator over the pages of call starting at
// token. Req must be a protobuf message or a map[string]any.
func NewPageIterator[Req, Resp any](
	ctx context.Context,
	call APICall[Req, Resp],
	desc *PageDescriptor,
	token PageToken,
	req Req,
	opts ...Option,
) (*PageIterator[Req, Resp], error) {
	rec, err := AsRecord(req)
	if err != nil {
		return nil, fmt.Errorf("gax: paged request: %w", err)
	}

	o := buildOptions(opts)

	return &PageIterator[Req, Resp]{
		ctx:   ctx,
		call:  call,
		desc:  desc,
		req:   req,
		rec:   rec,
		token: token,
		hooks: o.hooks,
	}, nil
}

// Next fetches the next page and returns its resources. It returns
// [iterator.Done] after the page whose next-page token is empty. A failed
// fetch ends the iteration; the error is returned by every later call.
func (it *PageIterator[Req, Resp]) Next() ([]any, error) {
	if it.err != nil {
		return nil, it.err
	}

	if it.done {
		return nil, iterator.Done
	}

	items, err := it.fetch()
	if err != nil {
		it.err = err

		return nil, err
	}

	return items, nil
}

func (it *PageIterator[Req, Resp]) fetch() ([]any, error) {
	if !it.token.IsInitial() {
		if err := it.rec.Set(it.desc.RequestPageTokenField, it.token.Value()); err != nil {
			return nil, fmt.Errorf("gax: writing page token: %w", err)
		}
	}

	resp, err := it.call(it.ctx, it.req)
	if err != nil {
		return nil, err
	}

	rec, err := AsRecord(resp)
	if err != nil {
		return nil, fmt.Errorf("gax: paged response: %w", err)
	}

	raw, err := rec.Get(it.desc.ResponsePageTokenField)
	if err != nil {
		return nil, fmt.Errorf("gax: reading next page token: %w", err)
	}

	items, err := rec.List(it.desc.ResourceField)
	if err != nil {
		return nil, fmt.Errorf("gax: reading page resources: %w", err)
	}

	it.resp = resp
	it.fetched = true
	it.next = tokenString(raw)

	if it.next == "" {
		it.done = true
	} else {
		it.token = Token(it.next)
	}

	it.hooks.emitPageFetched(len(items))

	return items, nil
}

// Response returns the response of the last fetched page, and false if no
// page was fetched yet.
//
//nolint:ireturn // generic type parameter Resp, not an interface
func (it *PageIterator[Req, Resp]) Response() (Resp, bool) {
	return it.resp, it.fetched
}

// NextPageToken returns the token of the page after the last fetched one.
// It is empty once the sequence is over.
func (it *PageIterator[Req, Resp]) NextPageToken() string { return it.next }

// All yields the remaining pages. Iteration stops after the first error,
// which is yielded with a nil page.
func (it *PageIterator[Req, Resp]) All() iter.Seq2[[]any, error] {
	return func(yield func([]any, error) bool) {
		for {
			page, err := it.Next()
			if err == iterator.Done { //nolint:errorlint // sentinel returned unwrapped
				return
			}

			if !yield(page, err) || err != nil {
				return
			}
		}
	}
}

// ResourceIterator yields the resources of a page sequence one at a time,
// skipping empty pages.
type ResourceIterator[R any] struct {
	next func() ([]any, error)
	buf  []any
}

// NewResourceIterator flattens pages into its resources, asserting each to
// R.
func NewResourceIterator[R, Req, Resp any](pages *PageIterator[Req, Resp]) *ResourceIterator[R] {
	return &ResourceIterator[R]{next: pages.Next}
}

// Next returns the next resource, or [iterator.Done] when there are none
// left.
//
//nolint:ireturn // generic type parameter R, not an interface
func (it *ResourceIterator[R]) Next() (R, error) {
	var zero R

	for len(it.buf) == 0 {
		page, err := it.next()
		if err != nil {
			return zero, err
		}

		it.buf = page
	}

	v := it.buf[0]
	it.buf = it.buf[1:]

	r, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("gax: resource is %T, want %T", v, zero)
	}

	return r, nil
}

// All yields the remaining resources. Iteration stops after the first
// error.
func (it *ResourceIterator[R]) All() iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		for {
			r, err := it.Next()
			if err == iterator.Done { //nolint:errorlint // sentinel returned unwrapped
				return
			}

			if !yield(r, err) || err != nil {
				return
			}
		}
	}
}

func tokenString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}
