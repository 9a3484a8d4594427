package gax

import "context"

// APICall is the shape of a unary RPC: a request in, a response or a
// classified error out.
type APICall[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Middleware wraps an API call with additional behaviour, such as a
// timeout or a retry loop.
type Middleware[Req, Resp any] func(next APICall[Req, Resp]) APICall[Req, Resp]

// Chain composes middlewares into one. The first middleware is the
// outermost wrapper: Chain(a, b, c) produces a(b(c(next))). Chain() with
// no middlewares passes through to next.
func Chain[Req, Resp any](middlewares ...Middleware[Req, Resp]) Middleware[Req, Resp] {
	return func(next APICall[Req, Resp]) APICall[Req, Resp] {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}

		return next
	}
}
