package gax

import (
	"context"
	"fmt"
)

// Invoke is a convenience function that runs a single call under settings
// without keeping a [Callable]. opts may mix component [Option]s, such as
// [WithClock] or [WithHooks], and per-call [CallOption]s, such as
// [WithCallTimeout]; any other value is rejected.
//
//nolint:ireturn // generic type parameter Resp, not an interface
func Invoke[Req, Resp any](
	ctx context.Context,
	call APICall[Req, Resp],
	req Req,
	settings CallSettings,
	opts ...any,
) (Resp, error) {
	var (
		zero     Resp
		options  []Option
		callOpts []CallOption
	)

	for _, opt := range opts {
		switch o := opt.(type) {
		case Option:
			options = append(options, o)
		case CallOption:
			callOpts = append(callOpts, o)
		default:
			return zero, fmt.Errorf("gax: unsupported option %T", opt)
		}
	}

	c, err := NewCallable(call, settings, options...)
	if err != nil {
		return zero, err
	}

	return c.Call(ctx, req, callOpts...)
}
