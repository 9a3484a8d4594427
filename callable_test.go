package gax_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/byte4ever/gax"
)

func quickRetry() *gax.RetryPolicy {
	return &gax.RetryPolicy{
		Codes: gax.NewCodeSet(codes.Unavailable),
		Backoff: gax.BackoffSettings{
			InitialRetryDelay:        time.Millisecond,
			RetryDelayMultiplier:     1,
			MaxRetryDelay:            time.Millisecond,
			InitialAttemptTimeout:    time.Second,
			AttemptTimeoutMultiplier: 1,
			MaxAttemptTimeout:        time.Second,
			TotalTimeout:             10 * time.Second,
		},
	}
}

// ---------------------------------------------------------------------------
// construction
// ---------------------------------------------------------------------------

func TestNewCallableRejectsConflict(t *testing.T) {
	e, err := gax.NewExecutor(gax.BundleOptions{ElementCountThreshold: 1})
	require.NoError(t, err)

	_, err = gax.NewCallable(
		func(context.Context, int) (int, error) { return 0, nil },
		gax.CallSettings{
			PageDescriptor:   &gax.PageDescriptor{},
			BundleDescriptor: &gax.BundleDescriptor{BundledField: "elements"},
			Bundler:          e,
		},
	)
	require.ErrorIs(t, err, gax.ErrConfigConflict)
}

func TestCallableRejectsIncompatibleOptions(t *testing.T) {
	c, err := gax.NewCallable(
		func(context.Context, int) (int, error) { return 0, nil },
		gax.DefaultSettings(true),
	)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), 0, gax.WithCallTimeout(time.Second), gax.WithoutRetry())
	require.ErrorIs(t, err, gax.ErrIncompatibleOptions)
}

// ---------------------------------------------------------------------------
// plain calls
// ---------------------------------------------------------------------------

func TestCallableRetries(t *testing.T) {
	var retries atomic.Int32

	hooks := &gax.Hooks{OnRetry: func(int, error) { retries.Add(1) }}
	calls := 0

	c, err := gax.NewCallable(
		func(_ context.Context, req string) (string, error) {
			calls++
			if calls < 3 {
				return "", status.Error(codes.Unavailable, "down")
			}

			return "hello " + req, nil
		},
		gax.CallSettings{Retry: quickRetry()},
		gax.WithHooks(hooks),
	)
	require.NoError(t, err)

	got, err := c.Call(context.Background(), "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, int32(2), retries.Load())
}

func TestCallableWithoutRetryOption(t *testing.T) {
	calls := 0

	c, err := gax.NewCallable(
		func(context.Context, int) (int, error) {
			calls++
			return 0, status.Error(codes.Unavailable, "down")
		},
		gax.CallSettings{Retry: quickRetry(), Timeout: time.Second},
	)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), 0, gax.WithoutRetry())
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, gax.Code(err))
	assert.False(t, gax.IsNotRetryable(err), "no retry layer without a policy")
	assert.Equal(t, 1, calls)
}

func TestCallableEmptyRetryCodesUsesTimeout(t *testing.T) {
	c, err := gax.NewCallable(
		func(ctx context.Context, _ int) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
		gax.CallSettings{
			Retry:   &gax.RetryPolicy{Codes: gax.NonIdempotentCodes()},
			Timeout: 10 * time.Millisecond,
		},
	)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), 0)
	require.ErrorIs(t, err, gax.ErrTimeout)
}

func TestCallableTimeoutOption(t *testing.T) {
	c, err := gax.NewCallable(
		func(ctx context.Context, _ int) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
		gax.CallSettings{Timeout: time.Hour},
	)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), 0, gax.WithCallTimeout(10*time.Millisecond))
	require.ErrorIs(t, err, gax.ErrTimeout)
}

func TestCallableAttachesMetadata(t *testing.T) {
	var got metadata.MD

	c, err := gax.NewCallable(
		func(ctx context.Context, _ int) (int, error) {
			got, _ = metadata.FromOutgoingContext(ctx)
			return 0, nil
		},
		gax.CallSettings{
			Timeout:  time.Second,
			Metadata: metadata.Pairs("x-goog-api-client", "gax-go/1"),
		},
	)
	require.NoError(t, err)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "caller", "yes")

	_, err = c.Call(ctx, 0, gax.WithMetadata("x-goog-request-params", "name=books/1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"gax-go/1"}, got.Get("x-goog-api-client"))
	assert.Equal(t, []string{"name=books/1"}, got.Get("x-goog-request-params"))
	assert.Equal(t, []string{"yes"}, got.Get("caller"))
}

func TestCallableUserMiddlewareRunsPerAttempt(t *testing.T) {
	var seen int

	count := func(next gax.APICall[int, int]) gax.APICall[int, int] {
		return func(ctx context.Context, req int) (int, error) {
			seen++
			return next(ctx, req)
		}
	}

	calls := 0

	base, err := gax.NewCallable(
		func(context.Context, int) (int, error) {
			calls++
			if calls == 1 {
				return 0, status.Error(codes.Unavailable, "down")
			}

			return 1, nil
		},
		gax.CallSettings{Retry: quickRetry()},
	)
	require.NoError(t, err)

	_, err = base.With(count).Call(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, seen)

	_, err = base.Call(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, seen, "With returns a copy")
}

// ---------------------------------------------------------------------------
// bundled calls
// ---------------------------------------------------------------------------

type publisher struct {
	mu    sync.Mutex
	calls int
}

func (p *publisher) publish(_ context.Context, req map[string]any) (map[string]any, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	elems := req["messages"].([]any)
	ids := make([]any, len(elems))

	for i, m := range elems {
		ids[i] = "id-" + m.(string)
	}

	return map[string]any{"message_ids": ids}, nil
}

func (p *publisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls
}

func bundledCallable(
	t *testing.T,
	p *publisher,
	opts gax.BundleOptions,
) (*gax.Callable[map[string]any, map[string]any], *gax.Executor) {
	t.Helper()

	e, err := gax.NewExecutor(opts)
	require.NoError(t, err)

	c, err := gax.NewCallable(p.publish, gax.CallSettings{
		Timeout: time.Second,
		BundleDescriptor: &gax.BundleDescriptor{
			BundledField:        "messages",
			DiscriminatorFields: []string{"topic"},
			SubresponseField:    "message_ids",
		},
		Bundler: e,
	})
	require.NoError(t, err)

	return c, e
}

func TestCallableBundlesConcurrentCalls(t *testing.T) {
	p := &publisher{}
	c, _ := bundledCallable(t, p, gax.BundleOptions{ElementCountThreshold: 3})

	var (
		wg      sync.WaitGroup
		results [2]map[string]any
		errs    [2]error
	)

	reqs := []map[string]any{
		{"topic": "t", "messages": []any{"a", "b"}},
		{"topic": "t", "messages": []any{"c"}},
	}

	for i, req := range reqs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results[i], errs[i] = c.Call(context.Background(), req)
		}()
	}

	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, p.count())
	assert.Equal(t, []any{"id-a", "id-b"}, results[0]["message_ids"])
	assert.Equal(t, []any{"id-c"}, results[1]["message_ids"])
}

func TestCallableScheduleRequiresBundling(t *testing.T) {
	p := &publisher{}
	c, _ := bundledCallable(t, p, gax.BundleOptions{ElementCountThreshold: 1})

	_, err := c.Schedule(context.Background(), map[string]any{"topic": "t"}, gax.WithCallTimeout(time.Second))
	require.ErrorIs(t, err, gax.ErrBundlingDisabled)

	ev, err := c.Schedule(
		context.Background(),
		map[string]any{"topic": "t", "messages": []any{"x"}},
		gax.WithBundling(),
	)
	require.NoError(t, err)

	resp, err := gax.EventResult[map[string]any](context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, []any{"id-x"}, resp["message_ids"])
}

func TestCallableBundledCallWithdrawnOnCancel(t *testing.T) {
	p := &publisher{}
	c, e := bundledCallable(t, p, gax.BundleOptions{ElementCountThreshold: 10})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, map[string]any{"topic": "t", "messages": []any{"a"}})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	e.Flush()
	assert.Equal(t, 0, p.count())
}

func TestCallableBundlingDisabledByOptions(t *testing.T) {
	p := &publisher{}
	c, _ := bundledCallable(t, p, gax.BundleOptions{ElementCountThreshold: 10})

	resp, err := c.Call(
		context.Background(),
		map[string]any{"topic": "t", "messages": []any{"a"}},
		gax.WithCallTimeout(time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, []any{"id-a"}, resp["message_ids"])
	assert.Equal(t, 1, p.count())
}

// ---------------------------------------------------------------------------
// paged calls
// ---------------------------------------------------------------------------

func pagedCallable(
	t *testing.T,
	f *fakeLister,
) *gax.Callable[*longrunningpb.ListOperationsRequest, *longrunningpb.ListOperationsResponse] {
	t.Helper()

	c, err := gax.NewCallable(f.list, gax.CallSettings{
		Timeout:        time.Second,
		PageDescriptor: operationsPages,
	})
	require.NoError(t, err)

	return c
}

func TestCallableResources(t *testing.T) {
	f := &fakeLister{total: 5, size: 2}

	it, err := gax.Resources[*longrunningpb.Operation](
		context.Background(),
		pagedCallable(t, f),
		&longrunningpb.ListOperationsRequest{Name: "operations"},
	)
	require.NoError(t, err)

	var got []string

	for op, err := range it.All() {
		require.NoError(t, err)

		got = append(got, op.GetName())
	}

	assert.Equal(t, []string{"op0", "op1", "op2", "op3", "op4"}, got)
}

func TestCallablePagesFromToken(t *testing.T) {
	f := &fakeLister{total: 5, size: 2}

	it, err := pagedCallable(t, f).Pages(
		context.Background(),
		&longrunningpb.ListOperationsRequest{Name: "operations"},
		gax.WithPageToken(gax.Token("2")),
	)
	require.NoError(t, err)

	page, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"op2", "op3"}, names(page))
}

func TestCallableResourcesRejectsPageToken(t *testing.T) {
	f := &fakeLister{total: 5, size: 2}

	_, err := gax.Resources[*longrunningpb.Operation](
		context.Background(),
		pagedCallable(t, f),
		&longrunningpb.ListOperationsRequest{},
		gax.WithPageToken(gax.InitialPage),
	)
	require.Error(t, err)
}

func TestCallablePagesRequiresDescriptor(t *testing.T) {
	c, err := gax.NewCallable(
		func(context.Context, map[string]any) (map[string]any, error) { return nil, nil },
		gax.CallSettings{Timeout: time.Second},
	)
	require.NoError(t, err)

	_, err = c.Pages(context.Background(), map[string]any{})
	require.ErrorIs(t, err, gax.ErrPagingDisabled)
}

func TestCallablePagesRetryEachPage(t *testing.T) {
	f := &fakeLister{total: 4, size: 2}
	failures := map[string]bool{}

	flaky := func(ctx context.Context, req *longrunningpb.ListOperationsRequest) (*longrunningpb.ListOperationsResponse, error) {
		if tok := req.GetPageToken(); !failures[tok] {
			failures[tok] = true
			return nil, status.Error(codes.Unavailable, "flaky")
		}

		return f.list(ctx, req)
	}

	c, err := gax.NewCallable(flaky, gax.CallSettings{
		Retry:          quickRetry(),
		PageDescriptor: operationsPages,
	})
	require.NoError(t, err)

	it, err := c.Pages(context.Background(), &longrunningpb.ListOperationsRequest{})
	require.NoError(t, err)

	total := 0

	for {
		page, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}

		require.NoError(t, err)

		total += len(page)
	}

	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"", "2"}, f.tokens)
}
