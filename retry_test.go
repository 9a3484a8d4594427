package gax

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func unavailable(msg string) error {
	return status.Error(codes.Unavailable, msg)
}

func testPolicy(total time.Duration) *RetryPolicy {
	return &RetryPolicy{
		Codes: NewCodeSet(codes.Unavailable, codes.DeadlineExceeded),
		Backoff: BackoffSettings{
			InitialRetryDelay:        10 * time.Millisecond,
			RetryDelayMultiplier:     1,
			MaxRetryDelay:            10 * time.Millisecond,
			InitialAttemptTimeout:    time.Second,
			AttemptTimeoutMultiplier: 1,
			MaxAttemptTimeout:        time.Second,
			TotalTimeout:             total,
		},
	}
}

// ---------------------------------------------------------------------------
// Success paths
// ---------------------------------------------------------------------------

func TestDoRetrySuccessOnFirstAttempt(t *testing.T) {
	clock := newFakeClock()

	got, err := DoRetry(
		context.Background(),
		func(_ context.Context, req int) (int, error) { return req * 2, nil },
		21,
		RetryParams{Policy: testPolicy(time.Minute), Clock: clock},
	)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Empty(t, clock.sleeps(), "no backoff sleep before a success")
}

func TestDoRetrySucceedsAfterTransientFailures(t *testing.T) {
	clock := newFakeClock()

	var retried []int

	hooks := &Hooks{OnRetry: func(attempt int, _ error) { retried = append(retried, attempt) }}
	calls := 0

	got, err := DoRetry(
		context.Background(),
		func(_ context.Context, _ string) (string, error) {
			calls++
			if calls < 4 {
				return "", unavailable("not yet")
			}

			return "done", nil
		},
		"req",
		RetryParams{Policy: testPolicy(time.Minute), Clock: clock, Hooks: hooks},
	)
	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, retried)
	assert.Len(t, clock.sleeps(), 3)
}

// ---------------------------------------------------------------------------
// Failure paths
// ---------------------------------------------------------------------------

func TestDoRetryNonRetryableStopsImmediately(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	cause := status.Error(codes.InvalidArgument, "bad request")

	_, err := DoRetry(
		context.Background(),
		func(_ context.Context, _ int) (int, error) {
			calls++
			return 0, cause
		},
		0,
		RetryParams{Policy: testPolicy(time.Minute), Clock: clock},
	)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsNotRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, codes.InvalidArgument, Code(err))
}

func TestDoRetryNilPolicyRetriesNothing(t *testing.T) {
	calls := 0

	_, err := DoRetry(
		context.Background(),
		func(_ context.Context, _ int) (int, error) {
			calls++
			return 0, unavailable("down")
		},
		0,
		RetryParams{},
	)
	assert.True(t, IsNotRetryable(err))
	assert.Equal(t, 1, calls)
}

func TestDoRetryExhaustedCarriesLastError(t *testing.T) {
	clock := newFakeClock()
	calls := 0

	var (
		exhaustedAttempts int
		exhaustedErr      error
	)

	hooks := &Hooks{OnRetriesExhausted: func(attempts int, err error) {
		exhaustedAttempts = attempts
		exhaustedErr = err
	}}

	_, err := DoRetry(
		context.Background(),
		func(_ context.Context, _ int) (int, error) {
			calls++
			clock.Advance(400 * time.Millisecond)

			return 0, unavailable(fmt.Sprintf("attempt %d", calls))
		},
		0,
		RetryParams{Policy: testPolicy(time.Second), Clock: clock, Hooks: hooks},
	)
	require.Error(t, err)
	assert.True(t, IsRetryExhausted(err))
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, calls)

	var re *RetryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "attempt 3", status.Convert(re.Cause).Message())

	assert.Equal(t, 3, exhaustedAttempts)
	assert.Equal(t, re.Cause, exhaustedErr)
}

func TestDoRetryContextCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0

	_, err := DoRetry(
		ctx,
		func(_ context.Context, _ int) (int, error) {
			calls++
			cancel()

			return 0, unavailable("down")
		},
		0,
		RetryParams{Policy: testPolicy(time.Minute), Clock: newFakeClock()},
	)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoRetryContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := testPolicy(time.Hour)
	policy.Backoff.InitialRetryDelay = time.Hour
	policy.Backoff.MaxRetryDelay = time.Hour

	var calls atomic.Int32

	done := make(chan error, 1)

	go func() {
		_, err := DoRetry(
			ctx,
			func(_ context.Context, _ int) (int, error) {
				calls.Add(1)
				return 0, unavailable("down")
			},
			0,
			RetryParams{Policy: policy},
		)
		done <- err
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("DoRetry did not return after cancel")
	}
}

// ---------------------------------------------------------------------------
// Backoff shape
// ---------------------------------------------------------------------------

func TestDoRetrySleepsStayWithinGrowingCeiling(t *testing.T) {
	clock := newFakeClock()
	policy := &RetryPolicy{
		Codes: NewCodeSet(codes.Unavailable),
		Backoff: BackoffSettings{
			InitialRetryDelay:    100 * time.Millisecond,
			RetryDelayMultiplier: 2,
			MaxRetryDelay:        300 * time.Millisecond,
			TotalTimeout:         time.Hour,
		},
	}
	calls := 0

	_, err := DoRetry(
		context.Background(),
		func(_ context.Context, _ int) (int, error) {
			calls++
			if calls <= 5 {
				return 0, unavailable("down")
			}

			return 1, nil
		},
		0,
		RetryParams{Policy: policy, Clock: clock},
	)
	require.NoError(t, err)

	ceilings := []time.Duration{100, 200, 300, 300, 300}
	sleeps := clock.sleeps()
	require.Len(t, sleeps, len(ceilings))

	for i, s := range sleeps {
		assert.LessOrEqual(t, s, ceilings[i]*time.Millisecond, "sleep %d", i)
		assert.GreaterOrEqual(t, s, time.Duration(0), "sleep %d", i)
	}
}

func TestDoRetryAttemptTimeoutGrows(t *testing.T) {
	policy := &RetryPolicy{
		Codes: NewCodeSet(codes.DeadlineExceeded),
		Backoff: BackoffSettings{
			InitialRetryDelay:        time.Millisecond,
			RetryDelayMultiplier:     1,
			MaxRetryDelay:            time.Millisecond,
			InitialAttemptTimeout:    time.Second,
			AttemptTimeoutMultiplier: 2,
			MaxAttemptTimeout:        3 * time.Second,
			TotalTimeout:             time.Minute,
		},
	}

	var seen []time.Duration

	_, err := DoRetry(
		context.Background(),
		func(ctx context.Context, _ int) (int, error) {
			d, ok := AttemptTimeout(ctx)
			require.True(t, ok)

			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.LessOrEqual(t, time.Until(deadline), d)

			seen = append(seen, d)
			if len(seen) < 4 {
				return 0, status.Error(codes.DeadlineExceeded, "slow")
			}

			return 0, nil
		},
		0,
		RetryParams{Policy: policy, Clock: newFakeClock()},
	)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, seen)
}

func TestDoRetryTotalTimeoutBoundsUntimedAttempt(t *testing.T) {
	policy := &RetryPolicy{
		Codes: NewCodeSet(codes.DeadlineExceeded),
		Backoff: BackoffSettings{
			InitialRetryDelay:    time.Millisecond,
			RetryDelayMultiplier: 1,
			MaxRetryDelay:        time.Millisecond,
			TotalTimeout:         50 * time.Millisecond,
		},
	}

	var bounded atomic.Bool

	start := time.Now()

	_, err := DoRetry(
		context.Background(),
		func(ctx context.Context, _ int) (int, error) {
			deadline, ok := ctx.Deadline()
			bounded.Store(ok && time.Until(deadline) <= 50*time.Millisecond)

			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(2 * time.Second):
				return 1, nil
			}
		},
		0,
		RetryParams{Policy: policy},
	)

	var retryErr *RetryError

	require.ErrorAs(t, err, &retryErr)
	assert.ErrorIs(t, retryErr.Kind, ErrRetriesExhausted)
	assert.True(t, bounded.Load(), "attempt context carries the loop deadline")
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoRetryWithoutTimeoutsPollsUntilSuccess(t *testing.T) {
	clock := newFakeClock()
	policy := &RetryPolicy{
		Codes:   NewCodeSet(codes.DeadlineExceeded),
		Backoff: DefaultPollingBackoff,
	}
	calls := 0

	got, err := DoRetry(
		context.Background(),
		func(ctx context.Context, _ int) (string, error) {
			if _, ok := AttemptTimeout(ctx); ok {
				t.Error("attempt timeout set without a total timeout")
			}

			if _, ok := ctx.Deadline(); ok {
				t.Error("attempt deadline set without a total timeout")
			}

			calls++
			if calls < 20 {
				return "", status.Error(codes.DeadlineExceeded, "pending")
			}

			return "ready", nil
		},
		0,
		RetryParams{Policy: policy, Clock: clock},
	)
	require.NoError(t, err)
	assert.Equal(t, "ready", got)

	for _, s := range clock.sleeps() {
		assert.LessOrEqual(t, s, DefaultPollingBackoff.MaxRetryDelay)
	}
}

func TestDoRetryTreatsTimeoutAsDeadlineExceeded(t *testing.T) {
	var calls atomic.Int32

	call := WithTimeout(
		func(ctx context.Context, _ int) (int, error) {
			if calls.Add(1) == 1 {
				<-ctx.Done()
				return 0, ctx.Err()
			}

			return 7, nil
		},
		10*time.Millisecond,
		nil,
	)

	got, err := DoRetry(
		context.Background(),
		call,
		0,
		RetryParams{Policy: testPolicy(time.Minute), Clock: newFakeClock()},
	)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryableWrapsCall(t *testing.T) {
	calls := 0
	call := Retryable(
		func(_ context.Context, _ int) (int, error) {
			calls++
			if calls == 1 {
				return 0, unavailable("down")
			}

			return calls, nil
		},
		RetryParams{Policy: testPolicy(time.Minute), Clock: newFakeClock()},
	)

	got, err := call(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestRetryPolicyValidate(t *testing.T) {
	var nilPolicy *RetryPolicy
	require.NoError(t, nilPolicy.Validate())

	bad := &RetryPolicy{Backoff: BackoffSettings{RetryDelayMultiplier: 0.1}}
	require.Error(t, bad.Validate())

	if errors.Is(bad.Validate(), ErrNotRetryable) {
		t.Fatal("validation error must not be a retry error")
	}
}
