package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testLogger(), "op", fastPolicy(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testLogger(), "op", fastPolicy(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("boom")
	err := Do(context.Background(), testLogger(), "op", fastPolicy(), func(ctx context.Context) error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, sentinel)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	err := Do(context.Background(), testLogger(), "op", fastPolicy(), func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, sentinel)
}

type hintedError struct{ after time.Duration }

func (e *hintedError) Error() string { return "rate limited" }

func (e *hintedError) RetryAfterHint() (time.Duration, bool) { return e.after, true }

func TestDo_HonorsRetryAfterHint(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Do(context.Background(), testLogger(), "op", Policy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &hintedError{after: 50 * time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, testLogger(), "op", fastPolicy(), func(ctx context.Context) error {
		return errors.New("never succeeds")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPolicyInterval(t *testing.T) {
	policy := Policy{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     5 * time.Second,
	}

	// 初期値から倍々で増え、上限で頭打ちになる
	assert.Equal(t, time.Second, policy.Interval(1))
	assert.Equal(t, 2*time.Second, policy.Interval(2))
	assert.Equal(t, 4*time.Second, policy.Interval(3))
	assert.Equal(t, 5*time.Second, policy.Interval(4))
	assert.Equal(t, 5*time.Second, policy.Interval(10))

	// 初期値未設定は1秒
	assert.Equal(t, time.Second, Policy{}.Interval(1))
}
