package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxAttempts: attempts}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastPolicy(5), func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "ok", nil
	})
	require.True(t, res.OK)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, calls)
	assert.NoError(t, res.Err)
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	res := Do(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) (int, error) {
		assert.Equal(t, calls, attempt)
		calls++
		return 0, boom
	})
	assert.False(t, res.OK)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.Err, ErrExhausted)
	assert.ErrorIs(t, res.Err, boom)
}

func TestDo_RecoversAfterFailures(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastPolicy(4), func(ctx context.Context, attempt int) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.True(t, res.OK)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 3, res.Attempts)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	fatal := errors.New("bad key")
	calls := 0
	res := Do(context.Background(), fastPolicy(5), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, Permanent(fatal)
	})
	assert.False(t, res.OK)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, fatal)
	assert.True(t, IsPermanent(res.Err))
	assert.NotErrorIs(t, res.Err, ErrExhausted)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Base: time.Hour, Cap: time.Hour, MaxAttempts: 3}
	calls := 0
	res := Do(ctx, p, func(ctx context.Context, attempt int) (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	})
	assert.False(t, res.OK)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
