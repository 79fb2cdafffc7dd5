package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoTransientThenSuccess(t *testing.T) {
	t.Parallel()

	attempts := 0
	op := func(_ context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", NewError(CodeServiceUnavailable, "backend down")
		}
		return "ok", nil
	}

	var delays []time.Duration
	exec := NewExecutor(3, time.Millisecond, WithNotify(func(_ error, next time.Duration) {
		delays = append(delays, next)
	}))

	result, err := Do(context.Background(), exec, op)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)

	// Exponential: each delay doubles the previous one.
	require.Len(t, delays, 2)
	assert.Equal(t, time.Millisecond, delays[0])
	assert.Equal(t, 2*time.Millisecond, delays[1])
}

func TestDoTerminalFailsImmediately(t *testing.T) {
	t.Parallel()

	attempts := 0
	op := func(_ context.Context) (int, error) {
		attempts++
		return 0, NewError(CodePermissionDenied, "not yours")
	}

	exec := NewExecutor(5, time.Millisecond)
	_, err := Do(context.Background(), exec, op)
	require.Error(t, err)
	assert.Equal(t, CodePermissionDenied, CodeOf(err))
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustionReturnsLastError(t *testing.T) {
	t.Parallel()

	attempts := 0
	op := func(_ context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, NewError(CodeNetworkUnavailable, "offline")
		}
		return 0, NewError(CodeRateLimited, "slow down")
	}

	exec := NewExecutor(3, time.Millisecond)
	_, err := Do(context.Background(), exec, op)
	require.Error(t, err)
	assert.Equal(t, CodeRateLimited, CodeOf(err))
	assert.Equal(t, 3, attempts)
}

func TestDoContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	op := func(_ context.Context) (int, error) {
		attempts++
		cancel()
		return 0, NewError(CodeServiceUnavailable, "backend down")
	}

	exec := NewExecutor(3, 50*time.Millisecond)
	_, err := Do(ctx, exec, op)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTransient(NewError(CodeNetworkUnavailable, "")))
	assert.True(t, IsTransient(NewError(CodeServiceUnavailable, "")))
	assert.True(t, IsTransient(NewError(CodeRateLimited, "")))

	assert.False(t, IsTransient(NewError(CodeConflict, "")))
	assert.False(t, IsTransient(NewError(CodePermissionDenied, "")))
	assert.False(t, IsTransient(NewError(CodeUnknownItem, "")))
	assert.False(t, IsTransient(assert.AnError))

	assert.True(t, IsUnknownItem(NewError(CodeUnknownItem, "no such record")))
	assert.False(t, IsUnknownItem(assert.AnError))
}
