package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(interval time.Duration) (*RateLimiter, *[]time.Duration) {
	l := NewRateLimiter(interval)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return l, &slept
}

func TestRateLimiterMinInterval(t *testing.T) {
	l, slept := newTestLimiter(100 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	assert.Empty(t, *slept, "first request should not wait")

	require.NoError(t, l.Wait(ctx))
	require.Len(t, *slept, 1)
	assert.Equal(t, 100*time.Millisecond, (*slept)[0])

	require.NoError(t, l.Wait(ctx))
	require.Len(t, *slept, 2)
	assert.Equal(t, 200*time.Millisecond, (*slept)[1])
}

func TestRateLimiterHonorsRetryAfter(t *testing.T) {
	l, slept := newTestLimiter(50 * time.Millisecond)
	ctx := context.Background()

	l.SetRetryAfter(2 * time.Second)
	require.NoError(t, l.Wait(ctx))
	require.Len(t, *slept, 1)
	assert.Equal(t, 2*time.Second, (*slept)[0])

	// The resume instant is consumed; the next wait is back to normal
	// spacing relative to the previous release.
	require.NoError(t, l.Wait(ctx))
	require.Len(t, *slept, 2)
	assert.Equal(t, 2*time.Second+50*time.Millisecond, (*slept)[1])
}

func TestRateLimiterRetryAfterKeepsLatestInstant(t *testing.T) {
	l, slept := newTestLimiter(50 * time.Millisecond)

	l.SetRetryAfter(3 * time.Second)
	l.SetRetryAfter(1 * time.Second)

	require.NoError(t, l.Wait(context.Background()))
	require.Len(t, *slept, 1)
	assert.Equal(t, 3*time.Second, (*slept)[0])
}

func TestRateLimiterKeepsRetryAfterWhenWaitAborted(t *testing.T) {
	l := NewRateLimiter(50 * time.Millisecond)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	var slept []time.Duration
	abort := true
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		if abort {
			abort = false
			return context.Canceled
		}
		return nil
	}

	l.SetRetryAfter(2 * time.Second)
	require.ErrorIs(t, l.Wait(context.Background()), context.Canceled)
	require.Len(t, slept, 1)

	// The aborted wait never reached the resume instant, so the next
	// caller still has to wait it out.
	require.NoError(t, l.Wait(context.Background()))
	require.Len(t, slept, 2)
	assert.GreaterOrEqual(t, slept[1], 2*time.Second)
}

func TestRateLimiterDefaultInterval(t *testing.T) {
	l := NewRateLimiter(0)
	assert.Equal(t, defaultMinInterval, l.minInterval)
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	l := NewRateLimiter(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Wait(ctx))
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}
