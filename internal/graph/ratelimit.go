package graph

import (
	"context"
	"sync"
	"time"
)

const defaultMinInterval = 500 * time.Millisecond

// RateLimiter paces outbound Graph requests. It enforces a minimum
// spacing between requests and honors a server-supplied resume instant
// armed via SetRetryAfter; the instant is consumed by the next Wait
// that completes.
type RateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	next        time.Time
	resumeAt    time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	if minInterval <= 0 {
		minInterval = defaultMinInterval
	}
	return &RateLimiter{
		minInterval: minInterval,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// SetRetryAfter arms a resume instant d from now. Wait will not release
// any caller before that instant.
func (l *RateLimiter) SetRetryAfter(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at := l.now().Add(d)
	if at.After(l.resumeAt) {
		l.resumeAt = at
	}
}

// Wait blocks until it is safe to issue the next request. The armed
// resume instant, if any, is reset only once actually waited out: an
// aborted wait keeps it armed for the next caller.
func (l *RateLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	release := now
	if l.next.After(release) {
		release = l.next
	}
	if l.resumeAt.After(release) {
		release = l.resumeAt
	}
	l.next = release.Add(l.minInterval)
	l.mu.Unlock()

	if d := release.Sub(now); d > 0 {
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}

	l.mu.Lock()
	if !l.resumeAt.After(release) {
		l.resumeAt = time.Time{}
	}
	l.mu.Unlock()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
