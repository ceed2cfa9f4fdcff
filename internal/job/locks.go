package job

import (
	"context"
	"time"

	"github.com/creamcroissant/resellerd/internal/cache"
)

// sweepLock is the time-boxed exclusive lock guarding a sweep. Acquisition
// failure means another invocation is in flight and this one is skipped
// outright — no queuing, no retry.
type sweepLock struct {
	cache cache.Store
	key   string
	ttl   time.Duration
}

func newSweepLock(store cache.Store, key string, ttl time.Duration) sweepLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return sweepLock{cache: store.Namespace("lock"), key: key, ttl: ttl}
}

func (l sweepLock) acquire(ctx context.Context) bool {
	return l.cache.Add(ctx, l.key, time.Now().Unix(), l.ttl)
}

func (l sweepLock) release(ctx context.Context) {
	l.cache.Delete(ctx, l.key)
}
