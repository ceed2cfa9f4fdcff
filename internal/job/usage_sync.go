package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/creamcroissant/resellerd/internal/cache"
	"github.com/creamcroissant/resellerd/internal/service"
)

// UsageSyncJob refreshes local usage counters from the remote panels ahead
// of the enforcement and billing sweeps.
type UsageSyncJob struct {
	sync   *service.UsageSync
	lock   sweepLock
	logger *slog.Logger
}

// NewUsageSyncJob assembles the usage sync pass with its lock.
func NewUsageSyncJob(sync *service.UsageSync, store cache.Store, lockTTL time.Duration, logger *slog.Logger) *UsageSyncJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageSyncJob{
		sync:   sync,
		lock:   newSweepLock(store, "usage_sync", lockTTL),
		logger: logger,
	}
}

// Name returns the job identifier.
func (j *UsageSyncJob) Name() string { return "usage.sync" }

// Run executes one sync pass, skipping when another is in flight.
func (j *UsageSyncJob) Run(ctx context.Context) error {
	_, _, err := j.Trigger(ctx)
	return err
}

// Trigger runs the sync pass on demand under the scheduler's lock.
func (j *UsageSyncJob) Trigger(ctx context.Context) (service.UsageSyncSummary, bool, error) {
	if !j.lock.acquire(ctx) {
		j.logger.Info("usage sync already running, skipping")
		return service.UsageSyncSummary{}, false, nil
	}
	defer j.lock.release(ctx)

	summary, err := j.sync.SyncAll(ctx)
	return summary, true, err
}
