package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/creamcroissant/resellerd/internal/cache"
	"github.com/creamcroissant/resellerd/internal/entitlement"
)

// EnforcementSweepJob runs the traffic/time entitlement sweep under a
// time-boxed exclusive lock so at most one pass is in flight system-wide.
type EnforcementSweepJob struct {
	enforcer *entitlement.Enforcer
	lock     sweepLock
	logger   *slog.Logger
}

// NewEnforcementSweepJob assembles the sweep with its lock.
func NewEnforcementSweepJob(enforcer *entitlement.Enforcer, store cache.Store, lockTTL time.Duration, logger *slog.Logger) *EnforcementSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnforcementSweepJob{
		enforcer: enforcer,
		lock:     newSweepLock(store, "enforcement_sweep", lockTTL),
		logger:   logger,
	}
}

// Name returns the job identifier.
func (j *EnforcementSweepJob) Name() string { return "entitlement.enforce" }

// Run executes one sweep, skipping entirely when the lock is held.
func (j *EnforcementSweepJob) Run(ctx context.Context) error {
	_, _, err := j.Trigger(ctx)
	return err
}

// Trigger runs the sweep on demand under the same lock the scheduler uses.
// The second return is false when another pass held the lock.
func (j *EnforcementSweepJob) Trigger(ctx context.Context) (entitlement.Summary, bool, error) {
	if !j.lock.acquire(ctx) {
		j.logger.Info("enforcement sweep already running, skipping")
		return entitlement.Summary{}, false, nil
	}
	defer j.lock.release(ctx)

	summary, err := j.enforcer.EnforceAll(ctx)
	return summary, true, err
}
