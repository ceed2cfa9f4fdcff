package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/creamcroissant/resellerd/internal/cache"
	"github.com/creamcroissant/resellerd/internal/service"
)

// ReconcileJob replays failed remote calls so panels converge on the local
// state the optimistic sweeps recorded.
type ReconcileJob struct {
	reconciler *service.Reconciler
	lock       sweepLock
	logger     *slog.Logger
}

// NewReconcileJob assembles the reconcile pass with its lock.
func NewReconcileJob(reconciler *service.Reconciler, store cache.Store, lockTTL time.Duration, logger *slog.Logger) *ReconcileJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileJob{
		reconciler: reconciler,
		lock:       newSweepLock(store, "reconcile", lockTTL),
		logger:     logger,
	}
}

// Name returns the job identifier.
func (j *ReconcileJob) Name() string { return "provision.reconcile" }

// Run executes one reconcile pass, skipping when another is in flight.
func (j *ReconcileJob) Run(ctx context.Context) error {
	_, _, err := j.Trigger(ctx)
	return err
}

// Trigger runs the reconcile pass on demand under the scheduler's lock.
func (j *ReconcileJob) Trigger(ctx context.Context) (service.ReconcileSummary, bool, error) {
	if !j.lock.acquire(ctx) {
		j.logger.Info("reconcile already running, skipping")
		return service.ReconcileSummary{}, false, nil
	}
	defer j.lock.release(ctx)

	summary, err := j.reconciler.Run(ctx)
	return summary, true, err
}
