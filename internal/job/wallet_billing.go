package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/creamcroissant/resellerd/internal/billing"
	"github.com/creamcroissant/resellerd/internal/cache"
)

// WalletBillingJob runs the wallet charge sweep. It takes the same kind of
// exclusive lock as the enforcement sweep: overlapping invocations would
// snapshot twice and double-charge the delta.
type WalletBillingJob struct {
	biller *billing.Biller
	lock   sweepLock
	logger *slog.Logger
}

// NewWalletBillingJob assembles the billing sweep with its lock.
func NewWalletBillingJob(biller *billing.Biller, store cache.Store, lockTTL time.Duration, logger *slog.Logger) *WalletBillingJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletBillingJob{
		biller: biller,
		lock:   newSweepLock(store, "wallet_billing", lockTTL),
		logger: logger,
	}
}

// Name returns the job identifier.
func (j *WalletBillingJob) Name() string { return "billing.wallet" }

// Run executes one billing tick, skipping entirely when the lock is held.
func (j *WalletBillingJob) Run(ctx context.Context) error {
	_, _, err := j.Trigger(ctx)
	return err
}

// Trigger runs the billing tick on demand under the scheduler's lock.
func (j *WalletBillingJob) Trigger(ctx context.Context) (billing.Summary, bool, error) {
	if !j.lock.acquire(ctx) {
		j.logger.Info("wallet billing sweep already running, skipping")
		return billing.Summary{}, false, nil
	}
	defer j.lock.release(ctx)

	summary, err := j.biller.ChargeAll(ctx)
	return summary, true, err
}
