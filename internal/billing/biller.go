// Package billing meters wallet-billed resellers: periodic snapshot-delta
// charging, threshold suspension, and credit-driven reactivation.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/creamcroissant/resellerd/internal/audit"
	"github.com/creamcroissant/resellerd/internal/config"
	"github.com/creamcroissant/resellerd/internal/provision"
	"github.com/creamcroissant/resellerd/internal/repository"
)

const bytesPerGiB = int64(1) << 30

// RemoteProvisioner is the slice of the provisioner the biller drives.
type RemoteProvisioner interface {
	Enable(ctx context.Context, pnl *repository.Panel, remoteID string) provision.Result
	Disable(ctx context.Context, pnl *repository.Panel, remoteID string) provision.Result
}

// Summary aggregates one billing sweep.
type Summary struct {
	Scanned         int   `json:"scanned"`
	Charged         int   `json:"charged"`
	TotalCost       int64 `json:"total_cost"`
	Suspended       int   `json:"suspended"`
	Reactivated     int   `json:"reactivated"`
	ConfigsDisabled int   `json:"configs_disabled"`
	ConfigsEnabled  int   `json:"configs_enabled"`
	RemoteFailures  int   `json:"remote_failures"`
}

// Biller owns wallet balance transitions. Reseller status moves through here
// or the entitlement enforcer, never through request handlers.
type Biller struct {
	store       repository.Store
	provisioner RemoteProvisioner
	trail       *audit.Trail
	cfg         config.BillingConfig
	logger      *slog.Logger
	now         func() time.Time
}

// New constructs a Biller with injected tunables.
func New(store repository.Store, provisioner RemoteProvisioner, trail *audit.Trail, cfg config.BillingConfig, logger *slog.Logger) *Biller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Biller{
		store:       store,
		provisioner: provisioner,
		trail:       trail,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (b *Biller) SetClock(now func() time.Time) { b.now = now }

// CostFor converts a byte delta into wallet cost with ceiling rounding, so a
// partial gibibyte is never undercharged. Split quotient/remainder arithmetic
// keeps the intermediate products inside int64 for any realistic delta.
func CostFor(deltaBytes, pricePerGB int64) int64 {
	if deltaBytes <= 0 || pricePerGB <= 0 {
		return 0
	}
	whole := deltaBytes / bytesPerGiB
	rem := deltaBytes % bytesPerGiB
	cost := whole * pricePerGB
	if rem > 0 {
		cost += (rem*pricePerGB + bytesPerGiB - 1) / bytesPerGiB
	}
	return cost
}

// ChargeAll runs one billing tick over every wallet-billed reseller.
func (b *Biller) ChargeAll(ctx context.Context) (Summary, error) {
	resellers, err := b.store.Resellers().ListByBilling(ctx, repository.BillingWallet)
	if err != nil {
		return Summary{}, fmt.Errorf("list wallet resellers: %w", err)
	}

	var summary Summary
	for _, r := range resellers {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		step, err := b.ChargeReseller(ctx, r)
		if err != nil {
			b.logger.Error("wallet charge failed", "reseller_id", r.ID, "error", err)
			continue
		}
		summary.Scanned++
		summary.Charged += step.Charged
		summary.TotalCost += step.TotalCost
		summary.Suspended += step.Suspended
		summary.ConfigsDisabled += step.ConfigsDisabled
		summary.RemoteFailures += step.RemoteFailures
	}
	b.logger.Info("wallet sweep finished",
		"scanned", summary.Scanned,
		"charged", summary.Charged,
		"total_cost", summary.TotalCost,
		"suspended", summary.Suspended)
	return summary, nil
}

// ChargeReseller performs one billing tick for one reseller: snapshot the
// cumulative usage, charge the delta since the previous snapshot, and suspend
// when the balance falls to the threshold. The snapshot is inserted even when
// the delta is zero so the chain stays current.
func (b *Biller) ChargeReseller(ctx context.Context, r *repository.Reseller) (Summary, error) {
	now := b.now().Unix()

	currentTotal, err := b.currentTotal(ctx, r)
	if err != nil {
		return Summary{}, err
	}

	last, err := b.store.UsageSnapshots().Latest(ctx, r.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("load latest snapshot for reseller %d: %w", r.ID, err)
	}
	delta := currentTotal
	if last != nil {
		// Clamp to zero so a remote counter reset never credits the wallet.
		delta = currentTotal - last.TotalBytes
		if delta < 0 {
			delta = 0
		}
	}

	if err := b.store.UsageSnapshots().Insert(ctx, &repository.UsageSnapshot{
		ResellerID: r.ID,
		TotalBytes: currentTotal,
		MeasuredAt: now,
	}); err != nil {
		return Summary{}, fmt.Errorf("insert snapshot for reseller %d: %w", r.ID, err)
	}

	price := b.cfg.DefaultPricePerGB
	if r.WalletPricePerGB != nil {
		price = *r.WalletPricePerGB
	}
	cost := CostFor(delta, price)

	var summary Summary
	balance := r.WalletBalance
	if cost > 0 {
		balance, err = b.store.Resellers().AdjustWallet(ctx, r.ID, -cost, now)
		if err != nil {
			return Summary{}, fmt.Errorf("charge reseller %d: %w", r.ID, err)
		}
		r.WalletBalance = balance
		summary.Charged = 1
		summary.TotalCost = cost
		b.trail.RecordAudit(ctx, &repository.AuditLog{
			Action:     "wallet.charge",
			TargetType: "reseller",
			TargetID:   r.ID,
			Meta: map[string]any{
				"delta_bytes":  delta,
				"price_per_gb": price,
				"cost":         cost,
				"balance":      balance,
			},
		})
	}

	if balance <= b.cfg.SuspendThreshold && r.Status != repository.ResellerSuspendedWallet {
		step, err := b.suspendWallet(ctx, r)
		if err != nil {
			return summary, err
		}
		summary.Suspended = step.Suspended
		summary.ConfigsDisabled = step.ConfigsDisabled
		summary.RemoteFailures = step.RemoteFailures
	}
	return summary, nil
}

// currentTotal sums usage over every non-deleted config, disabled ones
// included, plus the settled usage carried over from deleted configs so the
// billing base never shrinks.
func (b *Biller) currentTotal(ctx context.Context, r *repository.Reseller) (int64, error) {
	configs, err := b.store.ResellerConfigs().ListByReseller(ctx, r.ID)
	if err != nil {
		return 0, fmt.Errorf("list configs for reseller %d: %w", r.ID, err)
	}
	total := r.SettledUsageBytes
	for _, cfg := range configs {
		total += cfg.UsageBytes
	}
	return total, nil
}

// CreditWallet applies a credit and, when the balance recovers above the
// threshold, reactivates the reseller and the configs the biller disabled.
// Local state flips regardless of remote outcome; failed remote calls land in
// the event log for the reconcile pass.
func (b *Biller) CreditWallet(ctx context.Context, resellerID, amount int64, actor *string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("billing: credit amount must be positive, got %d", amount)
	}
	r, err := b.store.Resellers().FindByID(ctx, resellerID)
	if err != nil {
		return 0, fmt.Errorf("load reseller %d: %w", resellerID, err)
	}
	now := b.now().Unix()

	balance, err := b.store.Resellers().AdjustWallet(ctx, resellerID, amount, now)
	if err != nil {
		return 0, fmt.Errorf("credit reseller %d: %w", resellerID, err)
	}
	r.WalletBalance = balance

	b.trail.RecordAudit(ctx, &repository.AuditLog{
		Action:     "wallet.credit",
		Actor:      actor,
		TargetType: "reseller",
		TargetID:   resellerID,
		Meta:       map[string]any{"amount": amount, "balance": balance},
	})

	if r.Status == repository.ResellerSuspendedWallet && balance > b.cfg.SuspendThreshold {
		if _, err := b.reactivateWallet(ctx, r); err != nil {
			return balance, err
		}
	}
	return balance, nil
}

func (b *Biller) suspendWallet(ctx context.Context, r *repository.Reseller) (Summary, error) {
	now := b.now().Unix()
	correlationID := uuid.NewString()

	cause := b.trail.RecordAudit(ctx, &repository.AuditLog{
		Action:        "reseller.suspend_wallet",
		TargetType:    "reseller",
		TargetID:      r.ID,
		Reason:        string(repository.ReasonWalletExhausted),
		Meta:          map[string]any{"balance": r.WalletBalance, "threshold": b.cfg.SuspendThreshold},
		CorrelationID: correlationID,
	})

	if err := b.store.Resellers().UpdateStatus(ctx, r.ID, repository.ResellerSuspendedWallet, now); err != nil {
		return Summary{}, fmt.Errorf("suspend reseller %d: %w", r.ID, err)
	}
	r.Status = repository.ResellerSuspendedWallet

	configs, err := b.store.ResellerConfigs().ListByResellerAndStatus(ctx, r.ID, repository.ConfigActive)
	if err != nil {
		return Summary{}, fmt.Errorf("list active configs for reseller %d: %w", r.ID, err)
	}

	summary := Summary{Suspended: 1}
	panels := make(map[int64]*repository.Panel)
	for _, cfg := range configs {
		result := b.remoteCall(ctx, panels, cfg, b.provisioner.Disable)
		if !result.Success {
			summary.RemoteFailures++
		}

		meta := repository.SuspensionMeta{
			DisabledByWalletSuspension: true,
			Reason:                     repository.ReasonWalletExhausted,
			CauseEventID:               cause.ID,
		}
		disabledAt := now
		if err := b.store.ResellerConfigs().SetStatus(ctx, cfg.ID, repository.ConfigDisabled, &disabledAt, meta, now); err != nil {
			b.logger.Error("config disable write failed", "config_id", cfg.ID, "error", err)
			continue
		}
		summary.ConfigsDisabled++
		b.trail.RecordConfigEvent(ctx, audit.ConfigEvent(cfg, "disable", repository.ReasonWalletExhausted, result, correlationID))
	}

	b.logger.Info("reseller wallet-suspended",
		"reseller_id", r.ID, "balance", r.WalletBalance,
		"configs_disabled", summary.ConfigsDisabled,
		"remote_failures", summary.RemoteFailures)
	return summary, nil
}

// reactivateWallet re-enables only the configs bearing the wallet-suspension
// marker, leaving enforcer- or operator-disabled configs alone.
func (b *Biller) reactivateWallet(ctx context.Context, r *repository.Reseller) (Summary, error) {
	now := b.now().Unix()
	correlationID := uuid.NewString()

	if err := b.store.Resellers().UpdateStatus(ctx, r.ID, repository.ResellerActive, now); err != nil {
		return Summary{}, fmt.Errorf("reactivate reseller %d: %w", r.ID, err)
	}
	r.Status = repository.ResellerActive

	b.trail.RecordAudit(ctx, &repository.AuditLog{
		Action:        "reseller.reactivate_wallet",
		TargetType:    "reseller",
		TargetID:      r.ID,
		CorrelationID: correlationID,
	})

	configs, err := b.store.ResellerConfigs().ListByResellerAndStatus(ctx, r.ID, repository.ConfigDisabled)
	if err != nil {
		return Summary{}, fmt.Errorf("list disabled configs for reseller %d: %w", r.ID, err)
	}

	summary := Summary{Reactivated: 1}
	panels := make(map[int64]*repository.Panel)
	for _, cfg := range configs {
		if !cfg.Meta.AutoSuspendedByWallet() {
			continue
		}
		result := b.remoteCall(ctx, panels, cfg, b.provisioner.Enable)
		if !result.Success {
			summary.RemoteFailures++
		}

		if err := b.store.ResellerConfigs().SetStatus(ctx, cfg.ID, repository.ConfigActive, nil, repository.SuspensionMeta{}, now); err != nil {
			b.logger.Error("config enable write failed", "config_id", cfg.ID, "error", err)
			continue
		}
		summary.ConfigsEnabled++
		b.trail.RecordConfigEvent(ctx, audit.ConfigEvent(cfg, "enable", "", result, correlationID))
	}

	b.logger.Info("reseller wallet-reactivated",
		"reseller_id", r.ID,
		"configs_enabled", summary.ConfigsEnabled,
		"remote_failures", summary.RemoteFailures)
	return summary, nil
}

func (b *Biller) remoteCall(ctx context.Context, panels map[int64]*repository.Panel, cfg *repository.ResellerConfig, op func(context.Context, *repository.Panel, string) provision.Result) provision.Result {
	pnl, ok := panels[cfg.PanelID]
	if !ok {
		var err error
		pnl, err = b.store.Panels().FindByID(ctx, cfg.PanelID)
		if err != nil {
			b.logger.Error("panel lookup failed", "config_id", cfg.ID, "panel_id", cfg.PanelID, "error", err)
			return provision.Result{Success: false, Attempts: 0, LastError: err.Error()}
		}
		panels[cfg.PanelID] = pnl
	}
	return op(ctx, pnl, cfg.PanelUserID)
}
