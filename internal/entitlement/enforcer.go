// Package entitlement implements the reseller-level state machine for
// traffic-billed tenants: window and quota checks, bulk suspension of a
// reseller's remote accounts, and selective reactivation of the accounts the
// enforcer itself disabled.
package entitlement

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

// ExecMode selects how a reactivation sweep runs. The sweep logic is written
// once; queued dispatch merely defers the same inline path to a worker.
type ExecMode int

const (
	// ModeQueued hands the sweep to the reactivation queue, falling back to
	// inline execution when the queue is unavailable or full.
	ModeQueued ExecMode = iota
	// ModeInline runs the sweep synchronously on the caller's goroutine.
	ModeInline
)

// Dispatcher is the queue-shaped dependency used for ModeQueued. A false
// return means the task was not accepted and the caller runs inline.
type Dispatcher interface {
	Enqueue(resellerID int64) bool
}

// RemoteProvisioner is the slice of the provisioner the enforcer drives.
type RemoteProvisioner interface {
	Enable(ctx context.Context, pnl *repository.Panel, remoteID string) provision.Result
	Disable(ctx context.Context, pnl *repository.Panel, remoteID string) provision.Result
}

// Summary aggregates one enforcement sweep for logging and the trigger API.
type Summary struct {
	Scanned         int `json:"scanned"`
	Suspended       int `json:"suspended"`
	Reactivated     int `json:"reactivated"`
	ConfigsDisabled int `json:"configs_disabled"`
	ConfigsEnabled  int `json:"configs_enabled"`
	RemoteFailures  int `json:"remote_failures"`
}

// Enforcer drives suspend/reactivate transitions for traffic-billed
// resellers. All tunables arrive through the injected config value.
type Enforcer struct {
	store       repository.Store
	provisioner RemoteProvisioner
	trail       *audit.Trail
	cfg         config.EntitlementConfig
	location    *time.Location
	dispatcher  Dispatcher
	logger      *slog.Logger
	now         func() time.Time
}

// New constructs an Enforcer. An unknown timezone falls back to UTC.
func New(store repository.Store, provisioner RemoteProvisioner, trail *audit.Trail, cfg config.EntitlementConfig, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		loc = time.UTC
	}
	return &Enforcer{
		store:       store,
		provisioner: provisioner,
		trail:       trail,
		cfg:         cfg,
		location:    loc,
		logger:      logger,
		now:         time.Now,
	}
}

// SetDispatcher wires the reactivation queue after construction, breaking the
// queue/enforcer dependency cycle.
func (e *Enforcer) SetDispatcher(d Dispatcher) { e.dispatcher = d }

// SetClock overrides the time source. Test hook.
func (e *Enforcer) SetClock(now func() time.Time) { e.now = now }

// EffectiveLimitBytes returns the quota ceiling with grace applied. The
// second return is false for unlimited resellers.
func (e *Enforcer) EffectiveLimitBytes(r *repository.Reseller) (int64, bool) {
	if r.TrafficTotalBytes == nil {
		return 0, false
	}
	total := *r.TrafficTotalBytes
	grace := total * e.cfg.GracePercent / 100
	if grace < e.cfg.GraceMinBytes {
		grace = e.cfg.GraceMinBytes
	}
	return total + grace, true
}

// WindowValid reports whether the reseller's entitlement window still holds.
// The window end is rounded up to the end of its containing minute in the
// configured timezone, so an entitlement expiring at 10:30:45 stays valid
// until 10:31:00.
func (e *Enforcer) WindowValid(r *repository.Reseller) bool {
	if r.WindowEndsAt == nil {
		return true
	}
	end := time.Unix(*r.WindowEndsAt, 0).In(e.location)
	boundary := end.Truncate(time.Minute).Add(time.Minute)
	return boundary.After(e.now().In(e.location))
}

// HasTrafficRemaining reports whether counted usage is still under the
// effective limit. Staff-forgiven bytes are excluded from counted usage, and
// an unlimited quota always has traffic remaining.
func (e *Enforcer) HasTrafficRemaining(r *repository.Reseller) bool {
	limit, limited := e.EffectiveLimitBytes(r)
	if !limited {
		return true
	}
	counted := r.TrafficUsedBytes - r.AdminForgivenBytes
	return limit > counted
}

// EnforceAll sweeps every traffic-billed reseller, suspending those whose
// entitlement lapsed and reactivating suspended ones whose entitlement
// recovered.
func (e *Enforcer) EnforceAll(ctx context.Context) (Summary, error) {
	resellers, err := e.store.Resellers().ListByBilling(ctx, repository.BillingTraffic)
	if err != nil {
		return Summary{}, fmt.Errorf("list traffic resellers: %w", err)
	}

	var summary Summary
	for _, r := range resellers {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		step, err := e.EnforceReseller(ctx, r)
		if err != nil {
			e.logger.Error("enforcement failed", "reseller_id", r.ID, "error", err)
			continue
		}
		summary.Scanned++
		summary.Suspended += step.Suspended
		summary.Reactivated += step.Reactivated
		summary.ConfigsDisabled += step.ConfigsDisabled
		summary.ConfigsEnabled += step.ConfigsEnabled
		summary.RemoteFailures += step.RemoteFailures
	}
	e.logger.Info("enforcement sweep finished",
		"scanned", summary.Scanned,
		"suspended", summary.Suspended,
		"reactivated", summary.Reactivated,
		"remote_failures", summary.RemoteFailures)
	return summary, nil
}

// EnforceReseller applies the state machine to one reseller. Wallet-billed
// resellers are out of scope and skipped with an error.
func (e *Enforcer) EnforceReseller(ctx context.Context, r *repository.Reseller) (Summary, error) {
	if r.BillingType == repository.BillingWallet {
		return Summary{}, ErrWalletBilled
	}

	windowValid := e.WindowValid(r)
	trafficLeft := e.HasTrafficRemaining(r)

	switch r.Status {
	case repository.ResellerActive:
		if windowValid && trafficLeft {
			return Summary{}, nil
		}
		// Quota exhaustion is the more actionable cause when both lapse.
		reason := repository.ReasonWindowExpired
		if !trafficLeft {
			reason = repository.ReasonQuotaExhausted
		}
		return e.suspend(ctx, r, reason, !windowValid)
	case repository.ResellerSuspended:
		if !windowValid || !trafficLeft {
			return Summary{}, nil
		}
		return e.reactivate(ctx, r)
	default:
		// suspended_wallet belongs to the biller.
		return Summary{}, nil
	}
}

// suspend flips the reseller to suspended and disables every active config.
// Local state is updated regardless of remote outcome; the remote result is
// recorded on the config event for the reconcile pass.
func (e *Enforcer) suspend(ctx context.Context, r *repository.Reseller, reason repository.SuspendReason, windowLapsed bool) (Summary, error) {
	now := e.now().Unix()
	correlationID := uuid.NewString()

	cause := e.trail.RecordAudit(ctx, &repository.AuditLog{
		Action:        "reseller.suspend",
		TargetType:    "reseller",
		TargetID:      r.ID,
		Reason:        string(reason),
		CorrelationID: correlationID,
	})

	if err := e.store.Resellers().UpdateStatus(ctx, r.ID, repository.ResellerSuspended, now); err != nil {
		return Summary{}, fmt.Errorf("suspend reseller %d: %w", r.ID, err)
	}
	r.Status = repository.ResellerSuspended

	configs, err := e.store.ResellerConfigs().ListByResellerAndStatus(ctx, r.ID, repository.ConfigActive)
	if err != nil {
		return Summary{}, fmt.Errorf("list active configs for reseller %d: %w", r.ID, err)
	}

	summary := Summary{Suspended: 1}
	panels := make(map[int64]*repository.Panel)
	for _, cfg := range configs {
		result := e.disableRemote(ctx, panels, cfg)
		if !result.Success {
			summary.RemoteFailures++
		}

		meta := repository.SuspensionMeta{
			DisabledByResellerSuspension: true,
			SuspendedByTimeWindow:        windowLapsed,
			Reason:                       reason,
			CauseEventID:                 cause.ID,
		}
		disabledAt := now
		if err := e.store.ResellerConfigs().SetStatus(ctx, cfg.ID, repository.ConfigDisabled, &disabledAt, meta, now); err != nil {
			e.logger.Error("config disable write failed", "config_id", cfg.ID, "error", err)
			continue
		}
		summary.ConfigsDisabled++
		e.trail.RecordConfigEvent(ctx, audit.ConfigEvent(cfg, "disable", reason, result, correlationID))
	}

	e.logger.Info("reseller suspended",
		"reseller_id", r.ID, "reason", reason,
		"configs_disabled", summary.ConfigsDisabled,
		"remote_failures", summary.RemoteFailures)
	return summary, nil
}

// ReactivateReseller is the single entry point for bringing a suspended
// reseller back. Both the window and the traffic quota must hold. ModeQueued
// defers the sweep to the queue when possible and falls back to inline.
func (e *Enforcer) ReactivateReseller(ctx context.Context, resellerID int64, mode ExecMode) error {
	r, err := e.store.Resellers().FindByID(ctx, resellerID)
	if err != nil {
		return fmt.Errorf("load reseller %d: %w", resellerID, err)
	}
	if r.BillingType == repository.BillingWallet {
		return ErrWalletBilled
	}
	if r.Status != repository.ResellerSuspended {
		return nil
	}
	if !e.WindowValid(r) || !e.HasTrafficRemaining(r) {
		return ErrNotEligible
	}

	if mode == ModeQueued && e.dispatcher != nil && e.dispatcher.Enqueue(resellerID) {
		return nil
	}
	_, err = e.reactivate(ctx, r)
	return err
}

// reactivate flips the reseller back to active and re-enables only the
// configs this enforcer disabled. Manually disabled configs keep their state.
// Running the sweep twice is harmless: the second pass finds the reseller
// already active and no configs still carrying the marker.
func (e *Enforcer) reactivate(ctx context.Context, r *repository.Reseller) (Summary, error) {
	now := e.now().Unix()
	correlationID := uuid.NewString()

	if err := e.store.Resellers().UpdateStatus(ctx, r.ID, repository.ResellerActive, now); err != nil {
		return Summary{}, fmt.Errorf("reactivate reseller %d: %w", r.ID, err)
	}
	r.Status = repository.ResellerActive

	e.trail.RecordAudit(ctx, &repository.AuditLog{
		Action:        "reseller.reactivate",
		TargetType:    "reseller",
		TargetID:      r.ID,
		CorrelationID: correlationID,
	})

	configs, err := e.store.ResellerConfigs().ListByResellerAndStatus(ctx, r.ID, repository.ConfigDisabled)
	if err != nil {
		return Summary{}, fmt.Errorf("list disabled configs for reseller %d: %w", r.ID, err)
	}

	summary := Summary{Reactivated: 1}
	panels := make(map[int64]*repository.Panel)
	for _, cfg := range configs {
		if !cfg.Meta.AutoSuspendedByEnforcer() {
			continue
		}
		result := e.enableRemote(ctx, panels, cfg)
		if !result.Success {
			summary.RemoteFailures++
		}

		// Markers are cleared in the same write that flips the status, so a
		// repeat sweep skips the config entirely.
		if err := e.store.ResellerConfigs().SetStatus(ctx, cfg.ID, repository.ConfigActive, nil, repository.SuspensionMeta{}, now); err != nil {
			e.logger.Error("config enable write failed", "config_id", cfg.ID, "error", err)
			continue
		}
		summary.ConfigsEnabled++
		e.trail.RecordConfigEvent(ctx, audit.ConfigEvent(cfg, "enable", "", result, correlationID))
	}

	e.logger.Info("reseller reactivated",
		"reseller_id", r.ID,
		"configs_enabled", summary.ConfigsEnabled,
		"remote_failures", summary.RemoteFailures)
	return summary, nil
}

func (e *Enforcer) disableRemote(ctx context.Context, panels map[int64]*repository.Panel, cfg *repository.ResellerConfig) provision.Result {
	pnl, result := e.panelFor(ctx, panels, cfg)
	if pnl == nil {
		return result
	}
	return e.provisioner.Disable(ctx, pnl, cfg.PanelUserID)
}

func (e *Enforcer) enableRemote(ctx context.Context, panels map[int64]*repository.Panel, cfg *repository.ResellerConfig) provision.Result {
	pnl, result := e.panelFor(ctx, panels, cfg)
	if pnl == nil {
		return result
	}
	return e.provisioner.Enable(ctx, pnl, cfg.PanelUserID)
}

// panelFor resolves a config's panel once per sweep. A missing panel yields
// a zero-attempt failure result, mirroring the missing-credential case.
func (e *Enforcer) panelFor(ctx context.Context, panels map[int64]*repository.Panel, cfg *repository.ResellerConfig) (*repository.Panel, provision.Result) {
	if pnl, ok := panels[cfg.PanelID]; ok {
		return pnl, provision.Result{}
	}
	pnl, err := e.store.Panels().FindByID(ctx, cfg.PanelID)
	if err != nil {
		e.logger.Error("panel lookup failed", "config_id", cfg.ID, "panel_id", cfg.PanelID, "error", err)
		return nil, provision.Result{Success: false, Attempts: 0, LastError: err.Error()}
	}
	panels[cfg.PanelID] = pnl
	return pnl, provision.Result{}
}
