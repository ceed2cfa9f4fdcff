package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/creamcroissant/resellerd/internal/audit"
	"github.com/creamcroissant/resellerd/internal/provision"
	"github.com/creamcroissant/resellerd/internal/repository"
)

// reconcileBatchLimit bounds one reconcile pass; leftovers wait for the next
// tick.
const reconcileBatchLimit = 200

// RemoteProvisioner is the slice of the provisioner the reconciler replays.
type RemoteProvisioner interface {
	Enable(ctx context.Context, pnl *repository.Panel, remoteID string) provision.Result
	Disable(ctx context.Context, pnl *repository.Panel, remoteID string) provision.Result
	Delete(ctx context.Context, pnl *repository.Panel, remoteID string) provision.Result
}

// ReconcileSummary aggregates one reconcile pass.
type ReconcileSummary struct {
	Examined  int `json:"examined"`
	Replayed  int `json:"replayed"`
	Recovered int `json:"recovered"`
	StillDown int `json:"still_down"`
	Skipped   int `json:"skipped"`
}

// Reconciler re-pushes local config state to panels whose last remote call
// failed. State transitions are optimistic — local rows flip even when the
// remote call fails — so this pass is what eventually makes the panels agree
// with the database. The event log stays append-only: progress is tracked by
// appending a fresh event per replay, never by mutating old rows.
type Reconciler struct {
	store       repository.Store
	provisioner RemoteProvisioner
	trail       *audit.Trail
	logger      *slog.Logger
}

// NewReconciler constructs the reconcile service.
func NewReconciler(store repository.Store, provisioner RemoteProvisioner, trail *audit.Trail, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, provisioner: provisioner, trail: trail, logger: logger}
}

// Run scans for configs whose most recent event recorded a remote failure
// and replays the operation implied by the config's current local state.
func (r *Reconciler) Run(ctx context.Context) (ReconcileSummary, error) {
	events, err := r.store.ConfigEvents().LatestFailedPerConfig(ctx, reconcileBatchLimit)
	if err != nil {
		return ReconcileSummary{}, fmt.Errorf("list failed events: %w", err)
	}

	var summary ReconcileSummary
	correlationID := uuid.NewString()
	panels := make(map[int64]*repository.Panel)
	for _, ev := range events {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Examined++

		cfg, err := r.store.ResellerConfigs().FindByID(ctx, ev.ConfigID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				summary.Skipped++
				continue
			}
			r.logger.Error("config load failed", "config_id", ev.ConfigID, "error", err)
			continue
		}

		action, op := r.replayFor(cfg)
		if op == nil {
			summary.Skipped++
			continue
		}

		pnl, ok := panels[cfg.PanelID]
		if !ok {
			pnl, err = r.store.Panels().FindByID(ctx, cfg.PanelID)
			if err != nil {
				r.logger.Error("panel lookup failed", "config_id", cfg.ID, "panel_id", cfg.PanelID, "error", err)
				continue
			}
			panels[cfg.PanelID] = pnl
		}

		result := op(ctx, pnl, cfg.PanelUserID)
		summary.Replayed++
		if result.Success {
			summary.Recovered++
		} else {
			summary.StillDown++
		}
		r.trail.RecordConfigEvent(ctx, audit.ConfigEvent(cfg, action, repository.SuspendReason(ev.Reason), result, correlationID))
	}

	if summary.Replayed > 0 {
		r.logger.Info("reconcile pass finished",
			"examined", summary.Examined,
			"replayed", summary.Replayed,
			"recovered", summary.Recovered,
			"still_down", summary.StillDown)
	}
	return summary, nil
}

// replayFor maps the config's current local state to the remote operation
// that would make the panel agree. Expired configs stay disabled remotely.
func (r *Reconciler) replayFor(cfg *repository.ResellerConfig) (string, func(context.Context, *repository.Panel, string) provision.Result) {
	switch cfg.Status {
	case repository.ConfigActive:
		return "reconcile.enable", r.provisioner.Enable
	case repository.ConfigDisabled, repository.ConfigExpired:
		return "reconcile.disable", r.provisioner.Disable
	case repository.ConfigDeleted:
		return "reconcile.delete", r.provisioner.Delete
	default:
		return "", nil
	}
}
