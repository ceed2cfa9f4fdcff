package handler

import (
	"log/slog"
	"net/http"

	"github.com/creamcroissant/resellerd/internal/job"
)

// SweepHandler exposes on-demand runs of the periodic sweeps. Each trigger
// shares the scheduler's lock, so an invocation overlapping a cron run is
// skipped with 409 rather than queued.
type SweepHandler struct {
	Enforcement *job.EnforcementSweepJob
	Wallet      *job.WalletBillingJob
	UsageSync   *job.UsageSyncJob
	Reconcile   *job.ReconcileJob
	Logger      *slog.Logger
}

func (h *SweepHandler) RunEnforcement(w http.ResponseWriter, r *http.Request) {
	summary, ran, err := h.Enforcement.Trigger(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "enforcement_sweep", err)
		return
	}
	if !ran {
		respondSkipped(w)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "summary": summary})
}

func (h *SweepHandler) RunWallet(w http.ResponseWriter, r *http.Request) {
	summary, ran, err := h.Wallet.Trigger(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "wallet_sweep", err)
		return
	}
	if !ran {
		respondSkipped(w)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "summary": summary})
}

func (h *SweepHandler) RunUsageSync(w http.ResponseWriter, r *http.Request) {
	summary, ran, err := h.UsageSync.Trigger(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "usage_sync", err)
		return
	}
	if !ran {
		respondSkipped(w)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "summary": summary})
}

func (h *SweepHandler) RunReconcile(w http.ResponseWriter, r *http.Request) {
	summary, ran, err := h.Reconcile.Trigger(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reconcile", err)
		return
	}
	if !ran {
		respondSkipped(w)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "summary": summary})
}
