package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/creamcroissant/resellerd/internal/billing"
	"github.com/creamcroissant/resellerd/internal/entitlement"
	"github.com/creamcroissant/resellerd/internal/repository"
)

// ResellerHandler covers the operator-facing reseller operations.
type ResellerHandler struct {
	Enforcer *entitlement.Enforcer
	Biller   *billing.Biller
	Logger   *slog.Logger
}

// Reenable requests reactivation of a suspended reseller. The sweep runs
// asynchronously by default; ?mode=sync forces the inline path.
func (h *ResellerHandler) Reenable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	mode := entitlement.ModeQueued
	if r.URL.Query().Get("mode") == "sync" {
		mode = entitlement.ModeInline
	}

	err := h.Enforcer.ReactivateReseller(r.Context(), id, mode)
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, map[string]any{"status": "ok"})
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, "reseller_not_found", nil)
	case errors.Is(err, entitlement.ErrNotEligible):
		respondError(w, http.StatusConflict, "not_eligible", err)
	case errors.Is(err, entitlement.ErrWalletBilled):
		respondError(w, http.StatusConflict, "wallet_billed", err)
	default:
		respondError(w, http.StatusInternalServerError, "reenable", err)
	}
}

type creditRequest struct {
	Amount int64   `json:"amount"`
	Actor  *string `json:"actor,omitempty"`
}

// Credit applies a wallet credit; crossing the suspension threshold upward
// reactivates the reseller as a side effect.
func (h *ResellerHandler) Credit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_amount", nil)
		return
	}

	balance, err := h.Biller.CreditWallet(r.Context(), id, req.Amount, req.Actor)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "balance": balance})
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, "reseller_not_found", nil)
	default:
		respondError(w, http.StatusInternalServerError, "wallet_credit", err)
	}
}
