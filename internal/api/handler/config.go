package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/creamcroissant/resellerd/internal/repository"
	"github.com/creamcroissant/resellerd/internal/service"
)

// ConfigHandler covers per-config operations: lifecycle, diagnostic usage
// sync, and subscription QR rendering.
type ConfigHandler struct {
	Lifecycle *service.ConfigLifecycle
	UsageSync *service.UsageSync
	Store     repository.Store
	Logger    *slog.Logger
}

type createConfigRequest struct {
	ResellerID        int64    `json:"reseller_id"`
	PanelID           int64    `json:"panel_id"`
	TrafficLimitBytes int64    `json:"traffic_limit_bytes"`
	ExpireAt          int64    `json:"expire_at"`
	Services          []string `json:"services,omitempty"`
	MaxConnections    int      `json:"max_connections,omitempty"`
}

func (h *ConfigHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if req.ResellerID <= 0 || req.PanelID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_body", nil)
		return
	}

	cfg, err := h.Lifecycle.Create(r.Context(), service.CreateConfigInput{
		ResellerID:        req.ResellerID,
		PanelID:           req.PanelID,
		TrafficLimitBytes: req.TrafficLimitBytes,
		ExpireAt:          time.Unix(req.ExpireAt, 0),
		Services:          req.Services,
		MaxConnections:    req.MaxConnections,
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, map[string]any{
			"id":               cfg.ID,
			"username":         cfg.ExternalUsername,
			"subscription_url": cfg.SubscriptionURL,
			"panel_kind":       cfg.PanelKind,
		})
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", nil)
	default:
		respondError(w, http.StatusInternalServerError, "config_create", err)
	}
}

func (h *ConfigHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var actor *string
	if v := r.URL.Query().Get("actor"); v != "" {
		actor = &v
	}
	err := h.Lifecycle.Delete(r.Context(), id, actor)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, "config_not_found", nil)
	default:
		respondError(w, http.StatusInternalServerError, "config_delete", err)
	}
}

type renewConfigRequest struct {
	TrafficLimitBytes int64 `json:"traffic_limit_bytes"`
	ExpireAt          int64 `json:"expire_at"`
}

func (h *ConfigHandler) Renew(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var req renewConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	result, err := h.Lifecycle.Renew(r.Context(), id, req.TrafficLimitBytes, time.Unix(req.ExpireAt, 0))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, "config_not_found", nil)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "config_renew", err)
	default:
		status := http.StatusOK
		if !result.Success {
			status = http.StatusBadGateway
		}
		respondJSON(w, status, map[string]any{
			"success":    result.Success,
			"attempts":   result.Attempts,
			"last_error": result.LastError,
		})
	}
}

// SyncUsage is the single-config diagnostic pull.
func (h *ConfigHandler) SyncUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	usage, err := h.UsageSync.SyncConfig(r.Context(), id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "usage_bytes": usage})
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, "config_not_found", nil)
	default:
		respondError(w, http.StatusBadGateway, "usage_sync", err)
	}
}

// QR renders the config's subscription link as a PNG QR code.
func (h *ConfigHandler) QR(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	cfg, err := h.Store.ResellerConfigs().FindByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		respondError(w, http.StatusNotFound, "config_not_found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "config_load", err)
		return
	}
	if cfg.SubscriptionURL == "" {
		respondError(w, http.StatusNotFound, "no_subscription_url", nil)
		return
	}

	size := 256
	if v := r.URL.Query().Get("size"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 64 && parsed <= 1024 {
			size = parsed
		}
	}
	png, err := qrcode.Encode(cfg.SubscriptionURL, qrcode.Medium, size)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "qr_encode", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Warn("qr write failed", "config_id", id, "error", err)
	}
}
