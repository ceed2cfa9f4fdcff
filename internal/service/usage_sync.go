// Package service holds the orchestration logic shared by the background
// jobs and the trigger API.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/creamcroissant/resellerd/internal/repository"
)

// UsageReader reads cumulative usage for one remote account.
type UsageReader interface {
	ReadUsage(ctx context.Context, pnl *repository.Panel, remoteID string) (int64, error)
}

// UsageSyncSummary aggregates one usage sync pass.
type UsageSyncSummary struct {
	ConfigsSynced int   `json:"configs_synced"`
	ConfigsFailed int   `json:"configs_failed"`
	BytesAdded    int64 `json:"bytes_added"`
}

// UsageSync pulls cumulative usage counters from the remote panels into the
// local config rows and accumulates the per-reseller counted usage that the
// entitlement enforcer reads.
type UsageSync struct {
	store  repository.Store
	reader UsageReader
	logger *slog.Logger
	now    func() time.Time
}

// NewUsageSync constructs the sync service.
func NewUsageSync(store repository.Store, reader UsageReader, logger *slog.Logger) *UsageSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageSync{store: store, reader: reader, logger: logger, now: time.Now}
}

// SyncAll refreshes usage for every non-deleted config of every reseller.
// Remote counters are eventually consistent; a counter that moved backwards
// updates the stored value without decrementing the reseller accumulator.
func (s *UsageSync) SyncAll(ctx context.Context) (UsageSyncSummary, error) {
	resellers, err := s.store.Resellers().ListAll(ctx)
	if err != nil {
		return UsageSyncSummary{}, fmt.Errorf("list resellers: %w", err)
	}

	var summary UsageSyncSummary
	panels := make(map[int64]*repository.Panel)
	for _, r := range resellers {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		configs, err := s.store.ResellerConfigs().ListByReseller(ctx, r.ID)
		if err != nil {
			s.logger.Error("config list failed", "reseller_id", r.ID, "error", err)
			continue
		}
		for _, cfg := range configs {
			added, err := s.syncOne(ctx, panels, cfg)
			if err != nil {
				summary.ConfigsFailed++
				s.logger.Warn("usage sync failed", "config_id", cfg.ID, "panel_id", cfg.PanelID, "error", err)
				continue
			}
			summary.ConfigsSynced++
			summary.BytesAdded += added
		}
	}
	s.logger.Info("usage sync finished",
		"synced", summary.ConfigsSynced,
		"failed", summary.ConfigsFailed,
		"bytes_added", summary.BytesAdded)
	return summary, nil
}

// SyncConfig refreshes a single config. Diagnostic entry point for the
// trigger API; returns the remote cumulative counter.
func (s *UsageSync) SyncConfig(ctx context.Context, configID int64) (int64, error) {
	cfg, err := s.store.ResellerConfigs().FindByID(ctx, configID)
	if err != nil {
		return 0, fmt.Errorf("load config %d: %w", configID, err)
	}
	panels := make(map[int64]*repository.Panel)
	if _, err := s.syncOne(ctx, panels, cfg); err != nil {
		return 0, err
	}
	return cfg.UsageBytes, nil
}

func (s *UsageSync) syncOne(ctx context.Context, panels map[int64]*repository.Panel, cfg *repository.ResellerConfig) (int64, error) {
	pnl, ok := panels[cfg.PanelID]
	if !ok {
		var err error
		pnl, err = s.store.Panels().FindByID(ctx, cfg.PanelID)
		if err != nil {
			return 0, fmt.Errorf("load panel %d: %w", cfg.PanelID, err)
		}
		panels[cfg.PanelID] = pnl
	}

	remote, err := s.reader.ReadUsage(ctx, pnl, cfg.PanelUserID)
	if err != nil {
		return 0, err
	}
	if remote == cfg.UsageBytes {
		return 0, nil
	}

	now := s.now().Unix()
	delta := remote - cfg.UsageBytes
	if err := s.store.ResellerConfigs().UpdateUsage(ctx, cfg.ID, remote, now); err != nil {
		return 0, fmt.Errorf("store usage for config %d: %w", cfg.ID, err)
	}
	cfg.UsageBytes = remote

	// The reseller accumulator only ever grows; counter resets on the remote
	// side are absorbed by the stored per-config value.
	if delta > 0 {
		if err := s.store.Resellers().IncrementTrafficUsed(ctx, cfg.ResellerID, delta, now); err != nil {
			return 0, fmt.Errorf("accumulate usage for reseller %d: %w", cfg.ResellerID, err)
		}
		return delta, nil
	}
	return 0, nil
}
