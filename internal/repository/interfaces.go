package repository

import "context"

// Store exposes the repository for each aggregate root.
type Store interface {
	Resellers() ResellerRepository
	ResellerConfigs() ResellerConfigRepository
	UsageSnapshots() UsageSnapshotRepository
	AuditLogs() AuditLogRepository
	ConfigEvents() ConfigEventRepository
	Panels() PanelRepository
}

// ResellerRepository defines reseller data access.
type ResellerRepository interface {
	FindByID(ctx context.Context, id int64) (*Reseller, error)
	// ListByBilling returns resellers of one billing type in stable id order.
	ListByBilling(ctx context.Context, billing BillingType) ([]*Reseller, error)
	ListAll(ctx context.Context) ([]*Reseller, error)
	UpdateStatus(ctx context.Context, id int64, status ResellerStatus, updatedAt int64) error
	// AdjustWallet applies a signed delta and returns the resulting balance.
	AdjustWallet(ctx context.Context, id int64, delta int64, updatedAt int64) (int64, error)
	AddSettledUsage(ctx context.Context, id int64, bytes int64, updatedAt int64) error
	IncrementTrafficUsed(ctx context.Context, id int64, bytes int64, updatedAt int64) error
}

// ResellerConfigRepository defines per-account data access.
type ResellerConfigRepository interface {
	FindByID(ctx context.Context, id int64) (*ResellerConfig, error)
	// ListByReseller returns all non-deleted configs in stable id order.
	ListByReseller(ctx context.Context, resellerID int64) ([]*ResellerConfig, error)
	ListByResellerAndStatus(ctx context.Context, resellerID int64, status ConfigStatus) ([]*ResellerConfig, error)
	Create(ctx context.Context, cfg *ResellerConfig) (*ResellerConfig, error)
	// UpdateProvisioned stores the remote identity assigned at creation time.
	UpdateProvisioned(ctx context.Context, id int64, username, panelUserID, subscriptionURL string, updatedAt int64) error
	// SetStatus persists status, disabled_at and the provenance meta in one write.
	SetStatus(ctx context.Context, id int64, status ConfigStatus, disabledAt *int64, meta SuspensionMeta, updatedAt int64) error
	UpdateUsage(ctx context.Context, id int64, usageBytes int64, updatedAt int64) error
	SoftDelete(ctx context.Context, id int64, updatedAt int64) error
}

// UsageSnapshotRepository appends and reads cumulative usage measurements.
type UsageSnapshotRepository interface {
	Latest(ctx context.Context, resellerID int64) (*UsageSnapshot, error)
	Insert(ctx context.Context, snapshot *UsageSnapshot) error
}

// AuditLogRepository is append-only.
type AuditLogRepository interface {
	Create(ctx context.Context, entry *AuditLog) error
}

// ConfigEventRepository is append-only; reconciliation reads the latest
// event per config rather than mutating rows.
type ConfigEventRepository interface {
	Create(ctx context.Context, event *ConfigEvent) (*ConfigEvent, error)
	ListByConfig(ctx context.Context, configID int64, limit int) ([]*ConfigEvent, error)
	// LatestFailedPerConfig returns, for each config, the most recent event
	// if that event recorded a remote failure.
	LatestFailedPerConfig(ctx context.Context, limit int) ([]*ConfigEvent, error)
}

// PanelRepository reads remote backend records.
type PanelRepository interface {
	FindByID(ctx context.Context, id int64) (*Panel, error)
	ListEnabled(ctx context.Context) ([]*Panel, error)
}
