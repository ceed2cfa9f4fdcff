package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/creamcroissant/resellerd/internal/audit"
	"github.com/creamcroissant/resellerd/internal/panel"
	"github.com/creamcroissant/resellerd/internal/provision"
	"github.com/creamcroissant/resellerd/internal/repository"
)

// AccountProvisioner is the full provisioning surface the lifecycle needs.
type AccountProvisioner interface {
	GenerateAccountName(r *repository.Reseller, kind string, primaryID int64, secondary ...int) string
	ProvisionAccount(ctx context.Context, pnl *repository.Panel, spec panel.AccountSpec) (*provision.Provisioned, error)
	Delete(ctx context.Context, pnl *repository.Panel, remoteID string) provision.Result
	Renew(ctx context.Context, pnl *repository.Panel, remoteID string, spec panel.AccountSpec) provision.Result
}

// CreateConfigInput describes a new remote account request.
type CreateConfigInput struct {
	ResellerID        int64
	PanelID           int64
	TrafficLimitBytes int64
	ExpireAt          time.Time
	Services          []string
	MaxConnections    int
}

// ConfigLifecycle creates, renews and retires remote accounts. Deleting a
// config settles its usage into the owning reseller so the billing base
// never shrinks when accounts rotate.
type ConfigLifecycle struct {
	store       repository.Store
	provisioner AccountProvisioner
	trail       *audit.Trail
	logger      *slog.Logger
	now         func() time.Time
}

// NewConfigLifecycle constructs the lifecycle service.
func NewConfigLifecycle(store repository.Store, provisioner AccountProvisioner, trail *audit.Trail, logger *slog.Logger) *ConfigLifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigLifecycle{store: store, provisioner: provisioner, trail: trail, logger: logger, now: time.Now}
}

// Create provisions a remote account and persists the config row. The remote
// account name is deterministic, so a retried create lands on the same name.
func (l *ConfigLifecycle) Create(ctx context.Context, in CreateConfigInput) (*repository.ResellerConfig, error) {
	r, err := l.store.Resellers().FindByID(ctx, in.ResellerID)
	if err != nil {
		return nil, fmt.Errorf("load reseller %d: %w", in.ResellerID, err)
	}
	if r.Status != repository.ResellerActive {
		return nil, fmt.Errorf("reseller %d is %s, refusing to provision", r.ID, r.Status)
	}
	pnl, err := l.store.Panels().FindByID(ctx, in.PanelID)
	if err != nil {
		return nil, fmt.Errorf("load panel %d: %w", in.PanelID, err)
	}
	if !pnl.Enabled {
		return nil, fmt.Errorf("panel %d is disabled", pnl.ID)
	}

	now := l.now()
	cfg := &repository.ResellerConfig{
		ResellerID:        r.ID,
		PanelID:           pnl.ID,
		PanelKind:         pnl.Kind,
		TrafficLimitBytes: in.TrafficLimitBytes,
		Status:            repository.ConfigActive,
		CreatedAt:         now.Unix(),
		UpdatedAt:         now.Unix(),
	}
	cfg, err = l.store.ResellerConfigs().Create(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("persist config: %w", err)
	}

	name := l.provisioner.GenerateAccountName(r, "config", cfg.ID)
	provisioned, err := l.provisioner.ProvisionAccount(ctx, pnl, panel.AccountSpec{
		Username:          name,
		TrafficLimitBytes: in.TrafficLimitBytes,
		ExpireAt:          in.ExpireAt,
		Services:          in.Services,
		MaxConnections:    in.MaxConnections,
	})
	if err != nil {
		// Roll back the local row; a retried create allocates a new id and
		// therefore a new deterministic name.
		if delErr := l.store.ResellerConfigs().SoftDelete(ctx, cfg.ID, l.now().Unix()); delErr != nil {
			l.logger.Error("rollback of unprovisioned config failed", "config_id", cfg.ID, "error", delErr)
		}
		return nil, fmt.Errorf("provision account %q on panel %d: %w", name, pnl.ID, err)
	}

	cfg.ExternalUsername = provisioned.Username
	cfg.PanelUserID = provisioned.PanelUserID
	cfg.SubscriptionURL = provisioned.SubscriptionURL
	if err := l.store.ResellerConfigs().UpdateProvisioned(ctx, cfg.ID, provisioned.Username, provisioned.PanelUserID, provisioned.SubscriptionURL, l.now().Unix()); err != nil {
		return nil, fmt.Errorf("store provisioned identity for config %d: %w", cfg.ID, err)
	}

	l.trail.RecordAudit(ctx, &repository.AuditLog{
		Action:        "config.create",
		TargetType:    "config",
		TargetID:      cfg.ID,
		Meta:          map[string]any{"panel_id": pnl.ID, "username": name},
		CorrelationID: uuid.NewString(),
	})
	return cfg, nil
}

// Delete retires a config: settle its usage into the reseller, soft-delete
// the row, then remove the remote account. Remote failure is recorded and
// left to the reconcile pass.
func (l *ConfigLifecycle) Delete(ctx context.Context, configID int64, actor *string) error {
	cfg, err := l.store.ResellerConfigs().FindByID(ctx, configID)
	if err != nil {
		return fmt.Errorf("load config %d: %w", configID, err)
	}
	if cfg.Status == repository.ConfigDeleted {
		return nil
	}
	now := l.now().Unix()

	if cfg.UsageBytes > 0 {
		if err := l.store.Resellers().AddSettledUsage(ctx, cfg.ResellerID, cfg.UsageBytes, now); err != nil {
			return fmt.Errorf("settle usage for reseller %d: %w", cfg.ResellerID, err)
		}
	}
	if err := l.store.ResellerConfigs().SoftDelete(ctx, cfg.ID, now); err != nil {
		return fmt.Errorf("soft delete config %d: %w", cfg.ID, err)
	}

	var result provision.Result
	pnl, err := l.store.Panels().FindByID(ctx, cfg.PanelID)
	if err != nil {
		result = provision.Result{Success: false, Attempts: 0, LastError: err.Error()}
	} else {
		result = l.provisioner.Delete(ctx, pnl, cfg.PanelUserID)
	}

	correlationID := uuid.NewString()
	l.trail.RecordConfigEvent(ctx, audit.ConfigEvent(cfg, "delete", "", result, correlationID))
	l.trail.RecordAudit(ctx, &repository.AuditLog{
		Action:        "config.delete",
		Actor:         actor,
		TargetType:    "config",
		TargetID:      cfg.ID,
		Meta:          map[string]any{"settled_bytes": cfg.UsageBytes},
		CorrelationID: correlationID,
	})
	return nil
}

// Renew pushes a new quota and expiry to the remote account. Backends with
// no update endpoint report ErrUnsupported through the telemetry result.
func (l *ConfigLifecycle) Renew(ctx context.Context, configID int64, limitBytes int64, expireAt time.Time) (provision.Result, error) {
	cfg, err := l.store.ResellerConfigs().FindByID(ctx, configID)
	if err != nil {
		return provision.Result{}, fmt.Errorf("load config %d: %w", configID, err)
	}
	pnl, err := l.store.Panels().FindByID(ctx, cfg.PanelID)
	if err != nil {
		return provision.Result{}, fmt.Errorf("load panel %d: %w", cfg.PanelID, err)
	}

	result := l.provisioner.Renew(ctx, pnl, cfg.PanelUserID, panel.AccountSpec{
		Username:          cfg.ExternalUsername,
		TrafficLimitBytes: limitBytes,
		ExpireAt:          expireAt,
	})
	l.trail.RecordConfigEvent(ctx, audit.ConfigEvent(cfg, "renew", "", result, uuid.NewString()))
	return result, nil
}
