// Package audit is the append-only event sink shared by the enforcement and
// billing sweeps. It owns no state: rows are written once and never touched
// again, and a failed write never aborts the caller's sweep.
package audit

import (
	"context"
	"log/slog"

	"github.com/creamcroissant/resellerd/internal/provision"
	"github.com/creamcroissant/resellerd/internal/repository"
)

// Trail records audit logs and config events.
type Trail struct {
	audits repository.AuditLogRepository
	events repository.ConfigEventRepository
	logger *slog.Logger
}

// NewTrail constructs the sink.
func NewTrail(audits repository.AuditLogRepository, events repository.ConfigEventRepository, logger *slog.Logger) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{audits: audits, events: events, logger: logger}
}

// RecordAudit appends an audit row. The returned entry carries its assigned
// id; on persistence failure the error is logged and the entry returned with
// a zero id so the sweep can continue.
func (t *Trail) RecordAudit(ctx context.Context, entry *repository.AuditLog) *repository.AuditLog {
	if err := t.audits.Create(ctx, entry); err != nil {
		t.logger.Error("audit write failed", "action", entry.Action, "target_id", entry.TargetID, "error", err)
	}
	return entry
}

// RecordConfigEvent appends a config event carrying the remote telemetry of
// one state transition.
func (t *Trail) RecordConfigEvent(ctx context.Context, event *repository.ConfigEvent) *repository.ConfigEvent {
	if _, err := t.events.Create(ctx, event); err != nil {
		t.logger.Error("config event write failed", "config_id", event.ConfigID, "action", event.Action, "error", err)
	}
	return event
}

// ConfigEvent assembles an event from a transition plus its telemetry.
func ConfigEvent(cfg *repository.ResellerConfig, action string, reason repository.SuspendReason, res provision.Result, correlationID string) *repository.ConfigEvent {
	return &repository.ConfigEvent{
		ConfigID:      cfg.ID,
		ResellerID:    cfg.ResellerID,
		Action:        action,
		Reason:        string(reason),
		RemoteSuccess: res.Success,
		Attempts:      res.Attempts,
		LastError:     res.LastError,
		PanelID:       cfg.PanelID,
		PanelKind:     cfg.PanelKind,
		CorrelationID: correlationID,
	}
}
