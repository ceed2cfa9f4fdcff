package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/creamcroissant/resellerd/internal/repository"
)

type configEventRepo struct {
	db *sql.DB
}

const configEventColumns = `
	id, config_id, reseller_id, action, reason, remote_success, attempts,
	last_error, panel_id, panel_kind, correlation_id, created_at
`

func scanConfigEvent(row interface{ Scan(...any) error }) (*repository.ConfigEvent, error) {
	var e repository.ConfigEvent
	var remoteSuccess int
	err := row.Scan(
		&e.ID, &e.ConfigID, &e.ResellerID, &e.Action, &e.Reason, &remoteSuccess,
		&e.Attempts, &e.LastError, &e.PanelID, &e.PanelKind, &e.CorrelationID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.RemoteSuccess = remoteSuccess == 1
	return &e, nil
}

func (r *configEventRepo) Create(ctx context.Context, event *repository.ConfigEvent) (*repository.ConfigEvent, error) {
	now := event.CreatedAt
	if now == 0 {
		now = time.Now().Unix()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO config_events (
			config_id, reseller_id, action, reason, remote_success, attempts,
			last_error, panel_id, panel_kind, correlation_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ConfigID, event.ResellerID, event.Action, event.Reason,
		boolToInt(event.RemoteSuccess), event.Attempts, event.LastError,
		event.PanelID, event.PanelKind, event.CorrelationID, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	event.ID = id
	event.CreatedAt = now
	return event, nil
}

func (r *configEventRepo) ListByConfig(ctx context.Context, configID int64, limit int) ([]*repository.ConfigEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+configEventColumns+` FROM config_events
		WHERE config_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, configID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConfigEvents(rows)
}

// LatestFailedPerConfig keeps the event table append-only: instead of a
// reconciled flag, the reconcile job reads the newest event per config and
// acts only when that event carries a remote failure.
func (r *configEventRepo) LatestFailedPerConfig(ctx context.Context, limit int) ([]*repository.ConfigEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+configEventColumns+` FROM config_events
		WHERE id IN (SELECT MAX(id) FROM config_events GROUP BY config_id)
		  AND remote_success = 0
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConfigEvents(rows)
}

func collectConfigEvents(rows *sql.Rows) ([]*repository.ConfigEvent, error) {
	var out []*repository.ConfigEvent
	for rows.Next() {
		event, err := scanConfigEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
