package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/creamcroissant/resellerd/internal/repository"
)

type resellerConfigRepo struct {
	db *sql.DB
}

const configColumns = `
	id, reseller_id, panel_id, panel_kind, panel_user_id, external_username,
	subscription_url, traffic_limit_bytes, usage_bytes, status, disabled_at,
	meta, created_at, updated_at
`

func scanConfig(row interface{ Scan(...any) error }) (*repository.ResellerConfig, error) {
	var c repository.ResellerConfig
	var disabledAt sql.NullInt64
	var meta sql.NullString
	err := row.Scan(
		&c.ID, &c.ResellerID, &c.PanelID, &c.PanelKind, &c.PanelUserID, &c.ExternalUsername,
		&c.SubscriptionURL, &c.TrafficLimitBytes, &c.UsageBytes, &c.Status, &disabledAt,
		&meta, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.DisabledAt = scanNullableInt64(disabledAt)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &c.Meta); err != nil {
			return nil, fmt.Errorf("decode config meta: %w", err)
		}
	}
	return &c, nil
}

func encodeMeta(meta repository.SuspensionMeta) (string, error) {
	if meta.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode config meta: %w", err)
	}
	return string(data), nil
}

func (r *resellerConfigRepo) FindByID(ctx context.Context, id int64) (*repository.ResellerConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+configColumns+` FROM reseller_configs WHERE id = ?
	`, id)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *resellerConfigRepo) ListByReseller(ctx context.Context, resellerID int64) ([]*repository.ResellerConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+configColumns+` FROM reseller_configs
		WHERE reseller_id = ? AND status != ?
		ORDER BY id
	`, resellerID, repository.ConfigDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConfigs(rows)
}

func (r *resellerConfigRepo) ListByResellerAndStatus(ctx context.Context, resellerID int64, status repository.ConfigStatus) ([]*repository.ResellerConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+configColumns+` FROM reseller_configs
		WHERE reseller_id = ? AND status = ?
		ORDER BY id
	`, resellerID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConfigs(rows)
}

func collectConfigs(rows *sql.Rows) ([]*repository.ResellerConfig, error) {
	var out []*repository.ResellerConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (r *resellerConfigRepo) Create(ctx context.Context, cfg *repository.ResellerConfig) (*repository.ResellerConfig, error) {
	now := time.Now().Unix()
	meta, err := encodeMeta(cfg.Meta)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO reseller_configs (
			reseller_id, panel_id, panel_kind, panel_user_id, external_username,
			subscription_url, traffic_limit_bytes, usage_bytes, status, disabled_at,
			meta, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.ResellerID, cfg.PanelID, cfg.PanelKind, cfg.PanelUserID, cfg.ExternalUsername,
		cfg.SubscriptionURL, cfg.TrafficLimitBytes, cfg.UsageBytes, cfg.Status,
		nullableInt64(cfg.DisabledAt), meta, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	cfg.ID = id
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	return cfg, nil
}

func (r *resellerConfigRepo) SetStatus(ctx context.Context, id int64, status repository.ConfigStatus, disabledAt *int64, meta repository.SuspensionMeta, updatedAt int64) error {
	encoded, err := encodeMeta(meta)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE reseller_configs SET status = ?, disabled_at = ?, meta = ?, updated_at = ?
		WHERE id = ?
	`, status, nullableInt64(disabledAt), encoded, updatedAt, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *resellerConfigRepo) UpdateProvisioned(ctx context.Context, id int64, username, panelUserID, subscriptionURL string, updatedAt int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reseller_configs
		SET external_username = ?, panel_user_id = ?, subscription_url = ?, updated_at = ?
		WHERE id = ?
	`, username, panelUserID, subscriptionURL, updatedAt, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *resellerConfigRepo) UpdateUsage(ctx context.Context, id int64, usageBytes int64, updatedAt int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reseller_configs SET usage_bytes = ?, updated_at = ? WHERE id = ?
	`, usageBytes, updatedAt, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *resellerConfigRepo) SoftDelete(ctx context.Context, id int64, updatedAt int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reseller_configs SET status = ?, updated_at = ? WHERE id = ? AND status != ?
	`, repository.ConfigDeleted, updatedAt, id, repository.ConfigDeleted)
	if err != nil {
		return err
	}
	return requireRow(res)
}
