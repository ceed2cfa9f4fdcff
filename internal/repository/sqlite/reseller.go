package sqlite

import (
	"context"
	"database/sql"

	"github.com/creamcroissant/resellerd/internal/repository"
)

type resellerRepo struct {
	db *sql.DB
}

const resellerColumns = `
	id, entitlement_type, billing_type, status, account_prefix,
	traffic_total_bytes, traffic_used_bytes, admin_forgiven_bytes, settled_usage_bytes,
	window_starts_at, window_ends_at, wallet_balance, wallet_price_per_gb,
	created_at, updated_at
`

func scanReseller(row interface{ Scan(...any) error }) (*repository.Reseller, error) {
	var r repository.Reseller
	var total, windowStart, windowEnd, pricePerGB sql.NullInt64
	err := row.Scan(
		&r.ID, &r.EntitlementType, &r.BillingType, &r.Status, &r.AccountPrefix,
		&total, &r.TrafficUsedBytes, &r.AdminForgivenBytes, &r.SettledUsageBytes,
		&windowStart, &windowEnd, &r.WalletBalance, &pricePerGB,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.TrafficTotalBytes = scanNullableInt64(total)
	r.WindowStartsAt = scanNullableInt64(windowStart)
	r.WindowEndsAt = scanNullableInt64(windowEnd)
	r.WalletPricePerGB = scanNullableInt64(pricePerGB)
	return &r, nil
}

func (r *resellerRepo) FindByID(ctx context.Context, id int64) (*repository.Reseller, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+resellerColumns+` FROM resellers WHERE id = ?
	`, id)
	reseller, err := scanReseller(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return reseller, nil
}

func (r *resellerRepo) ListByBilling(ctx context.Context, billing repository.BillingType) ([]*repository.Reseller, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+resellerColumns+` FROM resellers WHERE billing_type = ? ORDER BY id
	`, billing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectResellers(rows)
}

func (r *resellerRepo) ListAll(ctx context.Context) ([]*repository.Reseller, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+resellerColumns+` FROM resellers ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectResellers(rows)
}

func collectResellers(rows *sql.Rows) ([]*repository.Reseller, error) {
	var out []*repository.Reseller
	for rows.Next() {
		reseller, err := scanReseller(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reseller)
	}
	return out, rows.Err()
}

func (r *resellerRepo) UpdateStatus(ctx context.Context, id int64, status repository.ResellerStatus, updatedAt int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE resellers SET status = ?, updated_at = ? WHERE id = ?
	`, status, updatedAt, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *resellerRepo) AdjustWallet(ctx context.Context, id int64, delta int64, updatedAt int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE resellers SET wallet_balance = wallet_balance + ?, updated_at = ? WHERE id = ?
	`, delta, updatedAt, id)
	if err != nil {
		return 0, err
	}
	if err := requireRow(res); err != nil {
		return 0, err
	}
	var balance int64
	if err := r.db.QueryRowContext(ctx, `SELECT wallet_balance FROM resellers WHERE id = ?`, id).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *resellerRepo) AddSettledUsage(ctx context.Context, id int64, bytes int64, updatedAt int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE resellers SET settled_usage_bytes = settled_usage_bytes + ?, updated_at = ? WHERE id = ?
	`, bytes, updatedAt, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *resellerRepo) IncrementTrafficUsed(ctx context.Context, id int64, bytes int64, updatedAt int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE resellers SET traffic_used_bytes = traffic_used_bytes + ?, updated_at = ? WHERE id = ?
	`, bytes, updatedAt, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}
