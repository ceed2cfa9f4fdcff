package sqlite

import (
	"context"
	"database/sql"

	"github.com/creamcroissant/resellerd/internal/repository"
)

type usageSnapshotRepo struct {
	db *sql.DB
}

// Latest returns the most recent snapshot for a reseller, or nil when none
// has been taken yet.
func (r *usageSnapshotRepo) Latest(ctx context.Context, resellerID int64) (*repository.UsageSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, reseller_id, total_bytes, measured_at
		FROM usage_snapshots
		WHERE reseller_id = ?
		ORDER BY measured_at DESC, id DESC
		LIMIT 1
	`, resellerID)

	var s repository.UsageSnapshot
	err := row.Scan(&s.ID, &s.ResellerID, &s.TotalBytes, &s.MeasuredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *usageSnapshotRepo) Insert(ctx context.Context, snapshot *repository.UsageSnapshot) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_snapshots (reseller_id, total_bytes, measured_at)
		VALUES (?, ?, ?)
	`, snapshot.ResellerID, snapshot.TotalBytes, snapshot.MeasuredAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	snapshot.ID = id
	return nil
}
