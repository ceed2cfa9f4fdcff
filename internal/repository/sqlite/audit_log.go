package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/creamcroissant/resellerd/internal/repository"
)

type auditLogRepo struct {
	db *sql.DB
}

func (r *auditLogRepo) Create(ctx context.Context, entry *repository.AuditLog) error {
	now := entry.CreatedAt
	if now == 0 {
		now = time.Now().Unix()
	}
	var meta string
	if len(entry.Meta) > 0 {
		data, err := json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("encode audit meta: %w", err)
		}
		meta = string(data)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (action, actor, target_type, target_id, reason, meta, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Action, nullableString(entry.Actor), entry.TargetType, entry.TargetID,
		entry.Reason, meta, entry.CorrelationID, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	entry.CreatedAt = now
	return nil
}
