package sqlite

import (
	"context"
	"database/sql"

	"github.com/creamcroissant/resellerd/internal/repository"
)

type panelRepo struct {
	db *sql.DB
}

const panelColumns = `
	id, name, kind, base_url, node_hostname, username, password, api_key,
	enabled, created_at, updated_at
`

func scanPanel(row interface{ Scan(...any) error }) (*repository.Panel, error) {
	var p repository.Panel
	var enabled int
	err := row.Scan(
		&p.ID, &p.Name, &p.Kind, &p.BaseURL, &p.NodeHostname,
		&p.Username, &p.Password, &p.APIKey, &enabled, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Enabled = enabled == 1
	return &p, nil
}

func (r *panelRepo) FindByID(ctx context.Context, id int64) (*repository.Panel, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+panelColumns+` FROM panels WHERE id = ?
	`, id)
	panel, err := scanPanel(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return panel, nil
}

func (r *panelRepo) ListEnabled(ctx context.Context) ([]*repository.Panel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+panelColumns+` FROM panels WHERE enabled = 1 ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*repository.Panel
	for rows.Next() {
		panel, err := scanPanel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, panel)
	}
	return out, rows.Err()
}
