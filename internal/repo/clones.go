package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

func (r Repo) InsertClone(ctx context.Context, c domain.Clone) error {
	if c.CreatedAt == "" {
		c.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO clones(id,tenant_id,name,persona,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TenantID, c.Name, nullable(c.Persona), c.CreatedAt)
	return err
}

func (r Repo) GetClone(ctx context.Context, tenantID, id string) (domain.Clone, error) {
	var c domain.Clone
	err := r.DB.QueryRowContext(ctx, `SELECT id,tenant_id,name,COALESCE(persona,''),created_at FROM clones WHERE tenant_id=? AND id=?`,
		tenantID, id).Scan(&c.ID, &c.TenantID, &c.Name, &c.Persona, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListClones(ctx context.Context, tenantID string) ([]domain.Clone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,name,COALESCE(persona,''),created_at FROM clones WHERE tenant_id=? ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Clone
	for rows.Next() {
		var c domain.Clone
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Persona, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) DeleteClone(ctx context.Context, tenantID, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM clones WHERE tenant_id=? AND id=?`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
