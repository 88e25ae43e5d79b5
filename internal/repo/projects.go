package repo

import (
	"context"
	"database/sql"

	"clientline/internal/domain"
)

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.ClientID, &p.Name, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,client_id,name,status,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.ClientID, p.Name, p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,client_id,name,status,created_at FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return r.listProjects(ctx, `SELECT id,client_id,name,status,created_at FROM projects ORDER BY created_at DESC, id DESC`)
}

func (r Repo) ListProjectsByClient(ctx context.Context, clientID string) ([]domain.Project, error) {
	return r.listProjects(ctx, `SELECT id,client_id,name,status,created_at FROM projects WHERE client_id=? ORDER BY created_at DESC, id DESC`, clientID)
}

func (r Repo) listProjects(ctx context.Context, query string, args ...any) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.ClientID, &p.Name, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateLegacyStatusTx writes the denormalized coarse status. Runs inside the
// transition transaction.
func (r Repo) UpdateLegacyStatusTx(ctx context.Context, tx *sql.Tx, projectID, legacy string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=? WHERE id=?`, legacy, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
