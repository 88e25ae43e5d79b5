package repo

import (
	"context"
	"database/sql"

	"clientline/internal/domain"
)

func (r Repo) InsertActor(ctx context.Context, a domain.Actor) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(id,name,role,created_at) VALUES (?,?,?,?)`,
		a.ID, nullable(a.Name), a.Role, a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	err := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),role,created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &a.Role, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// EnsureActor inserts the actor if absent. Existing rows win, so the role
// recorded at first sight is authoritative.
func (r Repo) EnsureActor(ctx context.Context, a domain.Actor) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO actors(id,name,role,created_at) VALUES (?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		a.ID, nullable(a.Name), a.Role, a.CreatedAt)
	return err
}

func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),role,created_at FROM actors ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
