package repo

import (
	"context"

	"clientline/internal/domain"
)

func (r Repo) InsertMessage(ctx context.Context, m domain.Message) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO messages(id,project_id,author_id,kind,body,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.AuthorID, m.Kind, m.Body, m.CreatedAt)
	return err
}

func (r Repo) ListMessages(ctx context.Context, projectID string, limit int) ([]domain.Message, error) {
	query := `SELECT id,project_id,author_id,kind,body,created_at FROM messages WHERE project_id=? ORDER BY created_at DESC, id DESC`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.AuthorID, &m.Kind, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
