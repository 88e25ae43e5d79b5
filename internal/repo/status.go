package repo

import (
	"context"
	"database/sql"
	"fmt"

	"clientline/internal/domain"
)

func scanStatusState(row *sql.Row) (domain.StatusState, error) {
	var s domain.StatusState
	var subStatus, subReason, subSince, factors, healthAt sql.NullString
	err := row.Scan(&s.ProjectID, &s.CurrentStatus, &s.CurrentStatusSince,
		&subStatus, &subReason, &subSince, &s.HealthStatus, &factors, &healthAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.SubStatus = strPtr(subStatus)
	s.SubStatusReason = strPtr(subReason)
	s.SubStatusSince = strPtr(subSince)
	s.HealthFactorsJSON = strPtr(factors)
	s.HealthUpdatedAt = strPtr(healthAt)
	return s, nil
}

const statusStateCols = `project_id,current_status,current_status_since,sub_status,sub_status_reason,sub_status_since,health_status,health_factors_json,health_updated_at`

func (r Repo) GetStatusState(ctx context.Context, projectID string) (domain.StatusState, error) {
	return scanStatusState(r.DB.QueryRowContext(ctx,
		`SELECT `+statusStateCols+` FROM project_status_state WHERE project_id=?`, projectID))
}

func (r Repo) GetStatusStateTx(ctx context.Context, tx *sql.Tx, projectID string) (domain.StatusState, error) {
	return scanStatusState(tx.QueryRowContext(ctx,
		`SELECT `+statusStateCols+` FROM project_status_state WHERE project_id=?`, projectID))
}

func (r Repo) InsertStatusStateTx(ctx context.Context, tx *sql.Tx, s domain.StatusState) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_status_state(`+statusStateCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ProjectID, s.CurrentStatus, s.CurrentStatusSince,
		nullablePtr(s.SubStatus), nullablePtr(s.SubStatusReason), nullablePtr(s.SubStatusSince),
		s.HealthStatus, nullablePtr(s.HealthFactorsJSON), nullablePtr(s.HealthUpdatedAt))
	return err
}

// UpdateStatusTx moves the state row to a new status and clears any
// sub-status. Rows-affected is checked so a vanished row surfaces as an
// error instead of a silent no-op.
func (r Repo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, projectID, status, since string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE project_status_state SET current_status=?, current_status_since=?, sub_status=NULL, sub_status_reason=NULL, sub_status_since=NULL WHERE project_id=?`,
		status, since, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateSubStatusTx(ctx context.Context, tx *sql.Tx, projectID string, subStatus, reason, since *string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE project_status_state SET sub_status=?, sub_status_reason=?, sub_status_since=? WHERE project_id=?`,
		nullablePtr(subStatus), nullablePtr(reason), nullablePtr(since), projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSubStatusIfTx clears the sub-status only when it still equals the
// expected code. Returns true when a row was cleared.
func (r Repo) ClearSubStatusIfTx(ctx context.Context, tx *sql.Tx, projectID, expected string, reason *string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE project_status_state SET sub_status=NULL, sub_status_reason=?, sub_status_since=NULL WHERE project_id=? AND sub_status=?`,
		nullablePtr(reason), projectID, expected)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) UpdateHealthTx(ctx context.Context, tx *sql.Tx, projectID, health string, factorsJSON *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE project_status_state SET health_status=?, health_factors_json=?, health_updated_at=? WHERE project_id=?`,
		health, nullablePtr(factorsJSON), updatedAt, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseOpenHistoryTx closes the single open ledger row, computing its
// duration in whole seconds from the stored timestamps. Returns ErrNotFound
// when no open row exists.
func (r Repo) CloseOpenHistoryTx(ctx context.Context, tx *sql.Tx, projectID, toDate string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE status_history
		    SET to_date=?,
		        duration_seconds=strftime('%s', ?) - strftime('%s', from_date)
		  WHERE project_id=? AND to_date IS NULL`,
		toDate, toDate, projectID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	if n > 1 {
		return fmt.Errorf("closed %d open history rows for project %s", n, projectID)
	}
	return nil
}

func (r Repo) InsertHistoryEntryTx(ctx context.Context, tx *sql.Tx, e domain.HistoryEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO status_history(project_id,status_code,from_date,to_date,duration_seconds,changed_by_id,notes,sub_status,sub_status_reason)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ProjectID, e.StatusCode, e.FromDate, nullablePtr(e.ToDate), e.DurationSeconds,
		e.ChangedByID, nullablePtr(e.Notes), nullablePtr(e.SubStatus), nullablePtr(e.SubStatusReason))
	return err
}

// AnnotateOpenHistoryTx records the current sub-status on the open ledger
// row so the interval keeps it after closing.
func (r Repo) AnnotateOpenHistoryTx(ctx context.Context, tx *sql.Tx, projectID string, subStatus, reason *string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE status_history SET sub_status=?, sub_status_reason=? WHERE project_id=? AND to_date IS NULL`,
		nullablePtr(subStatus), nullablePtr(reason), projectID)
	return err
}

// ListHistory returns ledger entries most recent first.
func (r Repo) ListHistory(ctx context.Context, projectID string, limit int) ([]domain.HistoryEntry, error) {
	query := `SELECT id,project_id,status_code,from_date,to_date,duration_seconds,changed_by_id,notes,sub_status,sub_status_reason
	            FROM status_history WHERE project_id=? ORDER BY from_date DESC, id DESC`
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
	var res []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var toDate, notes, subStatus, subReason sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.StatusCode, &e.FromDate, &toDate, &duration,
			&e.ChangedByID, &notes, &subStatus, &subReason); err != nil {
			return nil, err
		}
		e.ToDate = strPtr(toDate)
		e.DurationSeconds = int64Ptr(duration)
		e.Notes = strPtr(notes)
		e.SubStatus = strPtr(subStatus)
		e.SubStatusReason = strPtr(subReason)
		res = append(res, e)
	}
	return res, rows.Err()
}

// SeedCatalog upserts the status types and replaces the transition edges so
// read-only consumers can join against them.
func (r Repo) SeedCatalog(ctx context.Context, statuses []domain.StatusType, edges [][2]string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, s := range statuses {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO status_types(code,name,description,display_order,category,client_visible,requires_client_action,color,icon)
			 VALUES (?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(code) DO UPDATE SET name=excluded.name, description=excluded.description,
			   display_order=excluded.display_order, category=excluded.category,
			   client_visible=excluded.client_visible, requires_client_action=excluded.requires_client_action,
			   color=excluded.color, icon=excluded.icon`,
			s.Code, s.Name, nullable(s.Description), s.Order, s.Category,
			boolInt(s.ClientVisible), boolInt(s.RequiresClientAction), nullable(s.Color), nullable(s.Icon))
		if err != nil {
			return fmt.Errorf("seed status %s: %w", s.Code, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM status_transitions`); err != nil {
		return err
	}
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, `INSERT INTO status_transitions(from_code,to_code) VALUES (?,?)`, e[0], e[1]); err != nil {
			return fmt.Errorf("seed transition %s -> %s: %w", e[0], e[1], err)
		}
	}
	return tx.Commit()
}

func (r Repo) ListStatusTypes(ctx context.Context) ([]domain.StatusType, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT code,name,COALESCE(description,''),display_order,category,client_visible,requires_client_action,COALESCE(color,''),COALESCE(icon,'')
		   FROM status_types ORDER BY display_order`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusType
	for rows.Next() {
		var s domain.StatusType
		var visible, requires int
		if err := rows.Scan(&s.Code, &s.Name, &s.Description, &s.Order, &s.Category, &visible, &requires, &s.Color, &s.Icon); err != nil {
			return nil, err
		}
		s.ClientVisible = visible != 0
		s.RequiresClientAction = requires != 0
		res = append(res, s)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
