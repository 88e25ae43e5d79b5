package repo

import (
	"context"
	"database/sql"

	"clientline/internal/domain"
)

const clarificationCols = `id,project_id,question,requested_by_id,requested_at,response,responded_by_id,responded_at,status`

func scanClarification(row *sql.Row) (domain.Clarification, error) {
	var c domain.Clarification
	var response, respondedBy, respondedAt sql.NullString
	err := row.Scan(&c.ID, &c.ProjectID, &c.Question, &c.RequestedByID, &c.RequestedAt,
		&response, &respondedBy, &respondedAt, &c.Status)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Response = strPtr(response)
	c.RespondedByID = strPtr(respondedBy)
	c.RespondedAt = strPtr(respondedAt)
	return c, nil
}

func (r Repo) InsertClarificationTx(ctx context.Context, tx *sql.Tx, c domain.Clarification) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO clarifications(`+clarificationCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Question, c.RequestedByID, c.RequestedAt,
		nullablePtr(c.Response), nullablePtr(c.RespondedByID), nullablePtr(c.RespondedAt), c.Status)
	return err
}

func (r Repo) GetClarification(ctx context.Context, id string) (domain.Clarification, error) {
	return scanClarification(r.DB.QueryRowContext(ctx,
		`SELECT `+clarificationCols+` FROM clarifications WHERE id=?`, id))
}

func (r Repo) GetClarificationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Clarification, error) {
	return scanClarification(tx.QueryRowContext(ctx,
		`SELECT `+clarificationCols+` FROM clarifications WHERE id=?`, id))
}

// ResolveClarificationTx flips a pending clarification to resolved. The
// status guard makes resolution single-shot even under racing responders.
func (r Repo) ResolveClarificationTx(ctx context.Context, tx *sql.Tx, id, response, respondedByID, respondedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE clarifications SET response=?, responded_by_id=?, responded_at=?, status=?
		  WHERE id=? AND status=?`,
		response, respondedByID, respondedAt, domain.ClarificationResolved, id, domain.ClarificationPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClarificationWithNames joins requester and responder display names for
// API and CLI listings.
type ClarificationWithNames struct {
	domain.Clarification
	RequestedByName string  `json:"requested_by_name,omitempty"`
	RespondedByName *string `json:"responded_by_name,omitempty"`
}

func (r Repo) ListClarifications(ctx context.Context, projectID string) ([]ClarificationWithNames, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT c.id,c.project_id,c.question,c.requested_by_id,c.requested_at,c.response,c.responded_by_id,c.responded_at,c.status,
		        COALESCE(req.name,''), resp.name
		   FROM clarifications c
		   LEFT JOIN actors req ON req.id = c.requested_by_id
		   LEFT JOIN actors resp ON resp.id = c.responded_by_id
		  WHERE c.project_id=?
		  ORDER BY c.requested_at DESC, c.id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ClarificationWithNames
	for rows.Next() {
		var c ClarificationWithNames
		var response, respondedBy, respondedAt, respondedName sql.NullString
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Question, &c.RequestedByID, &c.RequestedAt,
			&response, &respondedBy, &respondedAt, &c.Status,
			&c.RequestedByName, &respondedName); err != nil {
			return nil, err
		}
		c.Response = strPtr(response)
		c.RespondedByID = strPtr(respondedBy)
		c.RespondedAt = strPtr(respondedAt)
		c.RespondedByName = strPtr(respondedName)
		res = append(res, c)
	}
	return res, rows.Err()
}
