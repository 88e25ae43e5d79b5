// Package engine is the single write path for project lifecycle state.
// Every mutation runs in one transaction covering the state row, the
// history ledger, the denormalized project status and the event append.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clientline/internal/catalog"
	"clientline/internal/domain"
	"clientline/internal/events"
	"clientline/internal/notify"
	"clientline/internal/repo"
)

// reasonMaxRunes caps sub-status reasons derived from clarification text.
const reasonMaxRunes = 100

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Catalog *catalog.Catalog
	Notify  notify.Dispatcher
	Now     func() time.Time
}

func New(db *sql.DB, cat *catalog.Catalog) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Catalog: cat,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// StatusData is the read model for a project's lifecycle: the state row,
// the resolved current status definition and the valid next steps.
type StatusData struct {
	State       domain.StatusState  `json:"state"`
	Current     domain.StatusType   `json:"current"`
	ValidNext   []domain.StatusType `json:"valid_next"`
	LegacyValue string              `json:"legacy_status"`
}

// CreateProject registers a project owned by a client actor. The legacy
// status starts at pending; the lifecycle row is created separately by
// InitializeStatus.
func (e Engine) CreateProject(ctx context.Context, id, clientID, name, actorID string) (domain.Project, error) {
	if name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	if clientID == "" {
		return domain.Project{}, errors.New("client is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:        id,
		ClientID:  clientID,
		Name:      name,
		Status:    domain.LegacyPending,
		CreatedAt: e.nowRFC3339(),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,client_id,name,status,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.ClientID, p.Name, p.Status, p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// InitializeStatus creates the lifecycle state row and opens the first
// ledger interval. Exactly once per project; a second call fails with
// DuplicateStatusStateError.
func (e Engine) InitializeStatus(ctx context.Context, projectID, statusCode, actorID string) (domain.StatusState, error) {
	if statusCode == "" {
		statusCode = e.Catalog.InitialStatus()
	}
	if _, err := e.Catalog.Get(statusCode); err != nil {
		return domain.StatusState{}, err
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.StatusState{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StatusState{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetStatusStateTx(ctx, tx, projectID); err == nil {
		return domain.StatusState{}, DuplicateStatusStateError{ProjectID: projectID}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.StatusState{}, err
	}

	now := e.nowRFC3339()
	state := domain.StatusState{
		ProjectID:          projectID,
		CurrentStatus:      statusCode,
		CurrentStatusSince: now,
		HealthStatus:       domain.HealthGood,
	}
	if err := e.Repo.InsertStatusStateTx(ctx, tx, state); err != nil {
		// a racing initialization can slip past the pre-check
		if repo.IsUniqueViolation(err) {
			return domain.StatusState{}, DuplicateStatusStateError{ProjectID: projectID}
		}
		return domain.StatusState{}, fmt.Errorf("insert status state: %w", err)
	}
	if err := e.Repo.InsertHistoryEntryTx(ctx, tx, domain.HistoryEntry{
		ProjectID:   projectID,
		StatusCode:  statusCode,
		FromDate:    now,
		ChangedByID: actorID,
	}); err != nil {
		return domain.StatusState{}, fmt.Errorf("open history entry: %w", err)
	}
	legacy, err := e.Catalog.LegacyStatus(statusCode)
	if err != nil {
		return domain.StatusState{}, err
	}
	if err := e.Repo.UpdateLegacyStatusTx(ctx, tx, projectID, legacy); err != nil {
		return domain.StatusState{}, fmt.Errorf("update project status: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "status.initialized", projectID, "status", statusCode, actorID, events.EventPayload{"status": statusCode}); err != nil {
		return domain.StatusState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StatusState{}, err
	}
	return state, nil
}

// GetStatusData returns the lifecycle read model for a project.
func (e Engine) GetStatusData(ctx context.Context, projectID string) (StatusData, error) {
	state, err := e.Repo.GetStatusState(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		if _, perr := e.Repo.GetProject(ctx, projectID); perr != nil {
			return StatusData{}, perr
		}
		return StatusData{}, StateNotFoundError{ProjectID: projectID}
	}
	if err != nil {
		return StatusData{}, err
	}
	return e.statusData(state)
}

func (e Engine) statusData(state domain.StatusState) (StatusData, error) {
	current, err := e.Catalog.Get(state.CurrentStatus)
	if err != nil {
		return StatusData{}, err
	}
	next, err := e.Catalog.ValidNext(state.CurrentStatus)
	if err != nil {
		return StatusData{}, err
	}
	legacy, err := e.Catalog.LegacyStatus(state.CurrentStatus)
	if err != nil {
		return StatusData{}, err
	}
	return StatusData{State: state, Current: current, ValidNext: next, LegacyValue: legacy}, nil
}

// TransitionStatus moves a project along one transition edge. Closing the
// open ledger interval, opening the next one, moving the state row,
// clearing the sub-status and syncing the legacy status all commit
// together or not at all.
func (e Engine) TransitionStatus(ctx context.Context, projectID, newStatus, actorID, notes string) (StatusData, error) {
	target, err := e.Catalog.Get(newStatus)
	if err != nil {
		return StatusData{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return StatusData{}, err
	}
	defer tx.Rollback()

	state, err := e.Repo.GetStatusStateTx(ctx, tx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		if _, perr := e.Repo.GetProject(ctx, projectID); perr != nil {
			return StatusData{}, perr
		}
		return StatusData{}, StateNotFoundError{ProjectID: projectID}
	}
	if err != nil {
		return StatusData{}, err
	}

	from, err := e.Catalog.Get(state.CurrentStatus)
	if err != nil {
		return StatusData{}, err
	}
	if !e.Catalog.CanTransition(state.CurrentStatus, newStatus) {
		allowed, _ := e.Catalog.ValidNext(state.CurrentStatus)
		codes := make([]string, len(allowed))
		for i, s := range allowed {
			codes[i] = s.Code
		}
		return StatusData{}, InvalidTransitionError{From: state.CurrentStatus, To: newStatus, Allowed: codes}
	}

	now := e.nowRFC3339()
	if err := e.Repo.CloseOpenHistoryTx(ctx, tx, projectID, now); err != nil {
		return StatusData{}, fmt.Errorf("close open history entry: %w", err)
	}
	entry := domain.HistoryEntry{
		ProjectID:   projectID,
		StatusCode:  newStatus,
		FromDate:    now,
		ChangedByID: actorID,
	}
	if notes != "" {
		entry.Notes = &notes
	}
	if err := e.Repo.InsertHistoryEntryTx(ctx, tx, entry); err != nil {
		return StatusData{}, fmt.Errorf("open history entry: %w", err)
	}
	if err := e.Repo.UpdateStatusTx(ctx, tx, projectID, newStatus, now); err != nil {
		return StatusData{}, fmt.Errorf("update status state: %w", err)
	}
	legacy, err := e.Catalog.LegacyStatus(newStatus)
	if err != nil {
		return StatusData{}, err
	}
	if err := e.Repo.UpdateLegacyStatusTx(ctx, tx, projectID, legacy); err != nil {
		return StatusData{}, fmt.Errorf("update project status: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "status.changed", projectID, "status", newStatus, actorID, events.EventPayload{
		"from":  state.CurrentStatus,
		"to":    newStatus,
		"notes": notes,
	}); err != nil {
		return StatusData{}, err
	}
	if err := tx.Commit(); err != nil {
		return StatusData{}, err
	}

	e.dispatchStatusChanged(projectID, from, target, notes)

	state.CurrentStatus = newStatus
	state.CurrentStatusSince = now
	state.SubStatus = nil
	state.SubStatusReason = nil
	state.SubStatusSince = nil
	return e.statusData(state)
}

// SetSubStatus sets or clears the sub-status qualifier. An empty code or
// "NONE" clears it. No transition edge is consulted; the open ledger
// interval is annotated so the qualifier survives into history.
func (e Engine) SetSubStatus(ctx context.Context, projectID, subStatus, reason, actorID string) (domain.StatusState, error) {
	clearing := subStatus == "" || subStatus == "NONE"

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StatusState{}, err
	}
	defer tx.Rollback()

	state, err := e.Repo.GetStatusStateTx(ctx, tx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		if _, perr := e.Repo.GetProject(ctx, projectID); perr != nil {
			return domain.StatusState{}, perr
		}
		return domain.StatusState{}, StateNotFoundError{ProjectID: projectID}
	}
	if err != nil {
		return domain.StatusState{}, err
	}

	now := e.nowRFC3339()
	var sub, rsn, since *string
	if !clearing {
		sub = &subStatus
		since = &now
		if reason != "" {
			rsn = &reason
		}
	}
	if err := e.Repo.UpdateSubStatusTx(ctx, tx, projectID, sub, rsn, since); err != nil {
		return domain.StatusState{}, fmt.Errorf("update sub-status: %w", err)
	}
	if err := e.Repo.AnnotateOpenHistoryTx(ctx, tx, projectID, sub, rsn); err != nil {
		return domain.StatusState{}, fmt.Errorf("annotate open history entry: %w", err)
	}
	evtType := "substatus.set"
	if clearing {
		evtType = "substatus.cleared"
	}
	if err := e.Events.Append(ctx, tx, evtType, projectID, "status", state.CurrentStatus, actorID, events.EventPayload{
		"sub_status": subStatus,
		"reason":     reason,
	}); err != nil {
		return domain.StatusState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StatusState{}, err
	}

	if !clearing && subStatus == domain.SubStatusClarificationNeeded {
		e.dispatchClarificationRequested(projectID, reason)
	}

	state.SubStatus = sub
	state.SubStatusReason = rsn
	state.SubStatusSince = since
	return state, nil
}

// RequestClarification records a pending clarification and flags the
// project CLARIFICATION_NEEDED in the same transaction. The sub-status
// reason carries the question truncated to 100 runes.
func (e Engine) RequestClarification(ctx context.Context, projectID, question, actorID string) (domain.Clarification, error) {
	if question == "" {
		return domain.Clarification{}, errors.New("question is required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Clarification{}, err
	}
	defer tx.Rollback()

	state, err := e.Repo.GetStatusStateTx(ctx, tx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		if _, perr := e.Repo.GetProject(ctx, projectID); perr != nil {
			return domain.Clarification{}, perr
		}
		return domain.Clarification{}, StateNotFoundError{ProjectID: projectID}
	}
	if err != nil {
		return domain.Clarification{}, err
	}

	now := e.nowRFC3339()
	c := domain.Clarification{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Question:      question,
		RequestedByID: actorID,
		RequestedAt:   now,
		Status:        domain.ClarificationPending,
	}
	if err := e.Repo.InsertClarificationTx(ctx, tx, c); err != nil {
		return domain.Clarification{}, fmt.Errorf("insert clarification: %w", err)
	}
	sub := domain.SubStatusClarificationNeeded
	reason := truncateRunes(question, reasonMaxRunes)
	if err := e.Repo.UpdateSubStatusTx(ctx, tx, projectID, &sub, &reason, &now); err != nil {
		return domain.Clarification{}, fmt.Errorf("update sub-status: %w", err)
	}
	if err := e.Repo.AnnotateOpenHistoryTx(ctx, tx, projectID, &sub, &reason); err != nil {
		return domain.Clarification{}, fmt.Errorf("annotate open history entry: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "clarification.requested", projectID, "clarification", c.ID, actorID, events.EventPayload{
		"question": question,
		"status":   state.CurrentStatus,
	}); err != nil {
		return domain.Clarification{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Clarification{}, err
	}

	e.dispatchClarificationRequested(projectID, question)
	return c, nil
}

// RespondToClarification resolves a pending clarification exactly once.
// The CLARIFICATION_NEEDED flag is cleared only when it is still set, so a
// later unrelated sub-status is left alone. The cleared reason carries the
// response truncated to 100 runes.
func (e Engine) RespondToClarification(ctx context.Context, clarificationID, response, actorID string) (domain.Clarification, error) {
	if response == "" {
		return domain.Clarification{}, errors.New("response is required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Clarification{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetClarificationTx(ctx, tx, clarificationID)
	if err != nil {
		return domain.Clarification{}, err
	}
	if c.Status == domain.ClarificationResolved {
		return domain.Clarification{}, ClarificationResolvedError{ID: clarificationID}
	}

	now := e.nowRFC3339()
	if err := e.Repo.ResolveClarificationTx(ctx, tx, clarificationID, response, actorID, now); err != nil {
		return domain.Clarification{}, fmt.Errorf("resolve clarification: %w", err)
	}
	reason := truncateRunes(response, reasonMaxRunes)
	if _, err := e.Repo.ClearSubStatusIfTx(ctx, tx, c.ProjectID, domain.SubStatusClarificationNeeded, &reason); err != nil {
		return domain.Clarification{}, fmt.Errorf("clear sub-status: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "clarification.resolved", c.ProjectID, "clarification", c.ID, actorID, events.EventPayload{
		"response": response,
	}); err != nil {
		return domain.Clarification{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Clarification{}, err
	}

	c.Response = &response
	c.RespondedByID = &actorID
	c.RespondedAt = &now
	c.Status = domain.ClarificationResolved
	return c, nil
}

// UpdateHealth overwrites the project's health assessment. Factors are an
// open map; conventional keys are timeline, budget, scopeClarity and
// communication. No history of prior assessments is kept.
func (e Engine) UpdateHealth(ctx context.Context, projectID, health string, factors map[string]string, actorID string) (domain.StatusState, error) {
	valid := false
	for _, h := range domain.HealthStatuses {
		if h == health {
			valid = true
			break
		}
	}
	if !valid {
		return domain.StatusState{}, InvalidHealthStatusError{Status: health, Allowed: domain.HealthStatuses}
	}

	var factorsJSON *string
	if len(factors) > 0 {
		data, err := json.Marshal(factors)
		if err != nil {
			return domain.StatusState{}, fmt.Errorf("marshal health factors: %w", err)
		}
		s := string(data)
		factorsJSON = &s
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StatusState{}, err
	}
	defer tx.Rollback()

	state, err := e.Repo.GetStatusStateTx(ctx, tx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		if _, perr := e.Repo.GetProject(ctx, projectID); perr != nil {
			return domain.StatusState{}, perr
		}
		return domain.StatusState{}, StateNotFoundError{ProjectID: projectID}
	}
	if err != nil {
		return domain.StatusState{}, err
	}

	now := e.nowRFC3339()
	if err := e.Repo.UpdateHealthTx(ctx, tx, projectID, health, factorsJSON, now); err != nil {
		return domain.StatusState{}, fmt.Errorf("update health: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "health.updated", projectID, "health", health, actorID, events.EventPayload{
		"health":   health,
		"previous": state.HealthStatus,
	}); err != nil {
		return domain.StatusState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StatusState{}, err
	}

	state.HealthStatus = health
	state.HealthFactorsJSON = factorsJSON
	state.HealthUpdatedAt = &now
	return state, nil
}

// GetStatusHistory returns ledger entries most recent first.
func (e Engine) GetStatusHistory(ctx context.Context, projectID string, limit int) ([]domain.HistoryEntry, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListHistory(ctx, projectID, limit)
}

// GetClarifications lists a project's clarifications with requester and
// responder names resolved.
func (e Engine) GetClarifications(ctx context.Context, projectID string) ([]repo.ClarificationWithNames, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListClarifications(ctx, projectID)
}

// dispatchStatusChanged runs the notification hooks after commit. Hook
// outcomes never reach the caller.
func (e Engine) dispatchStatusChanged(projectID string, from, to domain.StatusType, notes string) {
	if e.Notify == nil {
		return
	}
	ctx := context.Background()
	project, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return
	}
	e.Notify.StatusChanged(ctx, project, from, to, notes)
}

func (e Engine) dispatchClarificationRequested(projectID, question string) {
	if e.Notify == nil {
		return
	}
	ctx := context.Background()
	project, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return
	}
	e.Notify.ClarificationRequested(ctx, project, question)
}
