// Package notify carries post-commit side effects of workflow mutations.
// Dispatchers run after the owning transaction commits; their failures are
// logged and never reach the caller.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"clientline/internal/domain"
	"clientline/internal/repo"
)

// Dispatcher receives workflow notifications. Implementations must not
// return errors that the engine could act on; whatever goes wrong stays
// inside the dispatcher.
type Dispatcher interface {
	StatusChanged(ctx context.Context, project domain.Project, from, to domain.StatusType, notes string)
	ClarificationRequested(ctx context.Context, project domain.Project, question string)
}

// Messenger writes an internal portal message for each notification.
type Messenger struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (m Messenger) now() string {
	if m.Now != nil {
		return m.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (m Messenger) StatusChanged(ctx context.Context, project domain.Project, from, to domain.StatusType, notes string) {
	if !to.ClientVisible {
		return
	}
	body := "Project status changed to " + to.Name
	if notes != "" {
		body += ": " + notes
	}
	m.post(ctx, project, "status_update", body)
}

func (m Messenger) ClarificationRequested(ctx context.Context, project domain.Project, question string) {
	m.post(ctx, project, "clarification_request", "Clarification needed: "+question)
}

func (m Messenger) post(ctx context.Context, project domain.Project, kind, body string) {
	msg := domain.Message{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		AuthorID:  "system",
		Kind:      kind,
		Body:      body,
		CreatedAt: m.now(),
	}
	if err := m.Repo.InsertMessage(ctx, msg); err != nil {
		log.Printf("notify: message for project %s (%s): %v", project.ID, kind, err)
	}
}

// Multi fans a notification out to several dispatchers.
type Multi []Dispatcher

func (m Multi) StatusChanged(ctx context.Context, project domain.Project, from, to domain.StatusType, notes string) {
	for _, d := range m {
		d.StatusChanged(ctx, project, from, to, notes)
	}
}

func (m Multi) ClarificationRequested(ctx context.Context, project domain.Project, question string) {
	for _, d := range m {
		d.ClarificationRequested(ctx, project, question)
	}
}
