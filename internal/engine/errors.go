package engine

import (
	"fmt"
	"strings"
)

// InvalidTransitionError reports a requested edge that is not in the
// transition graph, along with the edges that would have been accepted.
type InvalidTransitionError struct {
	From    string
	To      string
	Allowed []string
}

func (e InvalidTransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid transition %s -> %s: %s is terminal", e.From, e.To, e.From)
	}
	return fmt.Sprintf("invalid transition %s -> %s (allowed: %s)", e.From, e.To, strings.Join(e.Allowed, ", "))
}

// InvalidHealthStatusError reports a health value outside the accepted set.
type InvalidHealthStatusError struct {
	Status  string
	Allowed []string
}

func (e InvalidHealthStatusError) Error() string {
	return fmt.Sprintf("invalid health status %q (allowed: %s)", e.Status, strings.Join(e.Allowed, ", "))
}

// DuplicateStatusStateError reports a second initialization attempt.
type DuplicateStatusStateError struct {
	ProjectID string
}

func (e DuplicateStatusStateError) Error() string {
	return fmt.Sprintf("project %s already has a status state", e.ProjectID)
}

// StateNotFoundError reports an operation on a project whose lifecycle was
// never initialized.
type StateNotFoundError struct {
	ProjectID string
}

func (e StateNotFoundError) Error() string {
	return fmt.Sprintf("project %s has no status state", e.ProjectID)
}

// ClarificationResolvedError reports a response to an already resolved
// clarification.
type ClarificationResolvedError struct {
	ID string
}

func (e ClarificationResolvedError) Error() string {
	return fmt.Sprintf("clarification %s is already resolved", e.ID)
}
