package domain

// Legacy coarse project statuses kept for consumers that predate the
// granular status catalog.
const (
	LegacyPending = "pending"
	LegacyActive  = "active"
	LegacyReview  = "review"
	LegacyClosed  = "closed"
)

// Health statuses accepted by the health assessor.
const (
	HealthExcellent = "EXCELLENT"
	HealthGood      = "GOOD"
	HealthAtRisk    = "AT_RISK"
	HealthCritical  = "CRITICAL"
)

// HealthStatuses lists every accepted overall health value.
var HealthStatuses = []string{HealthExcellent, HealthGood, HealthAtRisk, HealthCritical}

// SubStatusClarificationNeeded is the only sub-status code with hardcoded
// behavioral significance: entering it notifies the client.
const SubStatusClarificationNeeded = "CLARIFICATION_NEEDED"

// Clarification statuses.
const (
	ClarificationPending  = "pending"
	ClarificationResolved = "resolved"
)

type Project struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"pending,active,review,closed"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// StatusType is a catalog entry. Immutable once seeded.
type StatusType struct {
	Code                 string `json:"code"`
	Name                 string `json:"name"`
	Description          string `json:"description,omitempty"`
	Order                int    `json:"order"`
	Category             string `json:"category" enum:"INITIAL,EXECUTION,REVIEW,COMPLETION"`
	ClientVisible        bool   `json:"client_visible"`
	RequiresClientAction bool   `json:"requires_client_action"`
	Color                string `json:"color,omitempty"`
	Icon                 string `json:"icon,omitempty"`
}

// StatusState is the single current-lifecycle row per project. Mutated only
// by the workflow engine.
type StatusState struct {
	ProjectID          string  `json:"project_id"`
	CurrentStatus      string  `json:"current_status"`
	CurrentStatusSince string  `json:"current_status_since" format:"date-time"`
	SubStatus          *string `json:"sub_status,omitempty"`
	SubStatusReason    *string `json:"sub_status_reason,omitempty"`
	SubStatusSince     *string `json:"sub_status_since,omitempty" format:"date-time"`
	HealthStatus       string  `json:"health_status" enum:"EXCELLENT,GOOD,AT_RISK,CRITICAL"`
	HealthFactorsJSON  *string `json:"health_factors_json,omitempty"`
	HealthUpdatedAt    *string `json:"health_updated_at,omitempty" format:"date-time"`
}

// HistoryEntry is one timed interval during which a project held a status.
// A nil ToDate marks the currently open interval.
type HistoryEntry struct {
	ID              int64   `json:"id"`
	ProjectID       string  `json:"project_id"`
	StatusCode      string  `json:"status_code"`
	FromDate        string  `json:"from_date" format:"date-time"`
	ToDate          *string `json:"to_date,omitempty" format:"date-time"`
	DurationSeconds *int64  `json:"duration_seconds,omitempty"`
	ChangedByID     string  `json:"changed_by_id"`
	Notes           *string `json:"notes,omitempty"`
	SubStatus       *string `json:"sub_status,omitempty"`
	SubStatusReason *string `json:"sub_status_reason,omitempty"`
}

type Clarification struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	Question      string  `json:"question"`
	RequestedByID string  `json:"requested_by_id"`
	RequestedAt   string  `json:"requested_at" format:"date-time"`
	Response      *string `json:"response,omitempty"`
	RespondedByID *string `json:"responded_by_id,omitempty"`
	RespondedAt   *string `json:"responded_at,omitempty" format:"date-time"`
	Status        string  `json:"status" enum:"pending,resolved"`
}

// Message is an internal portal message created by notification hooks.
type Message struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	AuthorID  string `json:"author_id"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role" enum:"admin,client"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
