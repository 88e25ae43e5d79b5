package clientlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Clientline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// StatusType is a catalog entry.
type StatusType struct {
	Code                 string `json:"code"`
	Name                 string `json:"name"`
	Description          string `json:"description,omitempty"`
	Order                int    `json:"order"`
	Category             string `json:"category"`
	ClientVisible        bool   `json:"client_visible"`
	RequiresClientAction bool   `json:"requires_client_action"`
	Color                string `json:"color,omitempty"`
	Icon                 string `json:"icon,omitempty"`
}

// StatusState is the current lifecycle row of a project.
type StatusState struct {
	ProjectID          string  `json:"project_id"`
	CurrentStatus      string  `json:"current_status"`
	CurrentStatusSince string  `json:"current_status_since"`
	SubStatus          *string `json:"sub_status,omitempty"`
	SubStatusReason    *string `json:"sub_status_reason,omitempty"`
	SubStatusSince     *string `json:"sub_status_since,omitempty"`
	HealthStatus       string  `json:"health_status"`
	HealthFactorsJSON  *string `json:"health_factors_json,omitempty"`
	HealthUpdatedAt    *string `json:"health_updated_at,omitempty"`
}

// StatusData bundles the state with the catalog view of it.
type StatusData struct {
	State       StatusState  `json:"state"`
	Current     StatusType   `json:"current"`
	ValidNext   []StatusType `json:"valid_next"`
	LegacyValue string       `json:"legacy_status"`
}

// HistoryEntry is one interval of the status ledger.
type HistoryEntry struct {
	ID              int64   `json:"id"`
	ProjectID       string  `json:"project_id"`
	StatusCode      string  `json:"status_code"`
	FromDate        string  `json:"from_date"`
	ToDate          *string `json:"to_date,omitempty"`
	DurationSeconds *int64  `json:"duration_seconds,omitempty"`
	ChangedByID     string  `json:"changed_by_id"`
	Notes           *string `json:"notes,omitempty"`
	SubStatus       *string `json:"sub_status,omitempty"`
	SubStatusReason *string `json:"sub_status_reason,omitempty"`
}

// Clarification is a question to the client.
type Clarification struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	Question        string  `json:"question"`
	RequestedByID   string  `json:"requested_by_id"`
	RequestedByName string  `json:"requested_by_name,omitempty"`
	RequestedAt     string  `json:"requested_at"`
	Response        *string `json:"response,omitempty"`
	RespondedByID   *string `json:"responded_by_id,omitempty"`
	RespondedByName *string `json:"responded_by_name,omitempty"`
	RespondedAt     *string `json:"responded_at,omitempty"`
	Status          string  `json:"status"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject registers a new client project.
func (c *Client) CreateProject(ctx context.Context, clientID, name string) (Project, error) {
	body := map[string]any{
		"client_id": clientID,
		"name":      name,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// Projects lists visible projects.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v0/projects", nil, &resp)
	return resp, err
}

// Statuses returns the status catalog.
func (c *Client) Statuses(ctx context.Context) ([]StatusType, error) {
	var resp []StatusType
	err := c.do(ctx, http.MethodGet, "v0/statuses", nil, &resp)
	return resp, err
}

// Status returns a project's lifecycle data.
func (c *Client) Status(ctx context.Context, projectID string) (StatusData, error) {
	var resp StatusData
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "status"), nil, &resp)
	return resp, err
}

// Transition moves a project to a new status.
func (c *Client) Transition(ctx context.Context, projectID, status, notes string) (StatusData, error) {
	body := map[string]any{
		"status": status,
		"notes":  notes,
	}
	var resp StatusData
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "status/transition"), body, &resp)
	return resp, err
}

// SetSubStatus sets or clears (with "NONE") the sub-status.
func (c *Client) SetSubStatus(ctx context.Context, projectID, subStatus, reason string) (StatusState, error) {
	body := map[string]any{
		"sub_status": subStatus,
		"reason":     reason,
	}
	var resp StatusState
	err := c.do(ctx, http.MethodPut, c.projectPath(projectID, "status/sub"), body, &resp)
	return resp, err
}

// History returns the status ledger, most recent first.
func (c *Client) History(ctx context.Context, projectID string, limit int) ([]HistoryEntry, error) {
	endpoint := c.projectPath(projectID, "status/history")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RequestClarification asks the client a question.
func (c *Client) RequestClarification(ctx context.Context, projectID, question string) (Clarification, error) {
	body := map[string]any{"question": question}
	var resp Clarification
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "clarifications"), body, &resp)
	return resp, err
}

// RespondClarification records the client's answer.
func (c *Client) RespondClarification(ctx context.Context, clarificationID, response string) (Clarification, error) {
	body := map[string]any{"response": response}
	var resp Clarification
	endpoint := fmt.Sprintf("v0/clarifications/%s/response", url.PathEscape(clarificationID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Clarifications lists a project's clarifications.
func (c *Client) Clarifications(ctx context.Context, projectID string) ([]Clarification, error) {
	var resp []Clarification
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "clarifications"), nil, &resp)
	return resp, err
}

// UpdateHealth sets the overall health and factors.
func (c *Client) UpdateHealth(ctx context.Context, projectID, status string, factors map[string]string) (StatusState, error) {
	body := map[string]any{
		"status":  status,
		"factors": factors,
	}
	var resp StatusState
	err := c.do(ctx, http.MethodPut, c.projectPath(projectID, "health"), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(projectID, p string) string {
	return fmt.Sprintf("v0/projects/%s/%s", url.PathEscape(projectID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
