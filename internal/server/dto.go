package server

import (
	"clientline/internal/domain"
)

type CreateProjectRequest struct {
	ID         string `json:"id,omitempty"`
	ClientID   string `json:"client_id" required:"true"`
	ClientName string `json:"client_name,omitempty"`
	Name       string `json:"name" required:"true"`
}

type InitStatusRequest struct {
	Status string `json:"status,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status" required:"true"`
	Notes  string `json:"notes,omitempty"`
}

type SubStatusRequest struct {
	SubStatus string `json:"sub_status"`
	Reason    string `json:"reason,omitempty"`
}

type ClarificationRequestBody struct {
	Question string `json:"question" required:"true"`
}

type ClarificationResponseBody struct {
	Response string `json:"response" required:"true"`
}

type HealthRequest struct {
	Status  string            `json:"status" required:"true" enum:"EXCELLENT,GOOD,AT_RISK,CRITICAL"`
	Factors map[string]string `json:"factors,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID   string `json:"actor_id" required:"true"`
	ActorName string `json:"actor_name,omitempty"`
	Role      string `json:"role,omitempty" enum:"admin,client,"`
	Name      string `json:"name,omitempty"`
}

type APIKeyCreatedResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	// Key is shown exactly once; only its hash is stored.
	Key string `json:"key"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}
