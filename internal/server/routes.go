package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"clientline/internal/app"
	"clientline/internal/domain"
	"clientline/internal/engine"
	"clientline/internal/repo"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

func registerCatalog(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/statuses",
		Summary:     "List status catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.StatusType `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []domain.StatusType `json:"body"`
		}{Body: a.Catalog.Statuses()}, nil
	})
}

func registerProjects(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		principal, err := requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if err := a.Engine.Repo.EnsureActor(ctx, domain.Actor{
			ID:        input.Body.ClientID,
			Name:      input.Body.ClientName,
			Role:      "client",
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return nil, handleError(err)
		}
		p, err := a.Engine.CreateProject(ctx, input.Body.ID, input.Body.ClientID, input.Body.Name, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := a.Engine.InitializeStatus(ctx, p.ID, "", principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		p, err = a.Engine.Repo.GetProject(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var (
			items []domain.Project
			err   error
		)
		if principal.IsAdmin() {
			items, err = a.Engine.Repo.ListProjects(ctx)
		} else {
			items, err = a.Engine.Repo.ListProjectsByClient(ctx, principal.ActorID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if _, err := requireProjectAccess(ctx, a.Engine.Repo, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		p, err := a.Engine.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

func registerStatus(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status data",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body engine.StatusData `json:"body"`
	}, error) {
		principal, err := requireProjectAccess(ctx, a.Engine.Repo, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		data, err := a.EnsureStatusData(ctx, input.ProjectID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StatusData `json:"body"`
		}{Body: data}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "init-status",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/status/init",
		Summary:       "Initialize status tracking",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      InitStatusRequest `json:"body"`
	}) (*struct {
		Body domain.StatusState `json:"body"`
	}, error) {
		principal, err := requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		state, err := a.Engine.InitializeStatus(ctx, input.ProjectID, input.Body.Status, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusState `json:"body"`
		}{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-status",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/status/transition",
		Summary:     "Transition project status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      TransitionRequest `json:"body"`
	}) (*struct {
		Body engine.StatusData `json:"body"`
	}, error) {
		principal, err := requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		data, err := a.Engine.TransitionStatus(ctx, input.ProjectID, input.Body.Status, principal.ActorID, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StatusData `json:"body"`
		}{Body: data}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-sub-status",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/status/sub",
		Summary:     "Set or clear sub-status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      SubStatusRequest `json:"body"`
	}) (*struct {
		Body domain.StatusState `json:"body"`
	}, error) {
		principal, err := requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		state, err := a.Engine.SetSubStatus(ctx, input.ProjectID, input.Body.SubStatus, input.Body.Reason, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusState `json:"body"`
		}{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "status-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status/history",
		Summary:     "Status history ledger",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.HistoryEntry `json:"body"`
	}, error) {
		if _, err := requireProjectAccess(ctx, a.Engine.Repo, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		entries, err := a.Engine.GetStatusHistory(ctx, input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.HistoryEntry `json:"body"`
		}{Body: entries}, nil
	})
}

func registerClarifications(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-clarification",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/clarifications",
		Summary:       "Request a clarification from the client",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                   `path:"project_id"`
		Body      ClarificationRequestBody `json:"body"`
	}) (*struct {
		Body domain.Clarification `json:"body"`
	}, error) {
		principal, err := requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := a.Engine.RequestClarification(ctx, input.ProjectID, input.Body.Question, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Clarification `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clarifications",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/clarifications",
		Summary:     "List clarifications",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []repo.ClarificationWithNames `json:"body"`
	}, error) {
		if _, err := requireProjectAccess(ctx, a.Engine.Repo, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := a.Engine.GetClarifications(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []repo.ClarificationWithNames `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-clarification",
		Method:      http.MethodPost,
		Path:        "/clarifications/{clarification_id}/response",
		Summary:     "Respond to a clarification",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ClarificationID string                    `path:"clarification_id"`
		Body            ClarificationResponseBody `json:"body"`
	}) (*struct {
		Body domain.Clarification `json:"body"`
	}, error) {
		c, err := a.Engine.Repo.GetClarification(ctx, input.ClarificationID)
		if err != nil {
			return nil, handleError(err)
		}
		principal, err := requireProjectAccess(ctx, a.Engine.Repo, c.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		resolved, err := a.Engine.RespondToClarification(ctx, input.ClarificationID, input.Body.Response, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Clarification `json:"body"`
		}{Body: resolved}, nil
	})
}

func registerHealthAssessment(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "update-health",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/health",
		Summary:     "Update project health assessment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      HealthRequest `json:"body"`
	}) (*struct {
		Body domain.StatusState `json:"body"`
	}, error) {
		principal, err := requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		state, err := a.Engine.UpdateHealth(ctx, input.ProjectID, input.Body.Status, input.Body.Factors, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusState `json:"body"`
		}{Body: state}, nil
	})
}

func registerMessages(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/messages",
		Summary:     "List project messages",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.Message `json:"body"`
	}, error) {
		if _, err := requireProjectAccess(ctx, a.Engine.Repo, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := a.Engine.Repo.ListMessages(ctx, input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Message `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := a.Engine.Repo.LatestEvents(ctx, limit, input.ProjectID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyCreatedResponse `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		role := input.Body.Role
		if role == "" {
			role = "client"
		}
		now := time.Now().UTC().Format(time.RFC3339)
		if err := a.Engine.Repo.EnsureActor(ctx, domain.Actor{
			ID:        input.Body.ActorID,
			Name:      input.Body.ActorName,
			Role:      role,
			CreatedAt: now,
		}); err != nil {
			return nil, handleError(err)
		}
		rawKey := uuid.NewString() + uuid.NewString()
		key := domain.APIKey{
			ID:        uuid.NewString(),
			ActorID:   input.Body.ActorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(rawKey),
			CreatedAt: now,
		}
		if err := a.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreatedResponse `json:"body"`
		}{Body: APIKeyCreatedResponse{ID: key.ID, ActorID: key.ActorID, Name: key.Name, Key: rawKey}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		keys, err := a.Engine.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, len(keys))
		for i, k := range keys {
			res[i] = apiKeyResponse(k)
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/apikeys/{key_id}",
		Summary:       "Revoke API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		if err := a.Engine.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
