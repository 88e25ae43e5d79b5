package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"clientline/internal/app"
	"clientline/internal/domain"
	"clientline/internal/engine"
)

const testJWTSecret = "server-test-secret"

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	a, err := app.Open(context.Background(), workspace)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	handler, err := New(Config{App: a, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
	}
	testSrv.close = func() {
		srv.Shutdown(context.Background())
		ln.Close()
		a.Close()
	}
	t.Cleanup(testSrv.Close)

	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	actors := []domain.Actor{
		{ID: "admin-1", Name: "Alex", Role: "admin", CreatedAt: now},
		{ID: "client-1", Name: "Acme", Role: "client", CreatedAt: now},
		{ID: "client-2", Name: "Globex", Role: "client", CreatedAt: now},
	}
	for _, actor := range actors {
		if err := a.Engine.Repo.EnsureActor(ctx, actor); err != nil {
			t.Fatalf("ensure actor %s: %v", actor.ID, err)
		}
	}
	return testSrv
}

func tokenFor(t *testing.T, id, role string) string {
	t.Helper()
	token, err := IssueToken(testJWTSecret, domain.Actor{ID: id, Role: role})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createProject(t *testing.T, srv *testServer, clientID string) domain.Project {
	t.Helper()
	admin := tokenFor(t, "admin-1", "admin")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"client_id": clientID,
		"name":      "Website redesign",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	return p
}

func TestAdminTransitionsProject(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, "client-1")
	admin := tokenFor(t, "admin-1", "admin")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/status/transition", map[string]any{
		"status": "REVIEWING",
		"notes":  "intake complete",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(data))
	}
	var out engine.StatusData
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.State.CurrentStatus != "REVIEWING" {
		t.Fatalf("expected REVIEWING, got %s", out.State.CurrentStatus)
	}
	if out.LegacyValue != "pending" {
		t.Fatalf("expected pending legacy, got %s", out.LegacyValue)
	}
}

func TestInvalidTransitionIsUnprocessable(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, "client-1")
	admin := tokenFor(t, "admin-1", "admin")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/status/transition", map[string]any{
		"status": "COMPLETED",
	}, admin)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", envelope.Error.Code)
	}
	if envelope.Error.Details["from"] != "SCOPING" {
		t.Fatalf("details missing from status: %v", envelope.Error.Details)
	}
}

func TestClientCannotTransition(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, "client-1")
	client := tokenFor(t, "client-1", "client")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/status/transition", map[string]any{
		"status": "REVIEWING",
	}, client)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}

func TestClientSeesOnlyOwnProjects(t *testing.T) {
	srv := newTestServer(t)
	mine := createProject(t, srv, "client-1")
	other := createProject(t, srv, "client-2")

	client := tokenFor(t, "client-1", "client")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, client)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var projects []domain.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != mine.ID {
		t.Fatalf("expected only own project, got %v", projects)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+other.ID+"/status", nil, client)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on foreign project, got %d", res.StatusCode)
	}
}

func TestClarificationRoundTripOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, "client-1")
	admin := tokenFor(t, "admin-1", "admin")
	client := tokenFor(t, "client-1", "client")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/clarifications", map[string]any{
		"question": "Which CMS do you prefer?",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("request status %d: %s", res.StatusCode, string(data))
	}
	var c domain.Clarification
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// project now flagged
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/status", nil, client)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var sd engine.StatusData
	if err := json.Unmarshal(data, &sd); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if sd.State.SubStatus == nil || *sd.State.SubStatus != domain.SubStatusClarificationNeeded {
		t.Fatalf("expected CLARIFICATION_NEEDED, got %+v", sd.State.SubStatus)
	}

	// the owning client answers
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/clarifications/"+c.ID+"/response", map[string]any{
		"response": "WordPress",
	}, client)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("respond status %d: %s", res.StatusCode, string(data))
	}

	// a second answer conflicts
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/clarifications/"+c.ID+"/response", map[string]any{
		"response": "Actually Ghost",
	}, client)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}

	// a foreign client may not answer at all
	foreign := tokenFor(t, "client-2", "client")
	p2 := createProject(t, srv, "client-1")
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p2.ID+"/clarifications", map[string]any{
		"question": "Budget range?",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("second request status %d: %s", res.StatusCode, string(data))
	}
	var c2 domain.Clarification
	if err := json.Unmarshal(data, &c2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/clarifications/"+c2.ID+"/response", map[string]any{
		"response": "sneaky",
	}, foreign)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign client, got %d", res.StatusCode)
	}
}

func TestLazyStatusInitialization(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	// a project created before status tracking existed: row only, no state
	now := time.Now().UTC().Format(time.RFC3339)
	if err := srv.App.Engine.Repo.InsertProject(ctx, domain.Project{
		ID: "legacy-proj", ClientID: "client-1", Name: "Old build", Status: "pending", CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert project: %v", err)
	}

	admin := tokenFor(t, "admin-1", "admin")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/legacy-proj/status", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var sd engine.StatusData
	if err := json.Unmarshal(data, &sd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sd.State.CurrentStatus != "SCOPING" {
		t.Fatalf("lazy init must start at SCOPING, got %s", sd.State.CurrentStatus)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	admin := tokenFor(t, "admin-1", "admin")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id": "admin-1",
		"name":     "ci",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var created struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/projects", nil)
	req.Header.Set("X-Api-Key", created.Key)
	res2, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("api key auth failed: %d", res2.StatusCode)
	}
}
