package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"clientline/internal/catalog"
	"clientline/internal/config"
	"clientline/internal/db"
	"clientline/internal/domain"
	"clientline/internal/engine"
	"clientline/internal/migrate"
	"clientline/internal/notify"
	"clientline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func (env testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat, err := catalog.FromConfig(config.Default())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	eng := engine.New(conn, cat)
	eng.Now = func() time.Time { return now }
	ctx := context.Background()
	if err := eng.Repo.SeedCatalog(ctx, cat.Statuses(), cat.Edges()); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	if err := eng.Repo.InsertActor(ctx, domain.Actor{ID: "admin-1", Name: "Alex", Role: "admin", CreatedAt: now.Format(time.RFC3339)}); err != nil {
		t.Fatalf("insert admin: %v", err)
	}
	if err := eng.Repo.InsertActor(ctx, domain.Actor{ID: "client-1", Name: "Acme", Role: "client", CreatedAt: now.Format(time.RFC3339)}); err != nil {
		t.Fatalf("insert client: %v", err)
	}
	if _, err := eng.CreateProject(ctx, "proj-1", "client-1", "Website redesign", "admin-1"); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := eng.InitializeStatus(ctx, "proj-1", "", "admin-1"); err != nil {
		t.Fatalf("initialize status: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, clock: &now}
}

func TestTransitionFollowsCatalog(t *testing.T) {
	env := newTestEnv(t)

	data, err := env.Engine.TransitionStatus(env.Ctx, "proj-1", "REVIEWING", "admin-1", "intake done")
	if err != nil {
		t.Fatalf("to REVIEWING: %v", err)
	}
	if data.State.CurrentStatus != "REVIEWING" {
		t.Fatalf("expected REVIEWING, got %s", data.State.CurrentStatus)
	}

	// REVIEWING has no edge to PROJECT_IN_PROGRESS
	_, err = env.Engine.TransitionStatus(env.Ctx, "proj-1", "PROJECT_IN_PROGRESS", "admin-1", "")
	var invalid engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != "REVIEWING" || invalid.To != "PROJECT_IN_PROGRESS" {
		t.Fatalf("unexpected edge in error: %s -> %s", invalid.From, invalid.To)
	}
	found := false
	for _, code := range invalid.Allowed {
		if code == "PROPOSAL_PHASE" {
			found = true
		}
	}
	if !found {
		t.Fatalf("allowed list should name PROPOSAL_PHASE, got %v", invalid.Allowed)
	}

	// state untouched by the failed attempt
	data, err = env.Engine.GetStatusData(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if data.State.CurrentStatus != "REVIEWING" {
		t.Fatalf("failed transition mutated state to %s", data.State.CurrentStatus)
	}

	if _, err := env.Engine.TransitionStatus(env.Ctx, "proj-1", "PROPOSAL_PHASE", "admin-1", ""); err != nil {
		t.Fatalf("to PROPOSAL_PHASE: %v", err)
	}
}

func TestUnknownStatusCode(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.TransitionStatus(env.Ctx, "proj-1", "SHIPPING", "admin-1", "")
	var unknown catalog.UnknownStatusCodeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownStatusCodeError, got %v", err)
	}
	if unknown.Code != "SHIPPING" {
		t.Fatalf("expected SHIPPING in error, got %s", unknown.Code)
	}
}

func TestLedgerSingleOpenEntry(t *testing.T) {
	env := newTestEnv(t)

	env.advance(2 * time.Hour)
	if _, err := env.Engine.TransitionStatus(env.Ctx, "proj-1", "REVIEWING", "admin-1", ""); err != nil {
		t.Fatalf("to REVIEWING: %v", err)
	}
	env.advance(30 * time.Minute)
	if _, err := env.Engine.TransitionStatus(env.Ctx, "proj-1", "PROPOSAL_PHASE", "admin-1", ""); err != nil {
		t.Fatalf("to PROPOSAL_PHASE: %v", err)
	}

	entries, err := env.Engine.GetStatusHistory(env.Ctx, "proj-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// most recent first
	if entries[0].StatusCode != "PROPOSAL_PHASE" || entries[2].StatusCode != "SCOPING" {
		t.Fatalf("unexpected ordering: %s .. %s", entries[0].StatusCode, entries[2].StatusCode)
	}
	open := 0
	for _, e := range entries {
		if e.ToDate == nil {
			open++
			if e.DurationSeconds != nil {
				t.Fatalf("open entry must have no duration")
			}
		} else if e.DurationSeconds == nil {
			t.Fatalf("closed entry %s missing duration", e.StatusCode)
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one open entry, got %d", open)
	}
	// SCOPING held for 2h
	if got := *entries[2].DurationSeconds; got != 7200 {
		t.Fatalf("expected 7200s in SCOPING, got %d", got)
	}
	if got := *entries[1].DurationSeconds; got != 1800 {
		t.Fatalf("expected 1800s in REVIEWING, got %d", got)
	}
}

func TestLedgerExactDurations(t *testing.T) {
	env := newTestEnv(t)

	steps := []struct {
		hold time.Duration
		next string
	}{
		{time.Second, "REVIEWING"},
		{time.Minute, "SCOPING"},
		{time.Hour, "REVIEWING"},
		{86399 * time.Second, "PROPOSAL_PHASE"},
	}
	for _, step := range steps {
		env.advance(step.hold)
		if _, err := env.Engine.TransitionStatus(env.Ctx, "proj-1", step.next, "admin-1", ""); err != nil {
			t.Fatalf("to %s: %v", step.next, err)
		}
	}

	entries, err := env.Engine.GetStatusHistory(env.Ctx, "proj-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	// most recent first; entries[0] is the open PROPOSAL_PHASE interval
	want := []int64{86399, 3600, 60, 1}
	for i, w := range want {
		e := entries[i+1]
		if e.DurationSeconds == nil {
			t.Fatalf("closed entry %s missing duration", e.StatusCode)
		}
		if *e.DurationSeconds != w {
			t.Fatalf("entry %s: expected %ds, got %ds", e.StatusCode, w, *e.DurationSeconds)
		}
	}
}

func TestLegacyStatusSync(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Status != "pending" {
		t.Fatalf("expected pending after init, got %s", p.Status)
	}

	for _, step := range []string{"REVIEWING", "PROPOSAL_PHASE", "PROJECT_IN_PROGRESS"} {
		if _, err := env.Engine.TransitionStatus(env.Ctx, "proj-1", step, "admin-1", ""); err != nil {
			t.Fatalf("to %s: %v", step, err)
		}
	}
	p, _ = env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Status != "active" {
		t.Fatalf("expected active in PROJECT_IN_PROGRESS, got %s", p.Status)
	}

	if _, err := env.Engine.TransitionStatus(env.Ctx, "proj-1", "CLIENT_REVIEW", "admin-1", ""); err != nil {
		t.Fatalf("to CLIENT_REVIEW: %v", err)
	}
	p, _ = env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Status != "review" {
		t.Fatalf("expected review in CLIENT_REVIEW, got %s", p.Status)
	}
}

func TestDuplicateInitialization(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.InitializeStatus(env.Ctx, "proj-1", "SCOPING", "admin-1")
	var dup engine.DuplicateStatusStateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateStatusStateError, got %v", err)
	}
}

func TestDuplicateStateInsertIsUniqueViolation(t *testing.T) {
	// the engine maps this constraint failure to DuplicateStatusStateError
	// when a racing initialization slips past its pre-check
	env := newTestEnv(t)

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = env.Engine.Repo.InsertStatusStateTx(env.Ctx, tx, domain.StatusState{
		ProjectID:          "proj-1",
		CurrentStatus:      "SCOPING",
		CurrentStatusSince: time.Now().UTC().Format(time.RFC3339),
		HealthStatus:       domain.HealthGood,
	})
	if err == nil {
		t.Fatal("expected a second state row to be rejected")
	}
	if !repo.IsUniqueViolation(err) {
		t.Fatalf("expected a unique violation, got %v", err)
	}
}

func TestStateNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProject(env.Ctx, "proj-2", "client-1", "Logo refresh", "admin-1"); err != nil {
		t.Fatalf("create project: %v", err)
	}
	_, err := env.Engine.GetStatusData(env.Ctx, "proj-2")
	var missing engine.StateNotFoundError
	if !errors.As(err, &missing) {
		t.Fatalf("expected StateNotFoundError, got %v", err)
	}
}

func TestSubStatusClearedOnTransition(t *testing.T) {
	env := newTestEnv(t)

	state, err := env.Engine.SetSubStatus(env.Ctx, "proj-1", "WAITING_ON_ASSETS", "brand kit missing", "admin-1")
	if err != nil {
		t.Fatalf("set sub-status: %v", err)
	}
	if state.SubStatus == nil || *state.SubStatus != "WAITING_ON_ASSETS" {
		t.Fatalf("sub-status not set: %+v", state)
	}

	data, err := env.Engine.TransitionStatus(env.Ctx, "proj-1", "REVIEWING", "admin-1", "")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if data.State.SubStatus != nil || data.State.SubStatusReason != nil {
		t.Fatalf("transition must clear sub-status, got %+v", data.State)
	}

	// the closed interval keeps the qualifier
	entries, err := env.Engine.GetStatusHistory(env.Ctx, "proj-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	scoping := entries[len(entries)-1]
	if scoping.SubStatus == nil || *scoping.SubStatus != "WAITING_ON_ASSETS" {
		t.Fatalf("closed interval lost its sub-status: %+v", scoping)
	}
}

func TestSubStatusClearWithNone(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SetSubStatus(env.Ctx, "proj-1", "WAITING_ON_ASSETS", "", "admin-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	state, err := env.Engine.SetSubStatus(env.Ctx, "proj-1", "NONE", "", "admin-1")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if state.SubStatus != nil {
		t.Fatalf("NONE must clear the sub-status")
	}
}

func TestClarificationRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	question := strings.Repeat("Which hosting provider should we target? ", 5)
	c, err := env.Engine.RequestClarification(env.Ctx, "proj-1", question, "admin-1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if c.Status != domain.ClarificationPending {
		t.Fatalf("expected pending, got %s", c.Status)
	}

	state, err := env.Engine.Repo.GetStatusState(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.SubStatus == nil || *state.SubStatus != domain.SubStatusClarificationNeeded {
		t.Fatalf("expected CLARIFICATION_NEEDED, got %+v", state.SubStatus)
	}
	if state.SubStatusReason == nil {
		t.Fatal("reason missing")
	}
	if got := len([]rune(*state.SubStatusReason)); got != 100 {
		t.Fatalf("reason must be truncated to 100 runes, got %d", got)
	}
	if !strings.HasPrefix(question, *state.SubStatusReason) {
		t.Fatalf("reason is not a prefix of the question")
	}

	env.advance(time.Hour)
	resolved, err := env.Engine.RespondToClarification(env.Ctx, c.ID, "AWS, we already have an account", "client-1")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resolved.Status != domain.ClarificationResolved {
		t.Fatalf("expected resolved, got %s", resolved.Status)
	}
	if resolved.RespondedByID == nil || *resolved.RespondedByID != "client-1" {
		t.Fatalf("responder not recorded: %+v", resolved)
	}

	state, _ = env.Engine.Repo.GetStatusState(env.Ctx, "proj-1")
	if state.SubStatus != nil {
		t.Fatalf("response must clear CLARIFICATION_NEEDED, got %v", *state.SubStatus)
	}

	// second response is rejected
	_, err = env.Engine.RespondToClarification(env.Ctx, c.ID, "actually GCP", "client-1")
	var already engine.ClarificationResolvedError
	if !errors.As(err, &already) {
		t.Fatalf("expected ClarificationResolvedError, got %v", err)
	}
}

func TestClarificationResponseKeepsUnrelatedSubStatus(t *testing.T) {
	env := newTestEnv(t)

	c, err := env.Engine.RequestClarification(env.Ctx, "proj-1", "Preferred font?", "admin-1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := env.Engine.SetSubStatus(env.Ctx, "proj-1", "WAITING_ON_ASSETS", "logo files", "admin-1"); err != nil {
		t.Fatalf("overwrite sub-status: %v", err)
	}
	if _, err := env.Engine.RespondToClarification(env.Ctx, c.ID, "Inter", "client-1"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	state, _ := env.Engine.Repo.GetStatusState(env.Ctx, "proj-1")
	if state.SubStatus == nil || *state.SubStatus != "WAITING_ON_ASSETS" {
		t.Fatalf("unrelated sub-status must survive the response, got %+v", state.SubStatus)
	}
}

func TestUpdateHealth(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.UpdateHealth(env.Ctx, "proj-1", "FINE", nil, "admin-1")
	var invalid engine.InvalidHealthStatusError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidHealthStatusError, got %v", err)
	}
	if len(invalid.Allowed) != 4 {
		t.Fatalf("error must list the 4 allowed values, got %v", invalid.Allowed)
	}

	state, err := env.Engine.UpdateHealth(env.Ctx, "proj-1", "AT_RISK", map[string]string{
		"timeline": "behind",
		"budget":   "on track",
	}, "admin-1")
	if err != nil {
		t.Fatalf("update health: %v", err)
	}
	if state.HealthStatus != "AT_RISK" {
		t.Fatalf("expected AT_RISK, got %s", state.HealthStatus)
	}
	if state.HealthFactorsJSON == nil || !strings.Contains(*state.HealthFactorsJSON, "behind") {
		t.Fatalf("factors not persisted: %+v", state.HealthFactorsJSON)
	}

	// destructive overwrite
	state, err = env.Engine.UpdateHealth(env.Ctx, "proj-1", "GOOD", nil, "admin-1")
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if state.HealthFactorsJSON != nil {
		t.Fatalf("overwrite must drop prior factors")
	}
	stored, _ := env.Engine.Repo.GetStatusState(env.Ctx, "proj-1")
	if stored.HealthStatus != "GOOD" || stored.HealthFactorsJSON != nil {
		t.Fatalf("stored health mismatch: %+v", stored)
	}
}

func TestMessengerNotifications(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Notify = notify.Messenger{Repo: env.Engine.Repo, Now: env.Engine.Now}

	if _, err := env.Engine.TransitionStatus(env.Ctx, "proj-1", "REVIEWING", "admin-1", "kickoff done"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := env.Engine.RequestClarification(env.Ctx, "proj-1", "Any CMS preference?", "admin-1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	msgs, err := env.Engine.Repo.ListMessages(env.Ctx, "proj-1", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	kinds := map[string]int{}
	for _, m := range msgs {
		kinds[m.Kind]++
	}
	if kinds["status_update"] == 0 {
		t.Fatalf("expected a status_update message, got %v", kinds)
	}
	if kinds["clarification_request"] != 1 {
		t.Fatalf("expected one clarification_request message, got %v", kinds)
	}
}

func TestEventsAppended(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.TransitionStatus(env.Ctx, "proj-1", "REVIEWING", "admin-1", ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "proj-1", "status.changed")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one status.changed event, got %d", len(events))
	}
	if !strings.Contains(events[0].Payload, `"to":"REVIEWING"`) {
		t.Fatalf("payload missing target status: %s", events[0].Payload)
	}
}
