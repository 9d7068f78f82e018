package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"drawboard/internal/app"
	"drawboard/internal/config"
	"drawboard/internal/domain"
	"drawboard/internal/engine"
	"drawboard/internal/engine/auth"
	"drawboard/internal/repo"
	"drawboard/internal/session"
)

type testEnv struct {
	WS  *app.Workspace
	Ctx context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	ws, err := app.Open(ctx, t.TempDir(), config.Default(), app.Options{JWTSecret: "test"})
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ws.Engine.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return testEnv{WS: ws, Ctx: ctx}
}

func (env testEnv) session(t *testing.T, userID string) *session.Context {
	t.Helper()
	s, err := env.WS.SessionFor(env.Ctx, userID)
	if err != nil {
		t.Fatalf("session for %s: %v", userID, err)
	}
	return s
}

func (env testEnv) createTask(t *testing.T, sess *session.Context, assignee string) domain.Task {
	t.Helper()
	task, err := env.WS.Engine.CreateTask(env.Ctx, sess, engine.TaskCreateOptions{
		ProjectID:    "studio",
		DrawingTitle: "Ground floor plan",
		AssignedToID: assignee,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestTaskLifecycleThroughStore(t *testing.T) {
	env := newTestEnv(t)
	e := env.WS.Engine
	drafter := env.session(t, "draughtsman")
	lead := env.session(t, "lead")

	task := env.createTask(t, lead, "draughtsman")
	if task.Status != domain.StatusPending || task.Version != 1 {
		t.Fatalf("unexpected new task: %+v", task)
	}

	task, err := e.TransitionTask(env.Ctx, drafter, engine.TransitionOptions{ID: task.TaskID, To: domain.StatusInProgress})
	if err != nil || task.Status != domain.StatusInProgress {
		t.Fatalf("to in_progress: %v", err)
	}
	task, err = e.TransitionTask(env.Ctx, drafter, engine.TransitionOptions{ID: task.TaskID, To: domain.StatusInReview})
	if err != nil || task.Status != domain.StatusInReview {
		t.Fatalf("to in_review: %v", err)
	}
	_, err = e.TransitionTask(env.Ctx, drafter, engine.TransitionOptions{ID: task.TaskID, To: domain.StatusCompleted, Comment: "done"})
	if !domain.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	_, err = e.TransitionTask(env.Ctx, lead, engine.TransitionOptions{ID: task.TaskID, To: domain.StatusCompleted})
	if !domain.IsValidation(err) {
		t.Fatalf("expected comment required, got %v", err)
	}
	task, err = e.TransitionTask(env.Ctx, lead, engine.TransitionOptions{ID: task.TaskID, To: domain.StatusCompleted, Comment: "approved"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Version != 4 || len(task.History) != 3 {
		t.Fatalf("expected version 4 with 3 events, got %d / %d", task.Version, len(task.History))
	}
	_, err = e.TransitionTask(env.Ctx, drafter, engine.TransitionOptions{ID: task.TaskID, To: domain.StatusInProgress})
	var pd domain.PermissionDeniedError
	if !errors.As(err, &pd) || pd.Reason != domain.DenyLockedAfterCompletion {
		t.Fatalf("expected lock after completion, got %v", err)
	}

	stored, err := e.GetTask(env.Ctx, lead, task.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.StatusCompleted || len(stored.History) != 3 {
		t.Fatalf("denied calls must not persist: %+v", stored)
	}
	last := stored.History[2]
	if last.Details.From != "IN_REVIEW" || last.Details.To != domain.StatusCompleted || last.Details.Text != "approved" || last.Details.UserID != "lead" {
		t.Fatalf("unexpected last event: %+v", last)
	}
}

func TestSameStatusTransitionDoesNotPersist(t *testing.T) {
	env := newTestEnv(t)
	lead := env.session(t, "lead")
	task := env.createTask(t, lead, "")
	got, err := env.WS.Engine.TransitionTask(env.Ctx, lead, engine.TransitionOptions{ID: task.TaskID, To: domain.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 1 || len(got.History) != 0 {
		t.Fatalf("no-op transition changed task: %+v", got)
	}
}

func TestExpectedVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	lead := env.session(t, "lead")
	task := env.createTask(t, lead, "")
	_, err := env.WS.Engine.TransitionTask(env.Ctx, lead, engine.TransitionOptions{ID: task.TaskID, To: domain.StatusInProgress, ExpectedVersion: 1})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.WS.Engine.TransitionTask(env.Ctx, lead, engine.TransitionOptions{ID: task.TaskID, To: domain.StatusOnHold, ExpectedVersion: 1})
	if !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	_, err = env.WS.Repo.Mutate(env.Ctx, task.TaskID, domain.TaskMutation{ExpectedVersion: 1})
	if !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("store must reject stale version, got %v", err)
	}
}

func TestScopeChecks(t *testing.T) {
	env := newTestEnv(t)
	e := env.WS.Engine
	drafter := env.session(t, "draughtsman")
	lead := env.session(t, "lead")

	_, err := e.CreateTask(env.Ctx, drafter, engine.TaskCreateOptions{ProjectID: "studio", DrawingTitle: "x"})
	var pd domain.PermissionDeniedError
	if !errors.As(err, &pd) || pd.Scope != "TASKS:CREATE" {
		t.Fatalf("expected TASKS:CREATE denial, got %v", err)
	}

	task := env.createTask(t, lead, "draughtsman")
	title := "Renamed"
	_, err = e.UpdateTaskDetails(env.Ctx, drafter, engine.TaskDetailsUpdate{ID: task.TaskID, Details: domain.TaskDetails{DrawingTitle: &title}})
	if !errors.As(err, &pd) || pd.Scope != "TASKS:UPDATE:drawingTitle" {
		t.Fatalf("expected drawingTitle denial, got %v", err)
	}
	ok, err := e.CheckAccess(drafter, auth.ModuleTasks, auth.ActionUpdate, auth.FieldComments)
	if err != nil || !ok {
		t.Fatalf("draughtsman should comment: %v %v", ok, err)
	}

	drafter.Clear()
	if _, err := e.GetTask(env.Ctx, drafter, task.TaskID); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("cleared session must be unauthenticated, got %v", err)
	}
	if _, err := e.CheckAccess(drafter, auth.ModuleTasks, auth.ActionRead, ""); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("check access on cleared session: %v", err)
	}
}

func TestAssignmentRules(t *testing.T) {
	env := newTestEnv(t)
	e := env.WS.Engine
	architect := env.session(t, "architect")

	_, err := e.CreateTask(env.Ctx, architect, engine.TaskCreateOptions{ProjectID: "studio", DrawingTitle: "Facade", AssignedToID: "draughtsman"})
	var pd domain.PermissionDeniedError
	if !errors.As(err, &pd) || pd.Reason != domain.DenyAssignment {
		t.Fatalf("expected assignment denial, got %v", err)
	}
	task, err := e.CreateTask(env.Ctx, architect, engine.TaskCreateOptions{ProjectID: "studio", DrawingTitle: "Facade", AssignedToID: "architect", Priority: "high"})
	if err != nil {
		t.Fatalf("self assignment: %v", err)
	}
	if task.Priority != domain.PriorityHigh || task.CreatedByID != "architect" {
		t.Fatalf("unexpected task: %+v", task)
	}
	_, err = e.CreateTask(env.Ctx, env.session(t, "lead"), engine.TaskCreateOptions{ProjectID: "studio", DrawingTitle: "x", AssignedToID: "ghost"})
	if !domain.IsValidation(err) {
		t.Fatalf("expected unknown assignee validation, got %v", err)
	}
	_, err = e.CreateTask(env.Ctx, architect, engine.TaskCreateOptions{ProjectID: "nowhere", DrawingTitle: "x"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected project not found, got %v", err)
	}
}

func TestCommentsAndHistoryOrder(t *testing.T) {
	env := newTestEnv(t)
	e := env.WS.Engine
	lead := env.session(t, "lead")
	task := env.createTask(t, lead, "")

	if _, err := e.CommentTask(env.Ctx, lead, task.TaskID, "  "); !domain.IsValidation(err) {
		t.Fatalf("blank comment: %v", err)
	}
	if _, err := e.CommentTask(env.Ctx, lead, task.TaskID, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.TransitionTask(env.Ctx, lead, engine.TransitionOptions{ID: task.TaskID, To: domain.StatusInProgress}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CommentTask(env.Ctx, lead, task.TaskID, "second"); err != nil {
		t.Fatal(err)
	}
	log, err := e.TaskHistory(env.Ctx, lead, task.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	chrono := log.Chronological()
	display := log.DisplayOrder()
	if len(chrono) != 3 || chrono[0].Details.Text != "first" || display[0].Details.Text != "second" {
		t.Fatalf("unexpected ordering: %+v / %+v", chrono, display)
	}
	if chrono[0].Details.From != "Team Lead" {
		t.Fatalf("comment from should be author name, got %q", chrono[0].Details.From)
	}
}

func TestListTasksDefaultFilter(t *testing.T) {
	env := newTestEnv(t)
	e := env.WS.Engine
	lead := env.session(t, "lead")
	director := env.session(t, "director")
	open := env.createTask(t, lead, "")
	review := env.createTask(t, lead, "")
	if _, err := e.TransitionTask(env.Ctx, lead, engine.TransitionOptions{ID: review.TaskID, To: domain.StatusInReview}); err != nil {
		t.Fatal(err)
	}

	items, err := e.ListTasks(env.Ctx, lead, domain.TaskFilter{ProjectID: "studio"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].TaskID != open.TaskID {
		t.Fatalf("team lead default list should hide in-review tasks: %+v", items)
	}
	items, err = e.ListTasks(env.Ctx, director, domain.TaskFilter{ProjectID: "studio"})
	if err != nil || len(items) != 2 {
		t.Fatalf("director sees all: %d %v", len(items), err)
	}
	items, err = e.ListTasks(env.Ctx, lead, domain.TaskFilter{ProjectID: "studio", Statuses: []domain.TaskStatus{domain.StatusInReview}})
	if err != nil || len(items) != 1 || items[0].TaskID != review.TaskID {
		t.Fatalf("explicit filter: %+v %v", items, err)
	}
}

func TestUpdateDetailsWritesAuditEvent(t *testing.T) {
	env := newTestEnv(t)
	e := env.WS.Engine
	lead := env.session(t, "lead")
	task := env.createTask(t, lead, "")
	desc := "Scale 1:100"
	prio := domain.PriorityLow
	got, err := e.UpdateTaskDetails(env.Ctx, lead, engine.TaskDetailsUpdate{ID: task.TaskID, Details: domain.TaskDetails{Description: &desc, Priority: &prio}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != desc || got.Priority != prio || got.Version != 2 {
		t.Fatalf("unexpected update: %+v", got)
	}
	evts, err := env.WS.Repo.LatestEventsFrom(env.Ctx, 10, 0, "studio", "", task.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 || evts[0].Type != "task.updated" || evts[1].Type != "task.created" {
		t.Fatalf("unexpected events: %+v", evts)
	}
	if _, err := e.UpdateTaskDetails(env.Ctx, lead, engine.TaskDetailsUpdate{ID: task.TaskID}); !domain.IsValidation(err) {
		t.Fatalf("empty update: %v", err)
	}
}
