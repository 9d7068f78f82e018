package repo

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"drawboard/internal/db"
	"drawboard/internal/domain"
	"drawboard/internal/migrate"
)

func openSQLiteRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return prepare(t, conn, db.SQLite)
}

// openPostgresRepo runs against DRAWBOARD_POSTGRES_DSN and skips otherwise.
func openPostgresRepo(t *testing.T) Repo {
	t.Helper()
	dsn := os.Getenv("DRAWBOARD_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DRAWBOARD_POSTGRES_DSN not set")
	}
	conn, err := db.Open(db.Config{Driver: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return prepare(t, conn, db.Postgres)
}

func prepare(t *testing.T, conn *sql.DB, dialect db.Dialect) Repo {
	t.Helper()
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(conn, dialect)
}

func seed(t *testing.T, r Repo, suffix string) (project, user string) {
	t.Helper()
	project = "studio-" + suffix
	user = "lead-" + suffix
	roles := []domain.Role{{ID: "TEAM_LEAD", Class: domain.RoleTeamLead, Scopes: []string{"TASKS:*"}}}
	users := []domain.User{{UserID: user, Name: "Lead", Email: user + "@drawboard.local", RoleID: "TEAM_LEAD", PasswordHash: "hash-1", IsActive: true}}
	if err := r.SeedCatalog(context.Background(), roles, users, []domain.Project{{ID: project}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return project, user
}

func newTask(project, creator string, created time.Time) domain.Task {
	return domain.Task{
		TaskID:       uuid.NewString(),
		ProjectID:    project,
		Status:       domain.StatusPending,
		Priority:     domain.PriorityMedium,
		CreatedByID:  creator,
		DrawingTitle: "Ground floor plan",
		IsActive:     true,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func statusEvent(from, to domain.TaskStatus, user string, at time.Time) domain.HistoryEvent {
	return domain.HistoryEvent{
		ID:        uuid.NewString(),
		EventType: domain.EventStatusChange,
		Details:   domain.EventDetails{From: string(from), To: to, UserID: user},
		CreatedAt: at,
		UpdatedBy: &domain.UpdatedBy{UserID: user, Name: "Lead", Email: user + "@drawboard.local"},
	}
}

func TestSQLiteTaskLifecycle(t *testing.T) {
	r := openSQLiteRepo(t)
	project, user := seed(t, r, "a")
	exerciseTaskLifecycle(t, r, project, user)
}

func TestPostgresTaskLifecycle(t *testing.T) {
	r := openPostgresRepo(t)
	suffix := uuid.NewString()[:8]
	project, user := seed(t, r, suffix)
	exerciseTaskLifecycle(t, r, project, user)
}

func exerciseTaskLifecycle(t *testing.T, r Repo, project, user string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	in := newTask(project, user, now)
	created, err := r.Insert(ctx, in, domain.AuditEntry{Type: "task.created", ProjectID: project, EntityKind: "task", EntityID: in.TaskID, ActorID: user})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if created.Version != 1 || len(created.History) != 0 {
		t.Fatalf("unexpected created task: %+v", created)
	}
	if !created.CreatedAt.Equal(now) {
		t.Fatalf("created_at round trip: %v != %v", created.CreatedAt, now)
	}

	progress := domain.StatusInProgress
	updated, err := r.Mutate(ctx, in.TaskID, domain.TaskMutation{
		Status:          &progress,
		ExpectedVersion: 1,
		Append:          []domain.HistoryEvent{statusEvent(domain.StatusPending, progress, user, now.Add(time.Second))},
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	review := domain.StatusInReview
	comment := domain.HistoryEvent{
		ID:        uuid.NewString(),
		EventType: domain.EventComment,
		Details:   domain.EventDetails{From: "Lead", Text: "ready for review", UserID: user},
		CreatedAt: now.Add(2 * time.Second),
	}
	updated, err = r.Mutate(ctx, in.TaskID, domain.TaskMutation{
		Status:          &review,
		ExpectedVersion: updated.Version,
		Append:          []domain.HistoryEvent{statusEvent(progress, review, user, now.Add(2*time.Second)), comment},
	})
	if err != nil {
		t.Fatalf("second mutate: %v", err)
	}
	if updated.Version != 3 || updated.Status != review {
		t.Fatalf("expected version 3 IN_REVIEW, got %d %s", updated.Version, updated.Status)
	}
	if len(updated.History) != 3 {
		t.Fatalf("expected 3 history events, got %d", len(updated.History))
	}
	if updated.History[0].Details.To != progress || updated.History[2].EventType != domain.EventComment {
		t.Fatalf("history not in append order: %+v", updated.History)
	}
	if updated.History[0].UpdatedBy == nil || updated.History[0].UpdatedBy.Email != user+"@drawboard.local" {
		t.Fatalf("updated_by not stored: %+v", updated.History[0])
	}
	if updated.History[2].UpdatedBy != nil {
		t.Fatalf("comment without author snapshot should have nil updated_by")
	}

	_, err = r.Mutate(ctx, in.TaskID, domain.TaskMutation{Status: &progress, ExpectedVersion: 1})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	again, err := r.Fetch(ctx, in.TaskID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if again.Version != 3 || len(again.History) != 3 {
		t.Fatalf("rejected mutation changed the task: %+v", again)
	}

	if _, err := r.Fetch(ctx, "missing-"+in.TaskID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.Mutate(ctx, "missing-"+in.TaskID, domain.TaskMutation{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on mutate, got %v", err)
	}

	evts, err := r.LatestEventsFrom(ctx, 10, 0, project, "task.created", in.TaskID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 || evts[0].ActorID != user {
		t.Fatalf("expected one task.created event, got %+v", evts)
	}
}

func TestMutateUpdatesDetails(t *testing.T) {
	r := openSQLiteRepo(t)
	project, user := seed(t, r, "d")
	ctx := context.Background()
	in := newTask(project, user, time.Now().UTC())
	if _, err := r.Insert(ctx, in); err != nil {
		t.Fatalf("insert: %v", err)
	}
	title := "First floor plan"
	empty := ""
	high := domain.PriorityHigh
	assignee := "draughtsman"
	out, err := r.Mutate(ctx, in.TaskID, domain.TaskMutation{Details: domain.TaskDetails{
		DrawingTitle: &title,
		Description:  &empty,
		Priority:     &high,
		AssignedToID: &assignee,
	}})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if out.DrawingTitle != title || out.Priority != high || out.AssignedToID != assignee || out.Description != "" {
		t.Fatalf("details not applied: %+v", out)
	}
	if out.Status != domain.StatusPending || out.Version != 2 {
		t.Fatalf("status or version wrong: %s %d", out.Status, out.Version)
	}
}

func TestListFiltersAndCursor(t *testing.T) {
	r := openSQLiteRepo(t)
	project, user := seed(t, r, "l")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		task := newTask(project, user, base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			task.AssignedToID = "draughtsman"
		}
		if i == 4 {
			task.Status = domain.StatusOnHold
		}
		if _, err := r.Insert(ctx, task); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		ids = append(ids, task.TaskID)
	}
	inactive := newTask(project, user, base.Add(time.Hour))
	inactive.IsActive = false
	if _, err := r.Insert(ctx, inactive); err != nil {
		t.Fatalf("insert inactive: %v", err)
	}

	all, err := r.List(ctx, domain.TaskFilter{ProjectID: project})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 active tasks, got %d", len(all))
	}
	if all[0].TaskID != ids[4] || all[4].TaskID != ids[0] {
		t.Fatalf("expected newest first")
	}

	withInactive, err := r.List(ctx, domain.TaskFilter{ProjectID: project, IncludeInactive: true})
	if err != nil {
		t.Fatalf("list inactive: %v", err)
	}
	if len(withInactive) != 6 {
		t.Fatalf("expected 6 tasks including inactive, got %d", len(withInactive))
	}

	assigned, err := r.List(ctx, domain.TaskFilter{ProjectID: project, AssignedToID: "draughtsman"})
	if err != nil {
		t.Fatalf("list assigned: %v", err)
	}
	if len(assigned) != 3 {
		t.Fatalf("expected 3 assigned tasks, got %d", len(assigned))
	}

	held, err := r.List(ctx, domain.TaskFilter{ProjectID: project, Statuses: []domain.TaskStatus{domain.StatusOnHold, domain.StatusCompleted}})
	if err != nil {
		t.Fatalf("list status: %v", err)
	}
	if len(held) != 1 || held[0].TaskID != ids[4] {
		t.Fatalf("status filter mismatch: %+v", held)
	}

	page, err := r.List(ctx, domain.TaskFilter{ProjectID: project, Limit: 2})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	last := page[len(page)-1]
	next, err := r.List(ctx, domain.TaskFilter{ProjectID: project, Limit: 2, CursorCreatedAt: last.CreatedAt, CursorID: last.TaskID})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(next) != 2 || next[0].TaskID != ids[2] || next[1].TaskID != ids[1] {
		t.Fatalf("unexpected second page: %+v", next)
	}
}

func TestSeedCatalogKeepsPasswordHash(t *testing.T) {
	r := openSQLiteRepo(t)
	_, user := seed(t, r, "s")
	ctx := context.Background()
	roles := []domain.Role{{ID: "TEAM_LEAD", Class: domain.RoleTeamLead, Scopes: []string{"TASKS:READ", "PROJECTS:READ"}}}
	users := []domain.User{{UserID: user, Name: "Renamed", Email: "LEAD-S@Drawboard.local", RoleID: "TEAM_LEAD", IsActive: true}}
	if err := r.SeedCatalog(ctx, roles, users, nil); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	u, err := r.GetUserByEmail(ctx, "  lead-s@drawboard.LOCAL ")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u.PasswordHash != "hash-1" || u.Name != "Renamed" {
		t.Fatalf("expected hash kept and name updated, got %+v", u)
	}
	role, err := r.GetRole(ctx, "TEAM_LEAD")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if len(role.Scopes) != 2 || role.Scopes[0] != "PROJECTS:READ" {
		t.Fatalf("scopes not replaced: %v", role.Scopes)
	}
	if _, err := r.GetRole(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found role, got %v", err)
	}
}

func TestAPIKeys(t *testing.T) {
	r := openSQLiteRepo(t)
	_, user := seed(t, r, "k")
	ctx := context.Background()
	hash := HashAPIKey(" dbk_secret ")
	if hash != HashAPIKey("dbk_secret") {
		t.Fatalf("hash should ignore surrounding whitespace")
	}
	if err := r.InsertAPIKey(ctx, domain.APIKey{ID: "key-1", UserID: user, Name: "ci", KeyHash: hash}); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if got.UserID != user || got.Name != "ci" {
		t.Fatalf("unexpected key: %+v", got)
	}
	keys, err := r.ListAPIKeys(ctx, user)
	if err != nil || len(keys) != 1 {
		t.Fatalf("list keys: %v %d", err, len(keys))
	}
	if err := r.DeleteAPIKey(ctx, "key-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "key-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, hash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestEventsAfterCursor(t *testing.T) {
	r := openSQLiteRepo(t)
	project, user := seed(t, r, "e")
	ctx := context.Background()
	start, err := r.LatestEventID(ctx, project)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	for i := 0; i < 3; i++ {
		task := newTask(project, user, time.Now().UTC())
		if _, err := r.Insert(ctx, task, domain.AuditEntry{Type: "task.created", ProjectID: project, EntityKind: "task", EntityID: task.TaskID, ActorID: user}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	evts, err := r.EventsAfter(ctx, 2, start, project)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	if len(evts) != 2 || evts[0].ID >= evts[1].ID {
		t.Fatalf("expected two ascending events, got %+v", evts)
	}
	rest, err := r.EventsAfter(ctx, 10, evts[1].ID, project)
	if err != nil || len(rest) != 1 {
		t.Fatalf("expected one remaining event: %v %d", err, len(rest))
	}
}

func TestSeedCatalogUpsertsProjects(t *testing.T) {
	r := openSQLiteRepo(t)
	project, _ := seed(t, r, "p")
	ctx := context.Background()
	p, err := r.GetProject(ctx, project)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Name != project || p.Status != "active" {
		t.Fatalf("expected defaults from id, got %+v", p)
	}
	if err := r.SeedCatalog(ctx, nil, nil, []domain.Project{{ID: project, Name: "Studio"}}); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	p, err = r.GetProject(ctx, project)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Name != "Studio" {
		t.Fatalf("expected rename, got %q", p.Name)
	}
	err = r.SeedCatalog(ctx, nil, nil, []domain.Project{{ID: "  "}})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error for blank id, got %v", err)
	}
}

func TestEventTimestampsUseStorageLayout(t *testing.T) {
	r := openSQLiteRepo(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 5000, time.UTC)
	r.Now = func() time.Time { return at }
	project, user := seed(t, r, "ts")
	ctx := context.Background()
	task := newTask(project, user, at)
	if _, err := r.Insert(ctx, task, domain.AuditEntry{Type: "task.created", ProjectID: project, EntityKind: "task", EntityID: task.TaskID, ActorID: user}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var raw string
	if err := r.DB.QueryRowContext(ctx, `SELECT ts FROM events WHERE entity_id = ?`, task.TaskID).Scan(&raw); err != nil {
		t.Fatalf("read ts: %v", err)
	}
	if raw != "2026-03-01T09:00:00.000005000Z" {
		t.Fatalf("unexpected stored ts %q", raw)
	}
	got, err := time.Parse(db.TimeLayout, raw)
	if err != nil || !got.Equal(at) {
		t.Fatalf("parse %q: %v %v", raw, got, err)
	}
}
