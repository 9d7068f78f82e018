package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"drawboard/internal/domain"
	"drawboard/internal/engine/auth"
	"drawboard/internal/engine/policy"
	"drawboard/internal/events"
	"drawboard/internal/history"
	"drawboard/internal/repo"
	"drawboard/internal/session"
)

// TaskStore persists tasks. Mutate applies a partial update atomically and
// returns repo.ErrVersionConflict when ExpectedVersion is stale.
type TaskStore interface {
	Insert(ctx context.Context, task domain.Task, audit ...domain.AuditEntry) (domain.Task, error)
	Fetch(ctx context.Context, id string) (domain.Task, error)
	List(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error)
	Mutate(ctx context.Context, id string, m domain.TaskMutation) (domain.Task, error)
}

// Catalog resolves the projects and users tasks refer to.
type Catalog interface {
	GetProject(ctx context.Context, id string) (domain.Project, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
}

type Engine struct {
	Store     TaskStore
	Catalog   Catalog
	Lifecycle Lifecycle
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(r repo.Repo) Engine {
	return Engine{
		Store:   r,
		Catalog: r,
		Logger:  slog.Default(),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) lifecycle() Lifecycle {
	l := e.Lifecycle
	if l.Now == nil {
		l.Now = e.now
	}
	return l
}

// actor resolves the session principal and checks one scope.
func (e Engine) actor(sess *session.Context, module, action string, field ...string) (domain.Principal, error) {
	p, err := sess.Require()
	if err != nil {
		return domain.Principal{}, err
	}
	if err := auth.Require(p, module, action, field...); err != nil {
		e.logger().Warn("scope denied", "user_id", p.UserID, "scope", auth.Scope(module, action, field...))
		return domain.Principal{}, err
	}
	return p, nil
}

// CheckAccess reports whether the session principal holds the scope.
func (e Engine) CheckAccess(sess *session.Context, module, action, field string) (bool, error) {
	p, err := sess.Require()
	if err != nil {
		return false, err
	}
	return auth.HasAccess(auth.NewScopeSet(p.Scopes...), module, action, field), nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID           string
	ProjectID    string
	DrawingTitle string
	Description  string
	Priority     string
	AssignedToID string
}

func (e Engine) CreateTask(ctx context.Context, sess *session.Context, opts TaskCreateOptions) (domain.Task, error) {
	p, err := e.actor(sess, auth.ModuleTasks, auth.ActionCreate)
	if err != nil {
		return domain.Task{}, err
	}
	title := strings.TrimSpace(opts.DrawingTitle)
	if title == "" {
		return domain.Task{}, domain.ValidationError{Field: "drawing_title", Message: "drawing title is required"}
	}
	if strings.TrimSpace(opts.ProjectID) == "" {
		return domain.Task{}, domain.ValidationError{Field: "project_id", Message: "project is required"}
	}
	priority, err := domain.ParsePriority(opts.Priority)
	if err != nil {
		return domain.Task{}, err
	}
	assignee := strings.TrimSpace(opts.AssignedToID)
	if err := e.checkAssignment(ctx, p, assignee); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Catalog.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now()
	t := domain.Task{
		TaskID:       id,
		ProjectID:    opts.ProjectID,
		Status:       domain.StatusPending,
		Priority:     priority,
		AssignedToID: assignee,
		CreatedByID:  p.UserID,
		DrawingTitle: title,
		Description:  opts.Description,
		IsActive:     true,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := e.Store.Insert(ctx, t, domain.AuditEntry{
		Type:       events.TaskCreated,
		ProjectID:  t.ProjectID,
		EntityKind: "task",
		EntityID:   t.TaskID,
		ActorID:    p.UserID,
		Payload:    map[string]any{"drawing_title": t.DrawingTitle, "assigned_to_id": t.AssignedToID, "priority": t.Priority},
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.logger().Info("task created", "task_id", created.TaskID, "project_id", created.ProjectID, "user_id", p.UserID)
	return created, nil
}

func (e Engine) checkAssignment(ctx context.Context, p domain.Principal, assignee string) error {
	if assignee == "" {
		return nil
	}
	if !policy.CanAssign(p.Role, p.UserID, assignee) {
		return domain.PermissionDeniedError{
			Reason:  domain.DenyAssignment,
			Message: "you can only assign tasks to yourself",
		}
	}
	u, err := e.Catalog.GetUser(ctx, assignee)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ValidationError{Field: "assigned_to_id", Message: "unknown user " + assignee}
		}
		return err
	}
	if !u.IsActive {
		return domain.ValidationError{Field: "assigned_to_id", Message: "user " + assignee + " is inactive"}
	}
	return nil
}

func (e Engine) GetTask(ctx context.Context, sess *session.Context, id string) (domain.Task, error) {
	if _, err := e.actor(sess, auth.ModuleTasks, auth.ActionRead); err != nil {
		return domain.Task{}, err
	}
	return e.Store.Fetch(ctx, id)
}

// ListTasks lists tasks. With no statuses in f the role's default filter applies.
func (e Engine) ListTasks(ctx context.Context, sess *session.Context, f domain.TaskFilter) ([]domain.Task, error) {
	p, err := e.actor(sess, auth.ModuleTasks, auth.ActionRead)
	if err != nil {
		return nil, err
	}
	if len(f.Statuses) == 0 {
		f.Statuses = policy.DefaultListStatuses(p.Role)
	}
	return e.Store.List(ctx, f)
}

type TransitionOptions struct {
	ID              string
	To              domain.TaskStatus
	Comment         string
	ExpectedVersion int
}

// TransitionTask moves a task to a new status on behalf of the session principal.
func (e Engine) TransitionTask(ctx context.Context, sess *session.Context, opts TransitionOptions) (domain.Task, error) {
	p, err := e.actor(sess, auth.ModuleTasks, auth.ActionUpdate, auth.FieldStatus)
	if err != nil {
		return domain.Task{}, err
	}
	if !opts.To.Valid() {
		return domain.Task{}, domain.ValidationError{Field: "status", Message: "unknown status " + string(opts.To)}
	}
	current, err := e.Store.Fetch(ctx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := checkVersion(current, opts.ExpectedVersion); err != nil {
		return domain.Task{}, err
	}
	next, err := e.lifecycle().RequestTransition(current, p, opts.To, opts.Comment)
	if err != nil {
		if domain.IsPermissionDenied(err) {
			e.logger().Warn("transition denied", "task_id", current.TaskID, "from", current.Status, "to", opts.To, "user_id", p.UserID, "err", err)
		}
		return domain.Task{}, err
	}
	appended := next.History[len(current.History):]
	if len(appended) == 0 {
		return current, nil
	}
	status := next.Status
	updated, err := e.Store.Mutate(ctx, current.TaskID, domain.TaskMutation{
		Status:          &status,
		Append:          appended,
		ExpectedVersion: current.Version,
		Audit: []domain.AuditEntry{{
			Type:       events.TaskStatusChanged,
			ProjectID:  current.ProjectID,
			EntityKind: "task",
			EntityID:   current.TaskID,
			ActorID:    p.UserID,
			Payload:    map[string]any{"from": current.Status, "to": status, "comment": appended[0].Details.Text},
		}},
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.logger().Info("task status changed", "task_id", updated.TaskID, "from", current.Status, "to", updated.Status, "user_id", p.UserID, "version", updated.Version)
	return updated, nil
}

// CommentTask appends a comment to a task's history.
func (e Engine) CommentTask(ctx context.Context, sess *session.Context, id, text string) (domain.Task, error) {
	p, err := e.actor(sess, auth.ModuleTasks, auth.ActionUpdate, auth.FieldComments)
	if err != nil {
		return domain.Task{}, err
	}
	if strings.TrimSpace(text) == "" {
		return domain.Task{}, domain.ValidationError{Field: "text", Message: "comment text required"}
	}
	current, err := e.Store.Fetch(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	next, err := e.lifecycle().AddComment(current, p, text)
	if err != nil {
		return domain.Task{}, err
	}
	updated, err := e.Store.Mutate(ctx, current.TaskID, domain.TaskMutation{
		Append:          next.History[len(current.History):],
		ExpectedVersion: current.Version,
		Audit: []domain.AuditEntry{{
			Type:       events.TaskCommented,
			ProjectID:  current.ProjectID,
			EntityKind: "task",
			EntityID:   current.TaskID,
			ActorID:    p.UserID,
			Payload:    map[string]any{"text": strings.TrimSpace(text)},
		}},
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.logger().Info("task commented", "task_id", updated.TaskID, "user_id", p.UserID)
	return updated, nil
}

type TaskDetailsUpdate struct {
	ID              string
	Details         domain.TaskDetails
	ExpectedVersion int
}

// UpdateTaskDetails edits non-status fields. Each provided field needs its own scope.
func (e Engine) UpdateTaskDetails(ctx context.Context, sess *session.Context, upd TaskDetailsUpdate) (domain.Task, error) {
	p, err := sess.Require()
	if err != nil {
		return domain.Task{}, err
	}
	d := upd.Details
	if d.Empty() {
		return domain.Task{}, domain.ValidationError{Message: "no fields to update"}
	}
	changed := map[string]any{}
	if d.DrawingTitle != nil {
		if _, err := e.actor(sess, auth.ModuleTasks, auth.ActionUpdate, auth.FieldDrawingTitle); err != nil {
			return domain.Task{}, err
		}
		title := strings.TrimSpace(*d.DrawingTitle)
		if title == "" {
			return domain.Task{}, domain.ValidationError{Field: "drawing_title", Message: "drawing title cannot be empty"}
		}
		d.DrawingTitle = &title
		changed["drawing_title"] = title
	}
	if d.Description != nil {
		if _, err := e.actor(sess, auth.ModuleTasks, auth.ActionUpdate, auth.FieldDescription); err != nil {
			return domain.Task{}, err
		}
		changed["description"] = *d.Description
	}
	if d.Priority != nil {
		if _, err := e.actor(sess, auth.ModuleTasks, auth.ActionUpdate, auth.FieldPriority); err != nil {
			return domain.Task{}, err
		}
		if !d.Priority.Valid() {
			return domain.Task{}, domain.ValidationError{Field: "priority", Message: "unknown priority " + string(*d.Priority)}
		}
		changed["priority"] = *d.Priority
	}
	if d.AssignedToID != nil {
		if _, err := e.actor(sess, auth.ModuleTasks, auth.ActionUpdate, auth.FieldAssignedTo); err != nil {
			return domain.Task{}, err
		}
		assignee := strings.TrimSpace(*d.AssignedToID)
		if err := e.checkAssignment(ctx, p, assignee); err != nil {
			return domain.Task{}, err
		}
		d.AssignedToID = &assignee
		changed["assigned_to_id"] = assignee
	}
	current, err := e.Store.Fetch(ctx, upd.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := checkVersion(current, upd.ExpectedVersion); err != nil {
		return domain.Task{}, err
	}
	updated, err := e.Store.Mutate(ctx, current.TaskID, domain.TaskMutation{
		Details:         d,
		ExpectedVersion: current.Version,
		Audit: []domain.AuditEntry{{
			Type:       events.TaskUpdated,
			ProjectID:  current.ProjectID,
			EntityKind: "task",
			EntityID:   current.TaskID,
			ActorID:    p.UserID,
			Payload:    changed,
		}},
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.logger().Info("task updated", "task_id", updated.TaskID, "user_id", p.UserID, "fields", len(changed))
	return updated, nil
}

// TaskHistory returns the task's history log.
func (e Engine) TaskHistory(ctx context.Context, sess *session.Context, id string) (*history.Log, error) {
	t, err := e.GetTask(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	return history.New(t.History...)
}

func checkVersion(t domain.Task, expected int) error {
	if expected > 0 && expected != t.Version {
		return fmt.Errorf("task %s at version %d, expected %d: %w", t.TaskID, t.Version, expected, repo.ErrVersionConflict)
	}
	return nil
}
