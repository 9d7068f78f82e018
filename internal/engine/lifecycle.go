package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"drawboard/internal/domain"
	"drawboard/internal/engine/policy"
	"drawboard/internal/history"
)

// Lifecycle applies status changes and comments to a task value.
// It performs no I/O and never mutates its input.
type Lifecycle struct {
	Now   func() time.Time
	NewID func() string
}

func (l Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l Lifecycle) newID() string {
	if l.NewID != nil {
		return l.NewID()
	}
	return uuid.NewString()
}

// RequestTransition returns task moved to status to, with a STATUS_CHANGE
// event appended. A request for the current status returns task unchanged.
// The comment is recorded only for targets that require one; otherwise it is dropped.
func (l Lifecycle) RequestTransition(task domain.Task, actor domain.Principal, to domain.TaskStatus, comment string) (domain.Task, error) {
	if to == task.Status {
		return task, nil
	}
	if actor.UserID == "" {
		return task, domain.ErrUnauthenticated
	}
	if !to.Valid() {
		return task, domain.ValidationError{Field: "status", Message: "unknown status " + string(to)}
	}
	if err := policy.Evaluate(actor.Role, task.Status, to).Err(); err != nil {
		return task, err
	}
	comment = strings.TrimSpace(comment)
	if !policy.RequiresComment(to) {
		comment = ""
	} else if comment == "" {
		return task, domain.ValidationError{
			Field:   "comment",
			Message: "comment required when marking task '" + to.Label() + "'",
		}
	}
	evt := domain.HistoryEvent{
		ID:        l.newID(),
		EventType: domain.EventStatusChange,
		Details: domain.EventDetails{
			From:   string(task.Status),
			To:     to,
			Text:   comment,
			UserID: actor.UserID,
		},
		CreatedAt: l.now(),
		UpdatedBy: updatedBy(actor),
	}
	next, err := appendEvent(task, evt)
	if err != nil {
		return task, err
	}
	next.Status = to
	next.UpdatedAt = evt.CreatedAt
	return next, nil
}

// AddComment returns task with a COMMENT event appended.
func (l Lifecycle) AddComment(task domain.Task, actor domain.Principal, text string) (domain.Task, error) {
	if actor.UserID == "" {
		return task, domain.ErrUnauthenticated
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return task, domain.ValidationError{Field: "text", Message: "comment text required"}
	}
	evt := domain.HistoryEvent{
		ID:        l.newID(),
		EventType: domain.EventComment,
		Details: domain.EventDetails{
			From:   actor.Name(),
			Text:   text,
			UserID: actor.UserID,
		},
		CreatedAt: l.now(),
		UpdatedBy: updatedBy(actor),
	}
	next, err := appendEvent(task, evt)
	if err != nil {
		return task, err
	}
	next.UpdatedAt = evt.CreatedAt
	return next, nil
}

func appendEvent(task domain.Task, evt domain.HistoryEvent) (domain.Task, error) {
	log, err := history.New(task.History...)
	if err != nil {
		return task, err
	}
	if err := log.Append(evt); err != nil {
		return task, err
	}
	next := task.Clone()
	next.History = log.Events()
	return next, nil
}

func updatedBy(p domain.Principal) *domain.UpdatedBy {
	return &domain.UpdatedBy{UserID: p.UserID, Name: p.DisplayName, Email: p.Email}
}
