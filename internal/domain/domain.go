package domain

import "time"

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Task struct {
	TaskID       string         `json:"task_id"`
	ProjectID    string         `json:"project_id"`
	Status       TaskStatus     `json:"status"`
	Priority     Priority       `json:"priority"`
	AssignedToID string         `json:"assigned_to_id,omitempty"`
	CreatedByID  string         `json:"created_by_id"`
	DrawingTitle string         `json:"drawing_title"`
	Description  string         `json:"description,omitempty"`
	IsActive     bool           `json:"is_active"`
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at" format:"date-time"`
	UpdatedAt    time.Time      `json:"updated_at" format:"date-time"`
	History      []HistoryEvent `json:"history,omitempty"`
}

// Clone returns a copy whose history slice does not alias t's.
func (t Task) Clone() Task {
	c := t
	if t.History != nil {
		c.History = make([]HistoryEvent, len(t.History))
		copy(c.History, t.History)
	}
	return c
}

// EventType distinguishes history entries.
type EventType string

const (
	EventStatusChange EventType = "STATUS_CHANGE"
	EventComment      EventType = "COMMENT"
)

func (t EventType) Valid() bool {
	return t == EventStatusChange || t == EventComment
}

type EventDetails struct {
	// From is the previous status for STATUS_CHANGE and the author's display name for COMMENT.
	From   string     `json:"from"`
	To     TaskStatus `json:"to,omitempty"`
	Text   string     `json:"text,omitempty"`
	UserID string     `json:"user_id"`
}

type UpdatedBy struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email"`
}

// HistoryEvent is an immutable record of a status change or comment.
type HistoryEvent struct {
	ID        string       `json:"id"`
	EventType EventType    `json:"event_type"`
	Details   EventDetails `json:"details"`
	CreatedAt time.Time    `json:"created_at" format:"date-time"`
	UpdatedBy *UpdatedBy   `json:"updated_by,omitempty"`
}

// TaskDetails holds the editable non-status fields. Nil means unchanged.
type TaskDetails struct {
	DrawingTitle *string
	Description  *string
	Priority     *Priority
	AssignedToID *string
}

func (d TaskDetails) Empty() bool {
	return d.DrawingTitle == nil && d.Description == nil && d.Priority == nil && d.AssignedToID == nil
}

// TaskMutation is the partial update handed to persistence.
// ExpectedVersion 0 disables the optimistic version check.
type TaskMutation struct {
	Status          *TaskStatus
	Details         TaskDetails
	Append          []HistoryEvent
	Audit           []AuditEntry
	ExpectedVersion int
}

// Principal is the authenticated actor.
type Principal struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"name,omitempty"`
	Email       string    `json:"email,omitempty"`
	RoleID      string    `json:"role_id"`
	Role        RoleClass `json:"role"`
	Scopes      []string  `json:"scopes"`
}

func (p Principal) Clone() Principal {
	c := p
	c.Scopes = append([]string(nil), p.Scopes...)
	return c
}

// Name returns DisplayName, falling back to UserID.
func (p Principal) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserID
}

type User struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	RoleID       string    `json:"role_id"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at" format:"date-time"`
}

type Role struct {
	ID          string    `json:"id"`
	Class       RoleClass `json:"class"`
	Description string    `json:"description,omitempty"`
	Scopes      []string  `json:"scopes"`
}

// Event is a project-wide audit log entry.
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

// AuditEntry is an audit record written in the same transaction as the change it describes.
type AuditEntry struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    map[string]any
}

// TaskFilter selects tasks for listing. Empty Statuses means any status.
type TaskFilter struct {
	ProjectID       string
	Statuses        []TaskStatus
	AssignedToID    string
	IncludeInactive bool
	Limit           int
	CursorCreatedAt time.Time
	CursorID        string
}

// APIKey authenticates a user without a password exchange. Only the hash is stored.
type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"-"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}
