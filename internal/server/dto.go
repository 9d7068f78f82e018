package server

import (
	"time"

	"drawboard/internal/domain"
	"drawboard/internal/engine/auth"
	"drawboard/internal/history"
)

// Request payloads

type SignInRequest struct {
	Email    string `json:"email" example:"lead@drawboard.local"`
	Password string `json:"password"`
}

type CreateTaskRequest struct {
	ID           *string `json:"id,omitempty"`
	DrawingTitle string  `json:"drawing_title" example:"Ground floor plan"`
	Description  *string `json:"description,omitempty"`
	Priority     *string `json:"priority,omitempty" enum:"HIGH,MEDIUM,LOW"`
	AssignedToID *string `json:"assigned_to_id,omitempty"`
}

type UpdateTaskRequest struct {
	DrawingTitle    *string `json:"drawing_title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Priority        *string `json:"priority,omitempty" enum:"HIGH,MEDIUM,LOW"`
	AssignedToID    *string `json:"assigned_to_id,omitempty"`
	ExpectedVersion int     `json:"expected_version,omitempty"`
}

type TransitionRequest struct {
	Status          string `json:"status" example:"IN_REVIEW"`
	Comment         string `json:"comment,omitempty"`
	ExpectedVersion int    `json:"expected_version,omitempty"`
}

type CommentRequest struct {
	Text string `json:"text"`
}

// Response payloads

type SignInResponse struct {
	AccessToken        string              `json:"access_token"`
	ExpiresAt          time.Time           `json:"expires_at" format:"date-time"`
	UserID             string              `json:"user_id"`
	RoleID             string              `json:"role_id"`
	Role               string              `json:"role"`
	Scopes             []string            `json:"scopes"`
	PermissionEntities map[string][]string `json:"permission_entities"`
}

type MeResponse struct {
	UserID             string              `json:"user_id"`
	Name               string              `json:"name"`
	Email              string              `json:"email,omitempty"`
	RoleID             string              `json:"role_id"`
	Role               string              `json:"role"`
	RoleLabel          string              `json:"role_label"`
	Scopes             []string            `json:"scopes"`
	PermissionEntities map[string][]string `json:"permission_entities"`
}

type AccessResponse struct {
	Scope   string `json:"scope"`
	Allowed bool   `json:"allowed"`
}

type TaskResponse struct {
	TaskID       string     `json:"task_id"`
	ProjectID    string     `json:"project_id"`
	Status       string     `json:"status"`
	StatusLabel  string     `json:"status_label"`
	Priority     string     `json:"priority"`
	AssignedToID string     `json:"assigned_to_id,omitempty"`
	CreatedByID  string     `json:"created_by_id"`
	DrawingTitle string     `json:"drawing_title"`
	Description  string     `json:"description,omitempty"`
	Version      int        `json:"version"`
	CreatedAt    time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt    time.Time  `json:"updated_at" format:"date-time"`
	HistoryCount int        `json:"history_count"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" format:"date-time"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type HistoryEventResponse struct {
	ID        string     `json:"id"`
	EventType string     `json:"event_type"`
	From      string     `json:"from"`
	To        string     `json:"to,omitempty"`
	Text      string     `json:"text,omitempty"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at" format:"date-time"`
	UpdatedBy *UpdatedBy `json:"updated_by,omitempty"`
}

type UpdatedBy struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email"`
}

type HistoryResponse struct {
	TaskID string                 `json:"task_id"`
	Order  string                 `json:"order"`
	Items  []HistoryEventResponse `json:"items"`
}

type ProjectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type RoleResponse struct {
	ID          string   `json:"id"`
	Class       string   `json:"class"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Scopes      []string `json:"scopes"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func taskResponse(t domain.Task) TaskResponse {
	out := TaskResponse{
		TaskID:       t.TaskID,
		ProjectID:    t.ProjectID,
		Status:       string(t.Status),
		StatusLabel:  t.Status.Label(),
		Priority:     string(t.Priority),
		AssignedToID: t.AssignedToID,
		CreatedByID:  t.CreatedByID,
		DrawingTitle: t.DrawingTitle,
		Description:  t.Description,
		Version:      t.Version,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		HistoryCount: len(t.History),
	}
	if at, ok := history.CompletedAt(t); ok {
		out.CompletedAt = &at
	}
	return out
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func historyEventResponse(evt domain.HistoryEvent) HistoryEventResponse {
	out := HistoryEventResponse{
		ID:        evt.ID,
		EventType: string(evt.EventType),
		From:      evt.Details.From,
		To:        string(evt.Details.To),
		Text:      evt.Details.Text,
		UserID:    evt.Details.UserID,
		CreatedAt: evt.CreatedAt,
	}
	if evt.UpdatedBy != nil {
		out.UpdatedBy = &UpdatedBy{UserID: evt.UpdatedBy.UserID, Name: evt.UpdatedBy.Name, Email: evt.UpdatedBy.Email}
	}
	return out
}

func meResponse(p domain.Principal) MeResponse {
	return MeResponse{
		UserID:             p.UserID,
		Name:               p.Name(),
		Email:              p.Email,
		RoleID:             p.RoleID,
		Role:               string(p.Role),
		RoleLabel:          p.Role.Label(),
		Scopes:             nonNilSlice(p.Scopes),
		PermissionEntities: auth.PermissionEntities(p.Scopes),
	}
}

func signInResponse(x auth.Exchange) SignInResponse {
	return SignInResponse{
		AccessToken:        x.AccessToken,
		ExpiresAt:          x.ExpiresAt,
		UserID:             x.Principal.UserID,
		RoleID:             x.Principal.RoleID,
		Role:               string(x.Principal.Role),
		Scopes:             nonNilSlice(x.Principal.Scopes),
		PermissionEntities: x.PermissionEntities,
	}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Name: p.Name, Status: p.Status, CreatedAt: p.CreatedAt}
}

func roleResponse(r domain.Role) RoleResponse {
	return RoleResponse{
		ID:          r.ID,
		Class:       string(r.Class),
		Label:       r.Class.Label(),
		Description: r.Description,
		Scopes:      nonNilSlice(r.Scopes),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
