package main

import (
	"context"
	"fmt"
	"strings"

	"drawboard/internal/app"
	"drawboard/internal/domain"
	"drawboard/internal/engine"
	"drawboard/internal/history"
	"drawboard/internal/session"
	drawboardsdk "drawboard/sdk/go"
)

// backend runs task operations either against the local workspace database
// or against a remote server through the SDK.
type backend interface {
	Create(ctx context.Context, opts engine.TaskCreateOptions) (domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	List(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error)
	Transition(ctx context.Context, opts engine.TransitionOptions) (domain.Task, error)
	Comment(ctx context.Context, id, text string) (domain.Task, error)
	Update(ctx context.Context, upd engine.TaskDetailsUpdate) (domain.Task, error)
	History(ctx context.Context, id string) (*history.Log, error)
	CheckAccess(ctx context.Context, module, action, field string) (bool, error)
}

type localBackend struct {
	ws   *app.Workspace
	sess *session.Context
}

func (b localBackend) Create(ctx context.Context, opts engine.TaskCreateOptions) (domain.Task, error) {
	return b.ws.Engine.CreateTask(ctx, b.sess, opts)
}

func (b localBackend) Get(ctx context.Context, id string) (domain.Task, error) {
	return b.ws.Engine.GetTask(ctx, b.sess, id)
}

func (b localBackend) List(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error) {
	return b.ws.Engine.ListTasks(ctx, b.sess, f)
}

func (b localBackend) Transition(ctx context.Context, opts engine.TransitionOptions) (domain.Task, error) {
	return b.ws.Engine.TransitionTask(ctx, b.sess, opts)
}

func (b localBackend) Comment(ctx context.Context, id, text string) (domain.Task, error) {
	return b.ws.Engine.CommentTask(ctx, b.sess, id, text)
}

func (b localBackend) Update(ctx context.Context, upd engine.TaskDetailsUpdate) (domain.Task, error) {
	return b.ws.Engine.UpdateTaskDetails(ctx, b.sess, upd)
}

func (b localBackend) History(ctx context.Context, id string) (*history.Log, error) {
	return b.ws.Engine.TaskHistory(ctx, b.sess, id)
}

func (b localBackend) CheckAccess(_ context.Context, module, action, field string) (bool, error) {
	return b.ws.Engine.CheckAccess(b.sess, module, action, field)
}

type remoteBackend struct {
	client *drawboardsdk.Client
}

func (b remoteBackend) Create(ctx context.Context, opts engine.TaskCreateOptions) (domain.Task, error) {
	t, err := b.client.CreateTask(ctx, opts.ProjectID, drawboardsdk.CreateTaskInput{
		ID:           opts.ID,
		DrawingTitle: opts.DrawingTitle,
		Description:  opts.Description,
		Priority:     opts.Priority,
		AssignedToID: opts.AssignedToID,
	})
	return fromSDKTask(t), err
}

func (b remoteBackend) Get(ctx context.Context, id string) (domain.Task, error) {
	t, err := b.client.GetTask(ctx, id)
	return fromSDKTask(t), err
}

func (b remoteBackend) List(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error) {
	in := drawboardsdk.ListTasksInput{AssignedToID: f.AssignedToID, Limit: f.Limit}
	for _, s := range f.Statuses {
		in.Statuses = append(in.Statuses, string(s))
	}
	page, err := b.client.ListTasks(ctx, f.ProjectID, in)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(page.Items))
	for _, t := range page.Items {
		out = append(out, fromSDKTask(t))
	}
	return out, nil
}

func (b remoteBackend) Transition(ctx context.Context, opts engine.TransitionOptions) (domain.Task, error) {
	t, err := b.client.Transition(ctx, opts.ID, string(opts.To), opts.Comment, opts.ExpectedVersion)
	return fromSDKTask(t), err
}

func (b remoteBackend) Comment(ctx context.Context, id, text string) (domain.Task, error) {
	t, err := b.client.Comment(ctx, id, text)
	return fromSDKTask(t), err
}

func (b remoteBackend) Update(ctx context.Context, upd engine.TaskDetailsUpdate) (domain.Task, error) {
	in := drawboardsdk.UpdateTaskInput{
		DrawingTitle:    upd.Details.DrawingTitle,
		Description:     upd.Details.Description,
		AssignedToID:    upd.Details.AssignedToID,
		ExpectedVersion: upd.ExpectedVersion,
	}
	if upd.Details.Priority != nil {
		p := string(*upd.Details.Priority)
		in.Priority = &p
	}
	t, err := b.client.UpdateTask(ctx, upd.ID, in)
	return fromSDKTask(t), err
}

func (b remoteBackend) History(ctx context.Context, id string) (*history.Log, error) {
	h, err := b.client.History(ctx, id, "chronological")
	if err != nil {
		return nil, err
	}
	events := make([]domain.HistoryEvent, 0, len(h.Items))
	for _, e := range h.Items {
		evt := domain.HistoryEvent{
			ID:        e.ID,
			EventType: domain.EventType(e.EventType),
			Details: domain.EventDetails{
				From:   e.From,
				To:     domain.TaskStatus(e.To),
				Text:   e.Text,
				UserID: e.UserID,
			},
			CreatedAt: e.CreatedAt,
		}
		if e.UpdatedBy != nil {
			evt.UpdatedBy = &domain.UpdatedBy{UserID: e.UpdatedBy.UserID, Name: e.UpdatedBy.Name, Email: e.UpdatedBy.Email}
		}
		events = append(events, evt)
	}
	return history.New(events...)
}

func (b remoteBackend) CheckAccess(ctx context.Context, module, action, field string) (bool, error) {
	a, err := b.client.CheckAccess(ctx, module, action, field)
	return a.Allowed, err
}

func fromSDKTask(t drawboardsdk.Task) domain.Task {
	return domain.Task{
		TaskID:       t.TaskID,
		ProjectID:    t.ProjectID,
		Status:       domain.TaskStatus(t.Status),
		Priority:     domain.Priority(t.Priority),
		AssignedToID: t.AssignedToID,
		CreatedByID:  t.CreatedByID,
		DrawingTitle: t.DrawingTitle,
		Description:  t.Description,
		IsActive:     true,
		Version:      t.Version,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func newRemoteClient(server, token, apiKey string) (*drawboardsdk.Client, error) {
	if strings.TrimSpace(token) == "" && strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("remote mode needs --token (see 'dbd login') or --api-key: %w", domain.ErrUnauthenticated)
	}
	c := drawboardsdk.New(server)
	c.BearerToken = token
	c.APIKey = apiKey
	return c, nil
}
