// Package drawboardsdk is a small client for the drawboard HTTP API.
package drawboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client is a minimal drawboard HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	// MaxRetries bounds retries of idempotent GETs on network errors and 5xx.
	MaxRetries uint64
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Timeout:    10 * time.Second,
		MaxRetries: 3,
	}
}

// Task represents the API task model.
type Task struct {
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
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	HistoryCount int        `json:"history_count"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type TaskPage struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

type HistoryEvent struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Text      string    `json:"text,omitempty"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedBy *struct {
		UserID string `json:"user_id,omitempty"`
		Name   string `json:"name,omitempty"`
		Email  string `json:"email"`
	} `json:"updated_by,omitempty"`
}

type History struct {
	TaskID string         `json:"task_id"`
	Order  string         `json:"order"`
	Items  []HistoryEvent `json:"items"`
}

// SignIn is the result of exchanging credentials.
type SignIn struct {
	AccessToken        string              `json:"access_token"`
	ExpiresAt          time.Time           `json:"expires_at"`
	UserID             string              `json:"user_id"`
	RoleID             string              `json:"role_id"`
	Role               string              `json:"role"`
	Scopes             []string            `json:"scopes"`
	PermissionEntities map[string][]string `json:"permission_entities"`
}

type Me struct {
	UserID             string              `json:"user_id"`
	Name               string              `json:"name"`
	Email              string              `json:"email"`
	RoleID             string              `json:"role_id"`
	Role               string              `json:"role"`
	RoleLabel          string              `json:"role_label"`
	Scopes             []string            `json:"scopes"`
	PermissionEntities map[string][]string `json:"permission_entities"`
}

type Access struct {
	Scope   string `json:"scope"`
	Allowed bool   `json:"allowed"`
}

type Role struct {
	ID          string   `json:"id"`
	Class       string   `json:"class"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Scopes      []string `json:"scopes"`
}

// CreateTaskInput carries the fields of a new task. Empty strings are omitted.
type CreateTaskInput struct {
	ID           string `json:"id,omitempty"`
	DrawingTitle string `json:"drawing_title"`
	Description  string `json:"description,omitempty"`
	Priority     string `json:"priority,omitempty"`
	AssignedToID string `json:"assigned_to_id,omitempty"`
}

// UpdateTaskInput edits task details. Nil fields are left unchanged.
type UpdateTaskInput struct {
	DrawingTitle    *string `json:"drawing_title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Priority        *string `json:"priority,omitempty"`
	AssignedToID    *string `json:"assigned_to_id,omitempty"`
	ExpectedVersion int     `json:"expected_version,omitempty"`
}

// ListTasksInput filters a task listing.
type ListTasksInput struct {
	Statuses     []string
	AssignedToID string
	Limit        int
	Cursor       string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == status
}

// SignIn exchanges email and password for a token and stores it on the client.
func (c *Client) SignIn(ctx context.Context, email, password string) (SignIn, error) {
	var resp SignIn
	err := c.do(ctx, http.MethodPost, "v1/auth/sign-in", map[string]string{"email": email, "password": password}, &resp)
	if err == nil {
		c.BearerToken = resp.AccessToken
	}
	return resp, err
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "v1/me", nil, &resp)
	return resp, err
}

// CheckAccess asks whether the caller holds module:action[:field].
func (c *Client) CheckAccess(ctx context.Context, module, action, field string) (Access, error) {
	q := url.Values{}
	q.Set("module", module)
	q.Set("action", action)
	if field != "" {
		q.Set("field", field)
	}
	var resp Access
	err := c.do(ctx, http.MethodGet, "v1/me/access?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, projectID string, in CreateTaskInput) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v1/projects/%s/tasks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, taskPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) ListTasks(ctx context.Context, projectID string, in ListTasksInput) (TaskPage, error) {
	q := url.Values{}
	if len(in.Statuses) > 0 {
		q.Set("status", strings.Join(in.Statuses, ","))
	}
	if in.AssignedToID != "" {
		q.Set("assigned_to_id", in.AssignedToID)
	}
	if in.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", in.Limit))
	}
	if in.Cursor != "" {
		q.Set("cursor", in.Cursor)
	}
	endpoint := fmt.Sprintf("v1/projects/%s/tasks", url.PathEscape(projectID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition requests a status change. expectedVersion 0 skips the version check.
func (c *Client) Transition(ctx context.Context, id, status, comment string, expectedVersion int) (Task, error) {
	body := map[string]any{"status": status}
	if comment != "" {
		body["comment"] = comment
	}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(id, "status"), body, &resp)
	return resp, err
}

func (c *Client) Comment(ctx context.Context, id, text string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(id, "comments"), map[string]string{"text": text}, &resp)
	return resp, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, in UpdateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, taskPath(id, ""), in, &resp)
	return resp, err
}

// History returns a task's events; order is "display" (newest first) or "chronological".
func (c *Client) History(ctx context.Context, id, order string) (History, error) {
	endpoint := taskPath(id, "history")
	if order != "" {
		endpoint += "?order=" + url.QueryEscape(order)
	}
	var resp History
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Roles(ctx context.Context) ([]Role, error) {
	var resp []Role
	err := c.do(ctx, http.MethodGet, "v1/roles", nil, &resp)
	return resp, err
}

func taskPath(id, sub string) string {
	p := "v1/tasks/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var payload []byte
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		payload = buf.Bytes()
	}
	attempt := func() error {
		err := c.once(ctx, method, endpoint, payload, out)
		var ae *APIError
		if errors.As(err, &ae) && ae.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	if method != http.MethodGet || c.MaxRetries == 0 {
		return c.once(ctx, method, endpoint, payload, out)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, c.MaxRetries), ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func (c *Client) once(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	ae := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		ae.Code = env.Error.Code
		ae.Message = env.Error.Message
		ae.Details = env.Error.Details
	}
	return ae
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
