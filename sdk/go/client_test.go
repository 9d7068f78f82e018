package drawboardsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignInStoresBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/sign-in":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "lead@drawboard.local", body["email"])
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "user_id": "lead", "role": "TEAM_LEAD"})
		case "/v1/me":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{"user_id": "lead", "role": "TEAM_LEAD"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()
	out, err := c.SignIn(ctx, "lead@drawboard.local", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok", out.AccessToken)
	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lead", me.UserID)
}

func TestAPIErrorEnvelopeIsDecodedAndNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"forbidden","message":"you don't have permission to mark task 'Completed'","details":{"reason":"role_not_permitted"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetTask(context.Background(), "t1")
	require.Error(t, err)
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "forbidden", ae.Code)
	assert.Equal(t, "role_not_permitted", ae.Details["reason"])
	assert.True(t, IsStatus(err, http.StatusForbidden))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"task_id": "t1", "status": "PENDING", "version": 1})
	}))
	defer srv.Close()

	c := New(srv.URL)
	task, err := c.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", task.TaskID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPostIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Transition(context.Background(), "t1", "IN_PROGRESS", "", 2)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusInternalServerError))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestListTasksEncodesFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/studio/tasks", r.URL.Path)
		assert.Equal(t, "PENDING,ON_HOLD", r.URL.Query().Get("status"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{{"task_id": "a"}}, "next_cursor": "c"})
	}))
	defer srv.Close()

	page, err := New(srv.URL).ListTasks(context.Background(), "studio", ListTasksInput{Statuses: []string{"PENDING", "ON_HOLD"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c", page.NextCursor)
}
