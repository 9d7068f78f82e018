package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawboard/internal/domain"
)

var lifecycleNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func testLifecycle() Lifecycle {
	n := 0
	return Lifecycle{
		Now: func() time.Time { return lifecycleNow },
		NewID: func() string {
			n++
			return fmt.Sprintf("evt-%d", n)
		},
	}
}

func principal(id string, role domain.RoleClass) domain.Principal {
	return domain.Principal{UserID: id, DisplayName: "User " + id, RoleID: string(role), Role: role}
}

func taskIn(status domain.TaskStatus) domain.Task {
	return domain.Task{TaskID: "t-1", ProjectID: "p-1", Status: status, Version: 3}
}

func TestDraughtsmanStartsWork(t *testing.T) {
	task := taskIn(domain.StatusPending)
	got, err := testLifecycle().RequestTransition(task, principal("d-1", domain.RoleDraughtsman), domain.StatusInProgress, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	assert.Equal(t, 3, got.Version)
	require.Len(t, got.History, 1)
	evt := got.History[0]
	assert.Equal(t, domain.EventStatusChange, evt.EventType)
	assert.Equal(t, "PENDING", evt.Details.From)
	assert.Equal(t, domain.StatusInProgress, evt.Details.To)
	assert.Equal(t, "d-1", evt.Details.UserID)
	assert.Equal(t, lifecycleNow, evt.CreatedAt)
	assert.Equal(t, "evt-1", evt.ID)
}

func TestOptionalCommentIsNotStored(t *testing.T) {
	task := taskIn(domain.StatusPending)
	got, err := testLifecycle().RequestTransition(task, principal("d-1", domain.RoleDraughtsman), domain.StatusInProgress, "starting now")
	require.NoError(t, err)
	require.Len(t, got.History, 1)
	assert.Empty(t, got.History[0].Details.Text)
}

func TestDraughtsmanCannotComplete(t *testing.T) {
	task := taskIn(domain.StatusInReview)
	got, err := testLifecycle().RequestTransition(task, principal("d-1", domain.RoleDraughtsman), domain.StatusCompleted, "done")
	var pd domain.PermissionDeniedError
	require.ErrorAs(t, err, &pd)
	assert.Equal(t, domain.DenyRoleNotPermitted, pd.Reason)
	assert.Equal(t, domain.StatusInReview, got.Status)
	assert.Empty(t, got.History)
}

func TestContributorLockedAfterCompletion(t *testing.T) {
	task := taskIn(domain.StatusCompleted)
	_, err := testLifecycle().RequestTransition(task, principal("a-1", domain.RoleArchitect), domain.StatusInProgress, "")
	var pd domain.PermissionDeniedError
	require.ErrorAs(t, err, &pd)
	assert.Equal(t, domain.DenyLockedAfterCompletion, pd.Reason)
}

func TestRejectRequiresComment(t *testing.T) {
	task := taskIn(domain.StatusInReview)
	lead := principal("l-1", domain.RoleTeamLead)
	for _, c := range []string{"", "   \t"} {
		got, err := testLifecycle().RequestTransition(task, lead, domain.StatusRejected, c)
		assert.True(t, domain.IsValidation(err))
		assert.Empty(t, got.History)
		assert.Equal(t, domain.StatusInReview, got.Status)
	}
}

func TestRejectWithComment(t *testing.T) {
	task := taskIn(domain.StatusInReview)
	got, err := testLifecycle().RequestTransition(task, principal("l-1", domain.RoleTeamLead), domain.StatusRejected, "needs rework")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
	require.Len(t, got.History, 1)
	assert.Equal(t, "needs rework", got.History[0].Details.Text)
}

func TestReviewerReopensCompletedTask(t *testing.T) {
	task := taskIn(domain.StatusCompleted)
	got, err := testLifecycle().RequestTransition(task, principal("dir", domain.RoleDirector), domain.StatusInProgress, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)

	// the lock follows the current status, so contributors can act again
	got, err = testLifecycle().RequestTransition(got, principal("d-1", domain.RoleDraughtsman), domain.StatusInReview, "")
	require.NoError(t, err)
	assert.Len(t, got.History, 2)
}

func TestSameStatusIsNoop(t *testing.T) {
	for _, s := range domain.AllStatuses {
		task := taskIn(s)
		for _, p := range []domain.Principal{principal("d-1", domain.RoleDraughtsman), principal("dir", domain.RoleDirector), {}} {
			got, err := testLifecycle().RequestTransition(task, p, s, "")
			require.NoError(t, err)
			assert.Equal(t, task, got)
		}
	}
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	seed := domain.HistoryEvent{ID: "old", EventType: domain.EventComment, CreatedAt: lifecycleNow.Add(-time.Hour),
		Details: domain.EventDetails{From: "x", Text: "hello", UserID: "x"}}
	history := make([]domain.HistoryEvent, 1, 4)
	history[0] = seed
	task := taskIn(domain.StatusPending)
	task.History = history

	got, err := testLifecycle().RequestTransition(task, principal("d-1", domain.RoleDraughtsman), domain.StatusInProgress, "")
	require.NoError(t, err)
	assert.Len(t, got.History, 2)
	assert.Len(t, task.History, 1)
	assert.Equal(t, domain.StatusPending, task.Status)
	assert.Equal(t, seed, history[:cap(history)][0])
	assert.Empty(t, history[:cap(history)][1].ID)
}

func TestTransitionErrors(t *testing.T) {
	task := taskIn(domain.StatusPending)
	_, err := testLifecycle().RequestTransition(task, domain.Principal{}, domain.StatusInProgress, "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = testLifecycle().RequestTransition(task, principal("dir", domain.RoleDirector), "ARCHIVED", "")
	assert.True(t, domain.IsValidation(err))

	_, err = testLifecycle().RequestTransition(task, principal("x", "INTERN"), domain.StatusInProgress, "")
	var pd domain.PermissionDeniedError
	require.ErrorAs(t, err, &pd)
	assert.Equal(t, domain.DenyUnknownRole, pd.Reason)
}

func TestAddComment(t *testing.T) {
	task := taskIn(domain.StatusInProgress)
	p := principal("d-1", domain.RoleDraughtsman)
	got, err := testLifecycle().AddComment(task, p, "  checked the dims ")
	require.NoError(t, err)
	require.Len(t, got.History, 1)
	evt := got.History[0]
	assert.Equal(t, domain.EventComment, evt.EventType)
	assert.Equal(t, "User d-1", evt.Details.From)
	assert.Equal(t, "checked the dims", evt.Details.Text)
	assert.Equal(t, domain.StatusInProgress, got.Status)

	p.DisplayName = ""
	got, err = testLifecycle().AddComment(task, p, "anon")
	require.NoError(t, err)
	assert.Equal(t, "d-1", got.History[0].Details.From)

	_, err = testLifecycle().AddComment(task, p, " ")
	assert.True(t, domain.IsValidation(err))
	_, err = testLifecycle().AddComment(task, domain.Principal{}, "x")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}
