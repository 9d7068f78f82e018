package domain

import (
	"errors"
	"testing"
)

func TestParseTaskStatus(t *testing.T) {
	cases := map[string]TaskStatus{
		"IN_PROGRESS": StatusInProgress,
		"in progress": StatusInProgress,
		" In Review ": StatusInReview,
		"on-hold":     StatusOnHold,
		"new":         StatusPending,
		"DONE":        StatusCompleted,
		"Rejected":    StatusRejected,
	}
	for raw, want := range cases {
		got, err := ParseTaskStatus(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", raw, got, want)
		}
	}
	for _, raw := range []string{"", "CANCELLED", "ARCHIVED"} {
		_, err := ParseTaskStatus(raw)
		var ve ValidationError
		if !errors.As(err, &ve) || ve.Field != "status" {
			t.Fatalf("parse %q: expected status validation error, got %v", raw, err)
		}
	}
}

func TestStatusLabelsRoundTrip(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseTaskStatus(s.Label())
		if err != nil || got != s {
			t.Fatalf("label %q did not parse back to %s: %v", s.Label(), s, err)
		}
	}
	if TaskStatus("BOGUS").Valid() {
		t.Fatalf("unexpected valid status")
	}
}

func TestParsePriorityDefaultsToMedium(t *testing.T) {
	p, err := ParsePriority("")
	if err != nil || p != PriorityMedium {
		t.Fatalf("expected MEDIUM, got %s %v", p, err)
	}
	if _, err := ParsePriority("urgent"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRoleClass(t *testing.T) {
	r, err := ParseRoleClass(" team_lead ")
	if err != nil || r != RoleTeamLead {
		t.Fatalf("parse role: %s %v", r, err)
	}
	if r.Label() != "Team lead" {
		t.Fatalf("label: %q", r.Label())
	}
	if !RoleArchitect.IsContributor() || RoleArchitect.IsReviewer() {
		t.Fatalf("architect should be a contributor")
	}
	if !RoleDirector.IsReviewer() || RoleDirector.IsContributor() {
		t.Fatalf("director should be a reviewer")
	}
	if _, err := ParseRoleClass("INTERN"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPermissionDeniedMessage(t *testing.T) {
	err := error(PermissionDeniedError{Reason: DenyScopeMissing, Scope: "TASKS:CREATE"})
	if err.Error() != "scope TASKS:CREATE required" || !IsPermissionDenied(err) {
		t.Fatalf("unexpected error %v", err)
	}
	if (PermissionDeniedError{}).Error() != "permission denied" {
		t.Fatalf("fallback message")
	}
}
