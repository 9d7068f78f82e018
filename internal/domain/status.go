package domain

import (
	"fmt"
	"strings"
)

// TaskStatus is the closed set of states a task moves through.
type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusInReview   TaskStatus = "IN_REVIEW"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusRejected   TaskStatus = "REJECTED"
	StatusOnHold     TaskStatus = "ON_HOLD"
)

// AllStatuses lists every TaskStatus in workflow order.
var AllStatuses = []TaskStatus{
	StatusPending,
	StatusInProgress,
	StatusInReview,
	StatusCompleted,
	StatusRejected,
	StatusOnHold,
}

// legacy names seen in older dashboard builds
var statusAliases = map[string]TaskStatus{
	"NEW":  StatusPending,
	"DONE": StatusCompleted,
}

// ParseTaskStatus accepts the canonical key ("IN_PROGRESS"), its label
// ("In Progress") or a legacy alias, case-insensitively.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	if key == "" {
		return "", ValidationError{Field: "status", Message: "status is required"}
	}
	s := TaskStatus(key)
	if s.Valid() {
		return s, nil
	}
	if alias, ok := statusAliases[key]; ok {
		return alias, nil
	}
	return "", ValidationError{Field: "status", Message: fmt.Sprintf("unknown task status %q", raw)}
}

// Valid reports whether s is a member of the closed enumeration.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusInReview, StatusCompleted, StatusRejected, StatusOnHold:
		return true
	}
	return false
}

// Label is the human readable form used in messages.
func (s TaskStatus) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "In Progress"
	case StatusInReview:
		return "In Review"
	case StatusCompleted:
		return "Completed"
	case StatusRejected:
		return "Rejected"
	case StatusOnHold:
		return "On Hold"
	}
	return string(s)
}

func (s TaskStatus) String() string { return string(s) }

// Priority of a task.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(raw)))
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	case "":
		return PriorityMedium, nil
	}
	return "", ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", raw)}
}

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}
