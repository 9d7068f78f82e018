// Package policy holds the role-based rules for task status changes,
// assignment and default listing.
package policy

import (
	"fmt"

	"drawboard/internal/domain"
)

// Decision is the outcome of Evaluate. Reason and Message are empty when allowed.
type Decision struct {
	Allowed bool
	Reason  domain.DenialReason
	Message string
}

// Err converts a denial into a PermissionDeniedError; nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return domain.PermissionDeniedError{Reason: d.Reason, Message: d.Message}
}

func allow() Decision { return Decision{Allowed: true} }

// reviewerOnly are targets contributors can never set.
var reviewerOnly = map[domain.TaskStatus]bool{
	domain.StatusCompleted: true,
	domain.StatusRejected:  true,
	domain.StatusOnHold:    true,
}

// Evaluate decides whether role may move a task from one status to another.
func Evaluate(role domain.RoleClass, from, to domain.TaskStatus) Decision {
	switch role {
	case domain.RoleDirector, domain.RoleTeamLead:
		return allow()
	case domain.RoleArchitect, domain.RoleDraughtsman:
		if from == domain.StatusCompleted {
			return Decision{
				Reason:  domain.DenyLockedAfterCompletion,
				Message: fmt.Sprintf("you don't have permission to change task's status once it is marked '%s'", domain.StatusCompleted.Label()),
			}
		}
		if reviewerOnly[to] || !to.Valid() {
			return Decision{
				Reason:  domain.DenyRoleNotPermitted,
				Message: fmt.Sprintf("you don't have permission to mark task '%s'", to.Label()),
			}
		}
		return allow()
	default:
		return Decision{
			Reason:  domain.DenyUnknownRole,
			Message: fmt.Sprintf("unknown role %q", string(role)),
		}
	}
}

func IsTransitionAllowed(role domain.RoleClass, from, to domain.TaskStatus) bool {
	return Evaluate(role, from, to).Allowed
}

// RequiresComment reports whether moving into to needs a justification.
func RequiresComment(to domain.TaskStatus) bool {
	return to == domain.StatusRejected || to == domain.StatusCompleted
}

// CanAssign reports whether an actor with role may assign a task to assigneeID.
// Contributors may only assign to themselves; an empty assignee is always allowed.
func CanAssign(role domain.RoleClass, actorID, assigneeID string) bool {
	if assigneeID == "" {
		return true
	}
	switch {
	case role.IsReviewer():
		return true
	case role.IsContributor():
		return assigneeID == actorID
	}
	return false
}

// DefaultListStatuses is the status filter applied when a listing names none.
// Nil means every status.
func DefaultListStatuses(role domain.RoleClass) []domain.TaskStatus {
	if role != domain.RoleTeamLead {
		return nil
	}
	out := make([]domain.TaskStatus, 0, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		if s == domain.StatusInReview || s == domain.StatusCompleted {
			continue
		}
		out = append(out, s)
	}
	return out
}
