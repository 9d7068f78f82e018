package domain

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when no principal is established.
var ErrUnauthenticated = errors.New("authentication required")

// ErrNotFound is reported by persistence when an entity does not exist.
var ErrNotFound = errors.New("not found")

// DenialReason classifies a PermissionDeniedError.
type DenialReason string

const (
	DenyLockedAfterCompletion DenialReason = "locked_after_completion"
	DenyRoleNotPermitted      DenialReason = "role_not_permitted"
	DenyUnknownRole           DenialReason = "unknown_role"
	DenyScopeMissing          DenialReason = "scope_missing"
	DenyAssignment            DenialReason = "assignment_not_permitted"
)

// PermissionDeniedError indicates the principal may not perform the action.
type PermissionDeniedError struct {
	Reason  DenialReason
	Scope   string
	Message string
}

func (e PermissionDeniedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Scope != "" {
		return fmt.Sprintf("scope %s required", e.Scope)
	}
	return "permission denied"
}

// ValidationError indicates caller input that can be corrected and resubmitted.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func IsPermissionDenied(err error) bool {
	var pd PermissionDeniedError
	return errors.As(err, &pd)
}

func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
