package auth

import (
	"sort"
	"strings"

	"drawboard/internal/domain"
)

// Modules guarded by scopes.
const (
	ModuleAccessControl = "ACCESS_CONTROL"
	ModulePermissions   = "PERMISSIONS"
	ModuleUserRoles     = "USER_ROLES"
	ModuleRoles         = "ROLES"
	ModuleProjects      = "PROJECTS"
	ModuleTasks         = "TASKS"
	ModuleTeams         = "TEAMS"
)

// Actions within a module.
const (
	ActionCreate = "CREATE"
	ActionRead   = "READ"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionAll    = "*"
)

// Task fields with their own update scopes.
const (
	FieldStatus       = "status"
	FieldComments     = "comments"
	FieldDescription  = "description"
	FieldDrawingTitle = "drawingTitle"
	FieldPriority     = "priority"
	FieldAssignedTo   = "assignedTo"
)

const (
	wildcard    = "*"
	superScope  = "*:*:*"
	scopeSep    = ":"
	maxSegments = 3
)

// ScopeSet is a principal's granted scope strings.
type ScopeSet map[string]struct{}

func NewScopeSet(scopes ...string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		set[s] = struct{}{}
	}
	return set
}

func (s ScopeSet) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// Slice returns the scopes sorted.
func (s ScopeSet) Slice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Scope builds "module:action" or "module:action:field".
func Scope(module, action string, field ...string) string {
	s := module + scopeSep + action
	if len(field) > 0 && field[0] != "" {
		s += scopeSep + field[0]
	}
	return s
}

// HasAccess reports whether scopes grant action on module (and field, when given).
// A grant matches when it is the exact scope, module:action:*, module:* or *:*:*.
// Segments containing the separator never match.
func HasAccess(scopes ScopeSet, module, action string, field ...string) bool {
	if len(scopes) == 0 || module == "" || action == "" {
		return false
	}
	if strings.Contains(module, scopeSep) || strings.Contains(action, scopeSep) {
		return false
	}
	if len(field) > 0 && strings.Contains(field[0], scopeSep) {
		return false
	}
	return scopes.Has(Scope(module, action, field...)) ||
		scopes.Has(module+scopeSep+action+scopeSep+wildcard) ||
		scopes.Has(module+scopeSep+wildcard) ||
		scopes.Has(superScope)
}

// Require returns a PermissionDeniedError when p lacks the scope.
func Require(p domain.Principal, module, action string, field ...string) error {
	if p.UserID == "" {
		return domain.ErrUnauthenticated
	}
	if HasAccess(NewScopeSet(p.Scopes...), module, action, field...) {
		return nil
	}
	scope := Scope(module, action, field...)
	return domain.PermissionDeniedError{
		Reason:  domain.DenyScopeMissing,
		Scope:   scope,
		Message: "scope " + scope + " required",
	}
}

// ValidateScope checks catalog entries: two or three non-empty segments,
// wildcards only in trailing positions.
func ValidateScope(scope string) error {
	parts := strings.Split(scope, scopeSep)
	if len(parts) < 2 || len(parts) > maxSegments {
		return domain.ValidationError{Field: "scope", Message: "scope " + scope + " must be module:action[:field]"}
	}
	seenWildcard := false
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return domain.ValidationError{Field: "scope", Message: "scope " + scope + " has an empty segment"}
		}
		if p == wildcard {
			seenWildcard = true
			continue
		}
		if seenWildcard {
			return domain.ValidationError{Field: "scope", Message: "scope " + scope + " has a wildcard before a concrete segment"}
		}
		if strings.Contains(p, wildcard) {
			return domain.ValidationError{Field: "scope", Message: "scope " + scope + " has a partial wildcard"}
		}
	}
	return nil
}
