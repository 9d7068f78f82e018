package domain

import (
	"fmt"
	"strings"
)

// RoleClass is the coarse job function that drives transition rights.
type RoleClass string

const (
	RoleDirector    RoleClass = "DIRECTOR"
	RoleTeamLead    RoleClass = "TEAM_LEAD"
	RoleArchitect   RoleClass = "ARCHITECT"
	RoleDraughtsman RoleClass = "DRAUGHTSMAN"
)

var AllRoles = []RoleClass{RoleDirector, RoleTeamLead, RoleArchitect, RoleDraughtsman}

func ParseRoleClass(raw string) (RoleClass, error) {
	r := RoleClass(strings.ToUpper(strings.TrimSpace(raw)))
	if r.Valid() {
		return r, nil
	}
	return "", ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", raw)}
}

func (r RoleClass) Valid() bool {
	switch r {
	case RoleDirector, RoleTeamLead, RoleArchitect, RoleDraughtsman:
		return true
	}
	return false
}

// IsContributor reports whether r is an individual-contributor role.
func (r RoleClass) IsContributor() bool {
	return r == RoleArchitect || r == RoleDraughtsman
}

// IsReviewer reports whether r may review and close tasks.
func (r RoleClass) IsReviewer() bool {
	return r == RoleDirector || r == RoleTeamLead
}

// Label renders "TEAM_LEAD" as "Team lead".
func (r RoleClass) Label() string {
	s := strings.ToLower(strings.ReplaceAll(string(r), "_", " "))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
