package roles

import (
	"errors"
	"strings"
)

// ErrUnknownRole is returned when a role string does not name a known role
var ErrUnknownRole = errors.New("unknown role")

// OrgRole represents a user's organization-wide role
type OrgRole string

const (
	OrgRoleOwner       OrgRole = "OWNER"
	OrgRoleAdmin       OrgRole = "ADMIN"
	OrgRoleTeamManager OrgRole = "TEAM_MANAGER"
	OrgRoleMember      OrgRole = "MEMBER"
)

// GroupRole represents a membership's role, scoped to a single group
type GroupRole string

const (
	GroupRoleAdmin     GroupRole = "ADMIN"
	GroupRoleModerator GroupRole = "MODERATOR"
	GroupRoleMember    GroupRole = "MEMBER"
)

// Rank tables. Zero is reserved for unknown values.
var (
	orgRanks = map[OrgRole]int{
		OrgRoleMember:      1,
		OrgRoleTeamManager: 2,
		OrgRoleAdmin:       3,
		OrgRoleOwner:       4,
	}
	groupRanks = map[GroupRole]int{
		GroupRoleMember:    1,
		GroupRoleModerator: 2,
		GroupRoleAdmin:     3,
	}
)

// Ranked is satisfied by both role enumerations
type Ranked interface {
	~string
	Rank() int
}

// Rank returns the role's position in the organization hierarchy, or 0 if unknown
func (r OrgRole) Rank() int {
	return orgRanks[r]
}

// Valid reports whether r is a known organization role
func (r OrgRole) Valid() bool {
	return r.Rank() > 0
}

// Rank returns the role's position in the group hierarchy, or 0 if unknown
func (r GroupRole) Rank() int {
	return groupRanks[r]
}

// Valid reports whether r is a known group role
func (r GroupRole) Valid() bool {
	return r.Rank() > 0
}

// AtLeast reports whether role ranks at or above threshold.
// Unknown values on either side never satisfy the comparison.
func AtLeast[R Ranked](role, threshold R) bool {
	rr, tr := role.Rank(), threshold.Rank()
	if rr == 0 || tr == 0 {
		return false
	}
	return rr >= tr
}

// ParseOrgRole converts a string into an OrgRole
func ParseOrgRole(s string) (OrgRole, error) {
	r := OrgRole(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrUnknownRole
	}
	return r, nil
}

// ParseGroupRole converts a string into a GroupRole
func ParseGroupRole(s string) (GroupRole, error) {
	r := GroupRole(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrUnknownRole
	}
	return r, nil
}

// OrgRoles returns every organization role, highest rank first
func OrgRoles() []OrgRole {
	return []OrgRole{OrgRoleOwner, OrgRoleAdmin, OrgRoleTeamManager, OrgRoleMember}
}

// GroupRoles returns every group role, highest rank first
func GroupRoles() []GroupRole {
	return []GroupRole{GroupRoleAdmin, GroupRoleModerator, GroupRoleMember}
}
