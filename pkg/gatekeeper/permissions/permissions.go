// Package permissions resolves capabilities from a user's organizational role
// and group memberships. Every function is pure and denies by default.
package permissions

import (
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/membership"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
)

// Capability names a permission query
type Capability string

const (
	AccessAdminPanel  Capability = "access_admin_panel"
	ManageUsers       Capability = "manage_users"
	ViewAllGroups     Capability = "view_all_groups"
	CreateGroups      Capability = "create_groups"
	ManageGroup       Capability = "manage_group"
	ViewAnalytics     Capability = "view_analytics"
	InviteToGroup     Capability = "invite_to_group"
	ViewGroup         Capability = "view_group"
	RequestMembership Capability = "request_membership"
)

// GroupScoped reports whether the capability is evaluated against a specific group
func (c Capability) GroupScoped() bool {
	switch c {
	case ManageGroup, InviteToGroup, ViewGroup, RequestMembership:
		return true
	}
	return false
}

func hasOrgRole(u models.User, min roles.OrgRole) bool {
	return u.IsActive() && roles.AtLeast(u.Role, min)
}

// CanAccessAdminPanel reports whether the user may reach administrative surfaces
func CanAccessAdminPanel(u models.User) bool {
	return hasOrgRole(u, roles.OrgRoleAdmin)
}

// CanManageUsers reports whether the user may change other users' roles and status
func CanManageUsers(u models.User) bool {
	return hasOrgRole(u, roles.OrgRoleAdmin)
}

// CanViewAllGroups reports whether the user sees every group regardless of membership
func CanViewAllGroups(u models.User) bool {
	return hasOrgRole(u, roles.OrgRoleAdmin)
}

// CanCreateGroups reports whether the user may create groups
func CanCreateGroups(u models.User) bool {
	return hasOrgRole(u, roles.OrgRoleTeamManager)
}

// CanViewAnalytics reports whether the user may view organization statistics
func CanViewAnalytics(u models.User) bool {
	return hasOrgRole(u, roles.OrgRoleAdmin)
}

// CanManageGroup reports whether the user may edit a group and its memberships.
// Organization admins manage every group, including orphaned and unknown ones;
// everyone else needs a granting ADMIN membership.
func CanManageGroup(u models.User, groupID uint, idx *membership.Index) bool {
	if CanManageUsers(u) {
		return true
	}
	return u.IsActive() && idx.Grants(u.ID, groupID, roles.GroupRoleAdmin)
}

// CanInviteToGroup reports whether the user may add members to a group.
// Moderators may invite but only at the MEMBER role; see CanGrantGroupRole.
func CanInviteToGroup(u models.User, groupID uint, idx *membership.Index) bool {
	if CanManageGroup(u, groupID, idx) {
		return true
	}
	return u.IsActive() && idx.Grants(u.ID, groupID, roles.GroupRoleModerator)
}

// CanGrantGroupRole reports whether the user may assign role to someone in the group
func CanGrantGroupRole(u models.User, groupID uint, role roles.GroupRole, idx *membership.Index) bool {
	if !role.Valid() {
		return false
	}
	if CanManageGroup(u, groupID, idx) {
		return true
	}
	return role == roles.GroupRoleMember && CanInviteToGroup(u, groupID, idx)
}

// CanViewGroup reports whether the group appears to the user.
// This agrees with visibility.Filter for every active group.
func CanViewGroup(u models.User, groupID uint, idx *membership.Index) bool {
	g, ok := idx.Group(groupID)
	if !ok || !g.IsActive {
		return false
	}
	if CanViewAllGroups(u) {
		return true
	}
	return u.IsActive() && idx.Grants(u.ID, groupID, roles.GroupRoleMember)
}

// CanRequestMembership reports whether the user may ask to join a group
func CanRequestMembership(u models.User, groupID uint, idx *membership.Index) bool {
	if !u.IsActive() {
		return false
	}
	g, ok := idx.Group(groupID)
	if !ok || !g.IsActive || g.Visibility != models.VisibilityPublic {
		return false
	}
	m, ok := idx.Membership(u.ID, groupID)
	return !ok || m.Status == models.MembershipStatusRemoved
}

// Check evaluates a capability by name. groupID is ignored for
// organization-level capabilities. Unknown capabilities are denied.
func Check(c Capability, u models.User, groupID uint, idx *membership.Index) bool {
	switch c {
	case AccessAdminPanel:
		return CanAccessAdminPanel(u)
	case ManageUsers:
		return CanManageUsers(u)
	case ViewAllGroups:
		return CanViewAllGroups(u)
	case CreateGroups:
		return CanCreateGroups(u)
	case ViewAnalytics:
		return CanViewAnalytics(u)
	case ManageGroup:
		return CanManageGroup(u, groupID, idx)
	case InviteToGroup:
		return CanInviteToGroup(u, groupID, idx)
	case ViewGroup:
		return CanViewGroup(u, groupID, idx)
	case RequestMembership:
		return CanRequestMembership(u, groupID, idx)
	}
	return false
}
