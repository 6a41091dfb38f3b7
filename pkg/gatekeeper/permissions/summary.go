package permissions

import (
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/membership"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
)

// Summary is the set of capabilities a calling surface needs to render for a user
type Summary struct {
	CanAccessAdminPanel bool   `json:"can_access_admin_panel"`
	CanManageUsers      bool   `json:"can_manage_users"`
	CanViewAllGroups    bool   `json:"can_view_all_groups"`
	CanCreateGroups     bool   `json:"can_create_groups"`
	CanViewAnalytics    bool   `json:"can_view_analytics"`
	ManagedGroups       []uint `json:"managed_groups"`
}

// GroupSummary holds the per-group flags shown next to a group
type GroupSummary struct {
	CanEdit          bool `json:"can_edit"`
	CanDelete        bool `json:"can_delete"`
	CanManageMembers bool `json:"can_manage_members"`
	CanInvite        bool `json:"can_invite"`
	CanViewAnalytics bool `json:"can_view_analytics"`
	Orphaned         bool `json:"orphaned"`
}

// Summarize resolves every organization-level capability for the user
func Summarize(u models.User, idx *membership.Index) Summary {
	managed := []uint{}
	if u.IsActive() {
		managed = append(managed, idx.ManagedGroupIDs(u.ID)...)
	}
	return Summary{
		CanAccessAdminPanel: CanAccessAdminPanel(u),
		CanManageUsers:      CanManageUsers(u),
		CanViewAllGroups:    CanViewAllGroups(u),
		CanCreateGroups:     CanCreateGroups(u),
		CanViewAnalytics:    CanViewAnalytics(u),
		ManagedGroups:       managed,
	}
}

// SummarizeGroup resolves the per-group flags for the user.
// Group analytics follow group management: org admins and the group's own admins.
func SummarizeGroup(u models.User, groupID uint, idx *membership.Index) GroupSummary {
	manage := CanManageGroup(u, groupID, idx)
	return GroupSummary{
		CanEdit:          manage,
		CanDelete:        manage,
		CanManageMembers: manage,
		CanInvite:        CanInviteToGroup(u, groupID, idx),
		CanViewAnalytics: manage,
		Orphaned:         idx.IsOrphaned(groupID),
	}
}
