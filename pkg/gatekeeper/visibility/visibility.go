// Package visibility decides which groups a user may list.
package visibility

import (
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/membership"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/permissions"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
)

// Filter returns the groups from all that the user may see, preserving input order.
// Users who can view all groups see every active group; everyone else sees only
// active groups in which they hold a granting membership. Public visibility
// alone does not list a group.
func Filter(u models.User, all []models.Group, idx *membership.Index) []models.Group {
	out := make([]models.Group, 0, len(all))
	if !u.IsActive() {
		return out
	}
	viewAll := permissions.CanViewAllGroups(u)
	for _, g := range all {
		if !g.IsActive {
			continue
		}
		if viewAll || idx.Grants(u.ID, g.ID, roles.GroupRoleMember) {
			out = append(out, g)
		}
	}
	return out
}

// Discoverable returns active public groups the user may request to join, preserving input order
func Discoverable(u models.User, all []models.Group, idx *membership.Index) []models.Group {
	out := make([]models.Group, 0)
	for _, g := range all {
		if permissions.CanRequestMembership(u, g.ID, idx) {
			out = append(out, g)
		}
	}
	return out
}
