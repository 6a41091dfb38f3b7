package visibility

import (
	"testing"
	"time"

	"github.com/mikepea/gatekeeper/pkg/gatekeeper/membership"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/permissions"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groups() []models.Group {
	return []models.Group{
		{ID: 5, Name: "Sales", Visibility: models.VisibilityPrivate, IsActive: true},
		{ID: 2, Name: "Finance", Visibility: models.VisibilityPrivate, IsActive: true},
		{ID: 9, Name: "Archive", Visibility: models.VisibilityPrivate, IsActive: false},
		{ID: 7, Name: "Runners", Visibility: models.VisibilityPublic, IsActive: true},
	}
}

func build(u models.User, ms ...models.GroupMembership) *membership.Index {
	return membership.Build(membership.Snapshot{Users: []models.User{u}, Groups: groups(), Memberships: ms})
}

func ms(uid, gid uint, status models.MembershipStatus) models.GroupMembership {
	return models.GroupMembership{UserID: uid, GroupID: gid, Role: roles.GroupRoleMember, Status: status, JoinedAt: time.Now()}
}

func names(gs []models.Group) []string {
	out := []string{}
	for _, g := range gs {
		out = append(out, g.Name)
	}
	return out
}

func TestAdminSeesAllActiveGroupsInOrder(t *testing.T) {
	admin := models.User{ID: 1, Role: roles.OrgRoleAdmin, Status: models.UserStatusActive}
	got := Filter(admin, groups(), build(admin))
	assert.Equal(t, []string{"Sales", "Finance", "Runners"}, names(got))
}

func TestMemberSeesOnlyActiveMemberships(t *testing.T) {
	u := models.User{ID: 1, Role: roles.OrgRoleTeamManager, Status: models.UserStatusActive}
	idx := build(u,
		ms(1, 2, models.MembershipStatusActive),
		ms(1, 5, models.MembershipStatusPending),
		ms(1, 9, models.MembershipStatusActive),
	)
	assert.Equal(t, []string{"Finance"}, names(Filter(u, groups(), idx)))
}

func TestOwnerEmptyCatalog(t *testing.T) {
	owner := models.User{ID: 1, Role: roles.OrgRoleOwner, Status: models.UserStatusActive}
	got := Filter(owner, nil, membership.Build(membership.Snapshot{Users: []models.User{owner}}))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSuspendedSeesNothing(t *testing.T) {
	u := models.User{ID: 1, Role: roles.OrgRoleOwner, Status: models.UserStatusSuspended}
	assert.Empty(t, Filter(u, groups(), build(u, ms(1, 2, models.MembershipStatusActive))))
}

func TestSubsetLaw(t *testing.T) {
	all := groups()
	for _, role := range roles.OrgRoles() {
		for _, st := range []models.MembershipStatus{models.MembershipStatusActive, models.MembershipStatusPending, models.MembershipStatusRemoved} {
			u := models.User{ID: 1, Role: role, Status: models.UserStatusActive}
			idx := build(u, ms(1, 2, st), ms(1, 7, models.MembershipStatusActive))
			got := Filter(u, all, idx)

			ids := map[uint]bool{}
			for _, g := range all {
				ids[g.ID] = true
			}
			for _, g := range got {
				require.True(t, ids[g.ID], "group %d not in input", g.ID)
				assert.True(t, permissions.CanViewGroup(u, g.ID, idx))
				if !permissions.CanViewAllGroups(u) {
					m, ok := idx.MembershipsOf(u.ID)[g.ID]
					require.True(t, ok)
					assert.Equal(t, models.MembershipStatusActive, m.Status)
				}
			}
		}
	}
}

func TestDiscoverable(t *testing.T) {
	u := models.User{ID: 1, Role: roles.OrgRoleMember, Status: models.UserStatusActive}
	assert.Equal(t, []string{"Runners"}, names(Discoverable(u, groups(), build(u))))
	assert.Empty(t, Discoverable(u, groups(), build(u, ms(1, 7, models.MembershipStatusActive))))
}
