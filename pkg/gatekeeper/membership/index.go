// Package membership builds an immutable, queryable view of who belongs to which group.
package membership

import (
	"sort"

	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
)

// Snapshot is a point-in-time read of directory data
type Snapshot struct {
	Users       []models.User
	Groups      []models.Group
	Memberships []models.GroupMembership
}

type key struct {
	userID  uint
	groupID uint
}

// Index answers membership queries over a Snapshot.
// It is immutable after Build and safe for concurrent reads.
// A nil *Index behaves as an empty index.
type Index struct {
	users     map[uint]models.User
	groups    map[uint]models.Group
	order     []uint
	byUser    map[uint]map[uint]models.GroupMembership
	byGroup   map[uint][]uint
	admins    map[uint][]uint
	discarded []InconsistentSnapshotError
}

// Build indexes a snapshot. It never fails: rows that reference unknown users
// or groups, or carry an unknown role or status, are excluded and recorded.
// Duplicate (user, group) rows keep the latest JoinedAt; ties go to the later row.
func Build(s Snapshot) *Index {
	idx := &Index{
		users:   make(map[uint]models.User, len(s.Users)),
		groups:  make(map[uint]models.Group, len(s.Groups)),
		byUser:  make(map[uint]map[uint]models.GroupMembership),
		byGroup: make(map[uint][]uint),
		admins:  make(map[uint][]uint),
	}
	for _, u := range s.Users {
		idx.users[u.ID] = u
	}
	for _, g := range s.Groups {
		if _, dup := idx.groups[g.ID]; !dup {
			idx.order = append(idx.order, g.ID)
		}
		idx.groups[g.ID] = g
	}

	latest := make(map[key]models.GroupMembership)
	for _, m := range s.Memberships {
		if reason := idx.reject(m); reason != "" {
			idx.discarded = append(idx.discarded, InconsistentSnapshotError{UserID: m.UserID, GroupID: m.GroupID, Reason: reason})
			continue
		}
		k := key{m.UserID, m.GroupID}
		if prev, ok := latest[k]; ok && prev.JoinedAt.After(m.JoinedAt) {
			continue
		}
		latest[k] = m
	}

	for k, m := range latest {
		groups, ok := idx.byUser[k.userID]
		if !ok {
			groups = make(map[uint]models.GroupMembership)
			idx.byUser[k.userID] = groups
		}
		groups[k.groupID] = m
		idx.byGroup[k.groupID] = append(idx.byGroup[k.groupID], k.userID)

		if m.Status == models.MembershipStatusActive && m.Role == roles.GroupRoleAdmin {
			if u := idx.users[k.userID]; u.IsActive() {
				idx.admins[k.groupID] = append(idx.admins[k.groupID], k.userID)
			}
		}
	}
	for _, ids := range idx.admins {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	for _, ids := range idx.byGroup {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return idx
}

func (idx *Index) reject(m models.GroupMembership) string {
	if _, ok := idx.users[m.UserID]; !ok {
		return "unknown user"
	}
	if _, ok := idx.groups[m.GroupID]; !ok {
		return "unknown group"
	}
	if !m.Role.Valid() {
		return "invalid role " + string(m.Role)
	}
	if !m.Status.Valid() {
		return "invalid status " + string(m.Status)
	}
	return ""
}

// MembershipsOf returns the user's memberships keyed by group ID.
// The returned map is a copy and may be modified by the caller.
func (idx *Index) MembershipsOf(userID uint) map[uint]models.GroupMembership {
	out := make(map[uint]models.GroupMembership)
	if idx == nil {
		return out
	}
	for gid, m := range idx.byUser[userID] {
		out[gid] = m
	}
	return out
}

// Membership returns the user's membership in a group, if indexed
func (idx *Index) Membership(userID, groupID uint) (models.GroupMembership, bool) {
	if idx == nil {
		return models.GroupMembership{}, false
	}
	m, ok := idx.byUser[userID][groupID]
	return m, ok
}

// MembersOf returns every indexed membership of a group, whatever its status, ordered by user ID
func (idx *Index) MembersOf(groupID uint) []models.GroupMembership {
	if idx == nil {
		return nil
	}
	out := make([]models.GroupMembership, 0, len(idx.byGroup[groupID]))
	for _, uid := range idx.byGroup[groupID] {
		out = append(out, idx.byUser[uid][groupID])
	}
	return out
}

// Groups returns the indexed groups in snapshot order
func (idx *Index) Groups() []models.Group {
	if idx == nil {
		return nil
	}
	out := make([]models.Group, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.groups[id])
	}
	return out
}

// AdminsOf returns the IDs of active users holding an ACTIVE ADMIN membership, ascending
func (idx *Index) AdminsOf(groupID uint) []uint {
	if idx == nil {
		return nil
	}
	ids := idx.admins[groupID]
	out := make([]uint, len(ids))
	copy(out, ids)
	return out
}

// Group returns an indexed group
func (idx *Index) Group(groupID uint) (models.Group, bool) {
	if idx == nil {
		return models.Group{}, false
	}
	g, ok := idx.groups[groupID]
	return g, ok
}

// User returns an indexed user
func (idx *Index) User(userID uint) (models.User, bool) {
	if idx == nil {
		return models.User{}, false
	}
	u, ok := idx.users[userID]
	return u, ok
}

// Grants reports whether the user holds a granting membership in the group
// at or above minRole. A membership grants only when it is ACTIVE, its user
// is active and its group is active.
func (idx *Index) Grants(userID, groupID uint, minRole roles.GroupRole) bool {
	m, ok := idx.Membership(userID, groupID)
	if !ok || m.Status != models.MembershipStatusActive {
		return false
	}
	if u, ok := idx.User(userID); !ok || !u.IsActive() {
		return false
	}
	if g, ok := idx.Group(groupID); !ok || !g.IsActive {
		return false
	}
	return roles.AtLeast(m.Role, minRole)
}

// IsOrphaned reports whether an indexed group has no active admin
func (idx *Index) IsOrphaned(groupID uint) bool {
	if _, ok := idx.Group(groupID); !ok {
		return false
	}
	return len(idx.admins[groupID]) == 0
}

// ManagedGroupIDs returns the groups in which the user's membership grants ADMIN, ascending
func (idx *Index) ManagedGroupIDs(userID uint) []uint {
	if idx == nil {
		return nil
	}
	var ids []uint
	for gid := range idx.byUser[userID] {
		if idx.Grants(userID, gid, roles.GroupRoleAdmin) {
			ids = append(ids, gid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OrphanedGroupIDs returns active groups without an active admin, ascending
func (idx *Index) OrphanedGroupIDs() []uint {
	if idx == nil {
		return nil
	}
	var ids []uint
	for gid, g := range idx.groups {
		if g.IsActive && len(idx.admins[gid]) == 0 {
			ids = append(ids, gid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DiscardedCount returns how many rows Build excluded
func (idx *Index) DiscardedCount() int {
	if idx == nil {
		return 0
	}
	return len(idx.discarded)
}

// Discarded returns the excluded rows as errors, in input order
func (idx *Index) Discarded() []error {
	if idx == nil {
		return nil
	}
	out := make([]error, len(idx.discarded))
	for i := range idx.discarded {
		e := idx.discarded[i]
		out[i] = &e
	}
	return out
}
