// Package gate enforces capabilities at the API boundary.
package gate

import (
	"errors"
	"fmt"

	"github.com/mikepea/gatekeeper/pkg/gatekeeper/membership"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/permissions"
)

// ErrPermissionDenied is matched by every *PermissionDenied via errors.Is
var ErrPermissionDenied = errors.New("permission denied")

// Requirement names the capability an operation needs, and for group-scoped
// capabilities the group it applies to
type Requirement struct {
	Capability permissions.Capability
	GroupID    uint
}

// Require builds an organization-level requirement
func Require(c permissions.Capability) Requirement {
	return Requirement{Capability: c}
}

// RequireGroup builds a group-scoped requirement
func RequireGroup(c permissions.Capability, groupID uint) Requirement {
	return Requirement{Capability: c, GroupID: groupID}
}

// PermissionDenied reports a failed capability check
type PermissionDenied struct {
	Capability permissions.Capability
	UserID     uint
	GroupID    uint
}

func (e *PermissionDenied) Error() string {
	if e.GroupID != 0 {
		return fmt.Sprintf("permission denied: user %d lacks %s on group %d", e.UserID, e.Capability, e.GroupID)
	}
	return fmt.Sprintf("permission denied: user %d lacks %s", e.UserID, e.Capability)
}

// Is makes errors.Is(err, ErrPermissionDenied) hold for any *PermissionDenied
func (e *PermissionDenied) Is(target error) bool {
	return target == ErrPermissionDenied
}

// Check returns a *PermissionDenied when u does not satisfy req, nil otherwise
func Check(u models.User, req Requirement, idx *membership.Index) error {
	if permissions.Check(req.Capability, u, req.GroupID, idx) {
		return nil
	}
	return &PermissionDenied{Capability: req.Capability, UserID: u.ID, GroupID: req.GroupID}
}

// Guard runs action only when u satisfies req.
// The check is evaluated on every call; nothing is cached.
func Guard[T any](u models.User, req Requirement, idx *membership.Index, action func() (T, error)) (T, error) {
	if err := Check(u, req, idx); err != nil {
		var zero T
		return zero, err
	}
	return action()
}
