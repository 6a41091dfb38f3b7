package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
	"gorm.io/gorm"
)

// MembershipStatus represents the state of a user's membership in a group
type MembershipStatus string

const (
	MembershipStatusActive  MembershipStatus = "ACTIVE"
	MembershipStatusPending MembershipStatus = "PENDING"
	MembershipStatusRemoved MembershipStatus = "REMOVED"
)

// Valid reports whether s is a known membership status
func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipStatusActive, MembershipStatusPending, MembershipStatusRemoved:
		return true
	}
	return false
}

// ParseMembershipStatus converts a string into a MembershipStatus
func ParseMembershipStatus(s string) (MembershipStatus, error) {
	st := MembershipStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("membership status %q: %w", s, ErrInvalidEnum)
	}
	return st, nil
}

// GroupMembership links a user to a group with a group-scoped role.
// Rows are never deleted; removal sets Status to REMOVED.
type GroupMembership struct {
	ID        uint             `gorm:"primarykey" json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	UserID    uint             `gorm:"not null;uniqueIndex:idx_user_group" json:"user_id"`
	GroupID   uint             `gorm:"not null;uniqueIndex:idx_user_group;index" json:"group_id"`
	Role      roles.GroupRole  `gorm:"type:varchar(20);not null" json:"role"`
	Status    MembershipStatus `gorm:"type:varchar(20);not null" json:"status"`
	JoinedAt  time.Time        `json:"joined_at"`

	// Relationships
	User  User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Group Group `gorm:"foreignKey:GroupID" json:"group,omitempty"`
}

// BeforeSave fills defaults and rejects unknown enum values
func (m *GroupMembership) BeforeSave(tx *gorm.DB) error {
	if m.Role == "" {
		m.Role = roles.GroupRoleMember
	}
	if m.Status == "" {
		m.Status = MembershipStatusPending
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	if !m.Role.Valid() {
		return fmt.Errorf("membership role %q: %w", m.Role, roles.ErrUnknownRole)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("membership status %q: %w", m.Status, ErrInvalidEnum)
	}
	return nil
}
