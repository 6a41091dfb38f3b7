package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
	"gorm.io/gorm"
)

// ErrInvalidEnum is returned when a status, type or visibility value is not recognised
var ErrInvalidEnum = errors.New("invalid enum value")

// UserStatus represents the lifecycle state of a user account
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusInactive  UserStatus = "INACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// Valid reports whether s is a known user status
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusInactive, UserStatusSuspended:
		return true
	}
	return false
}

// ParseUserStatus converts a string into a UserStatus
func ParseUserStatus(s string) (UserStatus, error) {
	st := UserStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("user status %q: %w", s, ErrInvalidEnum)
	}
	return st, nil
}

// User represents a user in the directory
type User struct {
	ID           uint           `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	Email        string         `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string         `json:"-"`
	Name         string         `gorm:"not null" json:"name"`
	Role         roles.OrgRole  `gorm:"type:varchar(20);not null" json:"role"`
	Status       UserStatus     `gorm:"type:varchar(20);not null" json:"status"`
	IsRoot       bool           `json:"is_root"` // Designated root owner, cannot be deleted or demoted
	LastLoginAt  *time.Time     `json:"last_login_at,omitempty"`

	// Relationships
	GroupMemberships []GroupMembership `gorm:"foreignKey:UserID" json:"group_memberships,omitempty"`
	APIKeys          []APIKey          `gorm:"foreignKey:UserID" json:"api_keys,omitempty"`
}

// IsActive reports whether the account may be granted anything at all
func (u *User) IsActive() bool {
	return u.ID != 0 && !u.DeletedAt.Valid && u.Status == UserStatusActive
}

// BeforeSave fills defaults and rejects unknown enum values
func (u *User) BeforeSave(tx *gorm.DB) error {
	if u.Role == "" {
		u.Role = roles.OrgRoleMember
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if !u.Role.Valid() {
		return fmt.Errorf("user role %q: %w", u.Role, roles.ErrUnknownRole)
	}
	if !u.Status.Valid() {
		return fmt.Errorf("user status %q: %w", u.Status, ErrInvalidEnum)
	}
	return nil
}
