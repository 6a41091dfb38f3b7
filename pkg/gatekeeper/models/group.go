package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// GroupType classifies a group
type GroupType string

const (
	GroupTypeDepartment GroupType = "DEPARTMENT"
	GroupTypeFunctional GroupType = "FUNCTIONAL"
)

// Visibility controls whether non-members may discover and request to join a group
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// Valid reports whether t is a known group type
func (t GroupType) Valid() bool {
	return t == GroupTypeDepartment || t == GroupTypeFunctional
}

// Valid reports whether v is a known visibility
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// ParseGroupType converts a string into a GroupType
func ParseGroupType(s string) (GroupType, error) {
	t := GroupType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("group type %q: %w", s, ErrInvalidEnum)
	}
	return t, nil
}

// ParseVisibility converts a string into a Visibility
func ParseVisibility(s string) (Visibility, error) {
	v := Visibility(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("visibility %q: %w", s, ErrInvalidEnum)
	}
	return v, nil
}

// Group represents a department or functional team.
// Groups are never hard deleted; IsActive=false retires them.
type Group struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Name        string     `gorm:"not null;uniqueIndex:idx_group_type_name" json:"name"`
	Type        GroupType  `gorm:"type:varchar(20);not null;uniqueIndex:idx_group_type_name" json:"type"`
	Description string     `json:"description"`
	Visibility  Visibility `gorm:"type:varchar(20);not null" json:"visibility"`
	IsActive    bool       `json:"is_active"`
	AutoApprove bool       `json:"auto_approve"`
	CreatedByID uint       `json:"created_by_id"`

	// Relationships
	Members []GroupMembership `gorm:"foreignKey:GroupID" json:"members,omitempty"`
}

// BeforeSave fills defaults and rejects unknown enum values
func (g *Group) BeforeSave(tx *gorm.DB) error {
	if g.Type == "" {
		g.Type = GroupTypeFunctional
	}
	if g.Visibility == "" {
		g.Visibility = VisibilityPrivate
	}
	if !g.Type.Valid() {
		return fmt.Errorf("group type %q: %w", g.Type, ErrInvalidEnum)
	}
	if !g.Visibility.Valid() {
		return fmt.Errorf("visibility %q: %w", g.Visibility, ErrInvalidEnum)
	}
	return nil
}
