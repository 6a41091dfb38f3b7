package models

import (
	"errors"
	"testing"
	"time"

	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}
	return db
}

func TestAutoMigrate(t *testing.T) {
	db := setupTestDB(t)

	tables := []string{"users", "groups", "group_memberships", "api_keys"}
	for _, table := range tables {
		if !db.Migrator().HasTable(table) {
			t.Errorf("Expected table %s to exist", table)
		}
	}
}

func TestUserDefaults(t *testing.T) {
	db := setupTestDB(t)

	user := User{Email: "test@example.com", Name: "Test User"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	if user.Role != roles.OrgRoleMember {
		t.Errorf("Expected default role MEMBER, got %s", user.Role)
	}
	if user.Status != UserStatusActive {
		t.Errorf("Expected default status ACTIVE, got %s", user.Status)
	}
	if !user.IsActive() {
		t.Error("Expected new user to be active")
	}

	dup := User{Email: "test@example.com", Name: "Another"}
	if err := db.Create(&dup).Error; err == nil {
		t.Error("Expected error when creating user with duplicate email")
	}
}

func TestUserRejectsUnknownRole(t *testing.T) {
	db := setupTestDB(t)

	user := User{Email: "x@example.com", Name: "X", Role: roles.OrgRole("SUPERUSER")}
	err := db.Create(&user).Error
	if !errors.Is(err, roles.ErrUnknownRole) {
		t.Errorf("Expected ErrUnknownRole, got %v", err)
	}

	user = User{Email: "y@example.com", Name: "Y", Status: UserStatus("BANNED")}
	err = db.Create(&user).Error
	if !errors.Is(err, ErrInvalidEnum) {
		t.Errorf("Expected ErrInvalidEnum, got %v", err)
	}
}

func TestUserIsActive(t *testing.T) {
	tests := []struct {
		name string
		user User
		want bool
	}{
		{"active", User{ID: 1, Status: UserStatusActive}, true},
		{"unsaved", User{Status: UserStatusActive}, false},
		{"suspended", User{ID: 1, Status: UserStatusSuspended}, false},
		{"inactive", User{ID: 1, Status: UserStatusInactive}, false},
		{"tombstoned", User{ID: 1, Status: UserStatusActive, DeletedAt: gorm.DeletedAt{Time: time.Now(), Valid: true}}, false},
	}
	for _, tt := range tests {
		if got := tt.user.IsActive(); got != tt.want {
			t.Errorf("%s: IsActive() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGroupNameUniqueWithinType(t *testing.T) {
	db := setupTestDB(t)

	if err := db.Create(&Group{Name: "Engineering", Type: GroupTypeDepartment, IsActive: true}).Error; err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	if err := db.Create(&Group{Name: "Engineering", Type: GroupTypeFunctional, IsActive: true}).Error; err != nil {
		t.Errorf("Same name with a different type should be allowed: %v", err)
	}
	if err := db.Create(&Group{Name: "Engineering", Type: GroupTypeDepartment}).Error; err == nil {
		t.Error("Expected error when creating duplicate name within a type")
	}
}

func TestGroupDefaults(t *testing.T) {
	db := setupTestDB(t)

	group := Group{Name: "Guild"}
	if err := db.Create(&group).Error; err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	if group.Type != GroupTypeFunctional || group.Visibility != VisibilityPrivate {
		t.Errorf("Unexpected defaults: type=%s visibility=%s", group.Type, group.Visibility)
	}

	bad := Group{Name: "Bad", Visibility: Visibility("SECRET")}
	if err := db.Create(&bad).Error; !errors.Is(err, ErrInvalidEnum) {
		t.Errorf("Expected ErrInvalidEnum, got %v", err)
	}
}

func TestGroupMembership(t *testing.T) {
	db := setupTestDB(t)

	user := User{Email: "test@example.com", Name: "Test User"}
	db.Create(&user)
	group := Group{Name: "Test Group", IsActive: true}
	db.Create(&group)

	membership := GroupMembership{UserID: user.ID, GroupID: group.ID}
	if err := db.Create(&membership).Error; err != nil {
		t.Fatalf("Failed to create membership: %v", err)
	}
	if membership.Status != MembershipStatusPending {
		t.Errorf("Expected default status PENDING, got %s", membership.Status)
	}
	if membership.Role != roles.GroupRoleMember {
		t.Errorf("Expected default role MEMBER, got %s", membership.Role)
	}
	if membership.JoinedAt.IsZero() {
		t.Error("Expected JoinedAt to be set")
	}

	dup := GroupMembership{UserID: user.ID, GroupID: group.ID, Status: MembershipStatusActive}
	if err := db.Create(&dup).Error; err == nil {
		t.Error("Expected error on duplicate (user, group) membership")
	}

	var loaded User
	db.Preload("GroupMemberships").First(&loaded, user.ID)
	if len(loaded.GroupMemberships) != 1 {
		t.Errorf("Expected 1 membership, got %d", len(loaded.GroupMemberships))
	}
}

func TestParseEnums(t *testing.T) {
	if s, err := ParseUserStatus("suspended"); err != nil || s != UserStatusSuspended {
		t.Errorf("ParseUserStatus: got %s, %v", s, err)
	}
	if _, err := ParseUserStatus("gone"); !errors.Is(err, ErrInvalidEnum) {
		t.Errorf("Expected ErrInvalidEnum, got %v", err)
	}
	if s, err := ParseMembershipStatus(" removed "); err != nil || s != MembershipStatusRemoved {
		t.Errorf("ParseMembershipStatus: got %s, %v", s, err)
	}
	if v, err := ParseVisibility("public"); err != nil || v != VisibilityPublic {
		t.Errorf("ParseVisibility: got %s, %v", v, err)
	}
	if g, err := ParseGroupType("Department"); err != nil || g != GroupTypeDepartment {
		t.Errorf("ParseGroupType: got %s, %v", g, err)
	}
	if _, err := ParseGroupType("TEAM"); !errors.Is(err, ErrInvalidEnum) {
		t.Errorf("Expected ErrInvalidEnum, got %v", err)
	}
}
