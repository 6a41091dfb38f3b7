package database

import (
	"path/filepath"
	"testing"

	"github.com/mikepea/gatekeeper/pkg/gatekeeper/auth"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
)

func connectTestDB(t *testing.T) {
	if err := Connect(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := DB.DB(); err == nil {
			sqlDB.Close()
		}
	})
}

func TestConnectMigrates(t *testing.T) {
	connectTestDB(t)

	for _, m := range models.AllModels() {
		if !GetDB().Migrator().HasTable(m) {
			t.Errorf("Expected table for %T", m)
		}
	}
}

func TestEnsureRootOwnerCreates(t *testing.T) {
	connectTestDB(t)
	db := GetDB()

	owner := RootOwner{Email: "root@example.com", Name: "Root", Password: "s3cret"}
	root, err := EnsureRootOwner(db, owner, nil)
	if err != nil {
		t.Fatalf("EnsureRootOwner failed: %v", err)
	}
	if !root.IsRoot || root.Role != roles.OrgRoleOwner || root.Status != models.UserStatusActive {
		t.Errorf("Unexpected root owner: %+v", root)
	}
	if !auth.CheckPassword("s3cret", root.PasswordHash) {
		t.Error("Expected configured password to be set")
	}

	// Second call is a no-op even with different settings
	again, err := EnsureRootOwner(db, RootOwner{Email: "other@example.com", Password: "x"}, nil)
	if err != nil {
		t.Fatalf("EnsureRootOwner failed: %v", err)
	}
	if again.ID != root.ID {
		t.Errorf("Expected existing root owner %d, got %d", root.ID, again.ID)
	}

	var count int64
	db.Model(&models.User{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected 1 user, got %d", count)
	}
}

func TestEnsureRootOwnerPromotesExisting(t *testing.T) {
	connectTestDB(t)
	db := GetDB()

	existing := models.User{Email: "lead@example.com", Name: "Lead", Role: roles.OrgRoleMember, Status: models.UserStatusSuspended}
	db.Create(&existing)

	root, err := EnsureRootOwner(db, RootOwner{Email: "lead@example.com", Password: "ignored"}, nil)
	if err != nil {
		t.Fatalf("EnsureRootOwner failed: %v", err)
	}
	if root.ID != existing.ID {
		t.Errorf("Expected user %d to be promoted, got %d", existing.ID, root.ID)
	}
	if !root.IsRoot || root.Role != roles.OrgRoleOwner || root.Status != models.UserStatusActive {
		t.Errorf("Unexpected promoted owner: %+v", root)
	}
}
