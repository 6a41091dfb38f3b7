package importexport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/auth"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/directory"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
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
	models.AutoMigrate(db)
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, email string, role roles.OrgRole) models.User {
	hash, _ := auth.HashPassword("password123")
	user := models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         "Test User",
		Role:         role,
		Status:       models.UserStatusActive,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(db, directory.NewStore(db, nil), nil, nil)

	api := r.Group("/api/admin")
	api.Use(auth.AuthMiddleware(db))
	handler.RegisterRoutes(api)

	return r
}

func getAuthHeader(user models.User) string {
	token, _ := auth.GenerateToken(user.ID, user.Email, string(user.Role))
	return "Bearer " + token
}

func doRequest(router *gin.Engine, method, path string, user models.User, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", getAuthHeader(user))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestExport(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	admin := createTestUser(t, db, "admin@example.com", roles.OrgRoleAdmin)
	member := createTestUser(t, db, "member@example.com", roles.OrgRoleMember)

	group := models.Group{Name: "Finance", Type: models.GroupTypeDepartment, IsActive: true}
	db.Create(&group)
	db.Create(&models.GroupMembership{UserID: member.ID, GroupID: group.ID, Role: roles.GroupRoleAdmin, Status: models.MembershipStatusActive})

	resp := doRequest(router, "GET", "/api/admin/directory/export?download=true", admin, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Header().Get("Content-Disposition") == "" {
		t.Error("Expected Content-Disposition header for download")
	}
	if bytes.Contains(resp.Body.Bytes(), []byte("password")) {
		t.Error("Export must not contain credentials")
	}

	var doc Directory
	json.Unmarshal(resp.Body.Bytes(), &doc)

	if len(doc.Users) != 2 {
		t.Errorf("Expected 2 users, got %d", len(doc.Users))
	}
	if len(doc.Groups) != 1 || doc.Groups[0].Type != "DEPARTMENT" {
		t.Errorf("Unexpected groups: %+v", doc.Groups)
	}
	if len(doc.Memberships) != 1 {
		t.Fatalf("Expected 1 membership, got %d", len(doc.Memberships))
	}
	m := doc.Memberships[0]
	if m.Email != member.Email || m.GroupName != "Finance" || m.Role != "ADMIN" {
		t.Errorf("Unexpected membership: %+v", m)
	}
}

func TestExportRequiresManageUsers(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	manager := createTestUser(t, db, "manager@example.com", roles.OrgRoleTeamManager)

	resp := doRequest(router, "GET", "/api/admin/directory/export", manager, nil)
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.Code)
	}
	resp = doRequest(router, "POST", "/api/admin/directory/import", manager, Directory{})
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.Code)
	}
}

func TestImport(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	admin := createTestUser(t, db, "admin@example.com", roles.OrgRoleAdmin)
	createTestUser(t, db, "existing@example.com", roles.OrgRoleMember)

	inactive := false
	doc := Directory{
		Users: []ExportUser{
			{Email: "alice@example.com", Name: "Alice", Role: "team_manager"},
			{Email: "bob@example.com", Name: "Bob", Role: "MEMBER", Status: "SUSPENDED"},
			{Email: "existing@example.com", Name: "Dup"},
			{Email: "boss@example.com", Name: "Boss", Role: "OWNER"},
			{Email: "weird@example.com", Role: "EMPEROR"},
		},
		Groups: []ExportGroup{
			{Name: "Engineering", Type: "DEPARTMENT", Visibility: "PUBLIC"},
			{Name: "Old Guild", Type: "FUNCTIONAL", IsActive: &inactive},
			{Name: "Broken", Type: "SQUAD"},
		},
		Memberships: []ExportMembership{
			{Email: "alice@example.com", GroupName: "Engineering", GroupType: "DEPARTMENT", Role: "ADMIN", JoinedAt: "2024-01-02T15:04:05Z"},
			{Email: "bob@example.com", GroupName: "Engineering", GroupType: "DEPARTMENT", Status: "PENDING"},
			{Email: "alice@example.com", GroupName: "Engineering", GroupType: "DEPARTMENT"},
			{Email: "ghost@example.com", GroupName: "Engineering", GroupType: "DEPARTMENT"},
			{Email: "alice@example.com", GroupName: "Nowhere", GroupType: "DEPARTMENT"},
		},
	}

	resp := doRequest(router, "POST", "/api/admin/directory/import", admin, doc)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var result ImportResult
	json.Unmarshal(resp.Body.Bytes(), &result)

	// 2 users + 2 groups + 2 memberships
	if result.Imported != 6 {
		t.Errorf("Expected 6 imported, got %d (%v)", result.Imported, result.Errors)
	}
	if result.Skipped != 7 {
		t.Errorf("Expected 7 skipped, got %d (%v)", result.Skipped, result.Errors)
	}
	if len(result.Errors) != result.Skipped {
		t.Errorf("Expected one error per skipped row, got %v", result.Errors)
	}

	var boss int64
	db.Model(&models.User{}).Where("email = ?", "boss@example.com").Count(&boss)
	if boss != 0 {
		t.Error("An admin must not import owners")
	}

	var alice models.User
	db.Where("email = ?", "alice@example.com").First(&alice)
	if alice.Role != roles.OrgRoleTeamManager || alice.PasswordHash != "" {
		t.Errorf("Unexpected imported user: %+v", alice)
	}

	var guild models.Group
	db.Where("name = ?", "Old Guild").First(&guild)
	if guild.IsActive {
		t.Error("Expected Old Guild to be imported inactive")
	}

	var m models.GroupMembership
	db.Where("user_id = ?", alice.ID).First(&m)
	if m.Role != roles.GroupRoleAdmin || m.Status != models.MembershipStatusActive || m.JoinedAt.Year() != 2024 {
		t.Errorf("Unexpected imported membership: %+v", m)
	}
}

func TestOwnerMayImportOwners(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	owner := createTestUser(t, db, "owner@example.com", roles.OrgRoleOwner)

	doc := Directory{Users: []ExportUser{{Email: "coowner@example.com", Name: "Co-owner", Role: "OWNER"}}}
	resp := doRequest(router, "POST", "/api/admin/directory/import", owner, doc)

	var result ImportResult
	json.Unmarshal(resp.Body.Bytes(), &result)
	if result.Imported != 1 {
		t.Errorf("Expected owner import to succeed, got %+v", result)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	source := setupTestDB(t)
	admin := createTestUser(t, source, "admin@example.com", roles.OrgRoleAdmin)
	member := createTestUser(t, source, "member@example.com", roles.OrgRoleMember)
	group := models.Group{Name: "Ops", Type: models.GroupTypeFunctional, Visibility: models.VisibilityPublic, IsActive: true, AutoApprove: true}
	source.Create(&group)
	source.Create(&models.GroupMembership{UserID: member.ID, GroupID: group.ID, Role: roles.GroupRoleModerator, Status: models.MembershipStatusActive})

	resp := doRequest(setupTestRouter(source), "GET", "/api/admin/directory/export", admin, nil)
	var doc Directory
	json.Unmarshal(resp.Body.Bytes(), &doc)

	target := setupTestDB(t)
	targetAdmin := createTestUser(t, target, "admin@example.com", roles.OrgRoleAdmin)
	resp = doRequest(setupTestRouter(target), "POST", "/api/admin/directory/import", targetAdmin, doc)

	var result ImportResult
	json.Unmarshal(resp.Body.Bytes(), &result)
	// admin@example.com already exists in the target
	if result.Imported != 3 || result.Skipped != 1 {
		t.Errorf("Unexpected round trip result: %+v", result)
	}

	var copied models.Group
	target.Where("name = ?", "Ops").First(&copied)
	if copied.Visibility != models.VisibilityPublic || !copied.AutoApprove || !copied.IsActive {
		t.Errorf("Group attributes lost in round trip: %+v", copied)
	}
}
