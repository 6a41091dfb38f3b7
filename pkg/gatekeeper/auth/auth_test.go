package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/directory"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
	"go.uber.org/zap"
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

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(db, directory.NewStore(db, zap.NewNop()), zap.NewNop())
	auth := r.Group("/auth")
	handler.RegisterRoutes(auth, AuthMiddleware(db))
	return r
}

func doJSON(router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func register(t *testing.T, router *gin.Engine, email string) AuthResponse {
	resp := doJSON(router, "POST", "/auth/register", "", RegisterRequest{
		Email:    email,
		Password: "password123",
		Name:     "Test User",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var response AuthResponse
	json.Unmarshal(resp.Body.Bytes(), &response)
	return response
}

func TestPasswordHashing(t *testing.T) {
	password := "testpassword123"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if hash == password {
		t.Error("Hash should not equal plain password")
	}

	if !CheckPassword(password, hash) {
		t.Error("CheckPassword should return true for correct password")
	}

	if CheckPassword("wrongpassword", hash) {
		t.Error("CheckPassword should return false for incorrect password")
	}

	if CheckPassword(password, "") {
		t.Error("CheckPassword should reject an empty hash")
	}
}

func TestJWTToken(t *testing.T) {
	token, err := GenerateToken(1, "test@example.com", "MEMBER")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	if claims.UserID != 1 {
		t.Errorf("Expected UserID 1, got %d", claims.UserID)
	}
	if claims.Email != "test@example.com" {
		t.Errorf("Expected email test@example.com, got %s", claims.Email)
	}
	if claims.Role != "MEMBER" {
		t.Errorf("Expected role MEMBER, got %s", claims.Role)
	}
	if claims.ID == "" {
		t.Error("Expected token ID to be set")
	}

	other, _ := GenerateToken(1, "test@example.com", "MEMBER")
	otherClaims, _ := ValidateToken(other)
	if otherClaims.ID == claims.ID {
		t.Error("Expected each token to carry a unique ID")
	}
}

func TestInvalidToken(t *testing.T) {
	_, err := ValidateToken("invalid-token")
	if err == nil {
		t.Error("Expected error for invalid token")
	}
}

func TestRegister(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	response := register(t, router, "test@example.com")

	if response.Token == "" {
		t.Error("Expected token in response")
	}
	if response.User.Email != "test@example.com" {
		t.Errorf("Expected email test@example.com, got %s", response.User.Email)
	}
	if response.User.Role != string(roles.OrgRoleMember) {
		t.Errorf("Expected role MEMBER, got %s", response.User.Role)
	}

	var groups int64
	db.Model(&models.Group{}).Count(&groups)
	if groups != 0 {
		t.Errorf("Registration should not create groups, got %d", groups)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	register(t, router, "test@example.com")

	resp := doJSON(router, "POST", "/auth/register", "", RegisterRequest{
		Email:    "test@example.com",
		Password: "password123",
		Name:     "Test User",
	})
	if resp.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", resp.Code)
	}
}

func TestLogin(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	register(t, router, "test@example.com")

	resp := doJSON(router, "POST", "/auth/login", "", LoginRequest{
		Email:    "test@example.com",
		Password: "password123",
	})
	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var response AuthResponse
	json.Unmarshal(resp.Body.Bytes(), &response)
	if response.Token == "" {
		t.Error("Expected token in response")
	}

	var user models.User
	db.Where("email = ?", "test@example.com").First(&user)
	if user.LastLoginAt == nil {
		t.Error("Expected last_login_at to be recorded")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	register(t, router, "test@example.com")

	resp := doJSON(router, "POST", "/auth/login", "", LoginRequest{
		Email:    "test@example.com",
		Password: "wrongpassword",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.Code)
	}
}

func TestLoginSuspendedAccount(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	register(t, router, "test@example.com")

	db.Model(&models.User{}).Where("email = ?", "test@example.com").Update("status", models.UserStatusSuspended)

	resp := doJSON(router, "POST", "/auth/login", "", LoginRequest{
		Email:    "test@example.com",
		Password: "password123",
	})
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.Code)
	}
}

func TestMe(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	authResponse := register(t, router, "test@example.com")

	resp := doJSON(router, "GET", "/auth/me", authResponse.Token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var me MeResponse
	json.Unmarshal(resp.Body.Bytes(), &me)
	if me.Email != "test@example.com" {
		t.Errorf("Expected email test@example.com, got %s", me.Email)
	}
	if me.Permissions.CanAccessAdminPanel || me.Permissions.CanCreateGroups {
		t.Errorf("Expected a MEMBER to have no org capabilities, got %+v", me.Permissions)
	}
}

func TestMeReflectsRoleChangeImmediately(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	authResponse := register(t, router, "test@example.com")

	db.Model(&models.User{}).Where("id = ?", authResponse.User.ID).Update("role", roles.OrgRoleAdmin)

	resp := doJSON(router, "GET", "/auth/me", authResponse.Token, nil)
	var me MeResponse
	json.Unmarshal(resp.Body.Bytes(), &me)
	if !me.Permissions.CanAccessAdminPanel {
		t.Error("Expected promoted user to reach the admin panel without a new token")
	}

	db.Model(&models.User{}).Where("id = ?", authResponse.User.ID).Update("status", models.UserStatusSuspended)
	resp = doJSON(router, "GET", "/auth/me", authResponse.Token, nil)
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected suspended user to be refused with 403, got %d", resp.Code)
	}
}

func TestMeWithoutAuth(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	resp := doJSON(router, "GET", "/auth/me", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.Code)
	}
}

func TestDeactivate(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	authResponse := register(t, router, "test@example.com")

	resp := doJSON(router, "POST", "/auth/deactivate", authResponse.Token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var user models.User
	db.First(&user, authResponse.User.ID)
	if user.Status != models.UserStatusInactive {
		t.Errorf("Expected INACTIVE, got %s", user.Status)
	}
}

func TestDeactivateLastOwner(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	owner := models.User{Email: "owner@example.com", Name: "Owner", Role: roles.OrgRoleOwner, Status: models.UserStatusActive}
	db.Create(&owner)
	token, _ := GenerateToken(owner.ID, owner.Email, string(owner.Role))

	resp := doJSON(router, "POST", "/auth/deactivate", token, nil)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d: %s", resp.Code, resp.Body.String())
	}

	second := models.User{Email: "second@example.com", Name: "Second", Role: roles.OrgRoleOwner, Status: models.UserStatusActive}
	db.Create(&second)
	resp = doJSON(router, "POST", "/auth/deactivate", token, nil)
	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200 once another owner exists, got %d", resp.Code)
	}
}

func TestDeactivateRootOwner(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	root := models.User{Email: "root@example.com", Name: "Root", Role: roles.OrgRoleOwner, Status: models.UserStatusActive, IsRoot: true}
	db.Create(&root)
	db.Create(&models.User{Email: "other@example.com", Name: "Other", Role: roles.OrgRoleOwner, Status: models.UserStatusActive})
	token, _ := GenerateToken(root.ID, root.Email, string(root.Role))

	resp := doJSON(router, "POST", "/auth/deactivate", token, nil)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.Code)
	}
}
