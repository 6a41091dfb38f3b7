package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/directory"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/permissions"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errRootOwner = errors.New("root owner cannot be deactivated")
	errLastOwner = errors.New("last active owner cannot be deactivated")
)

// Handler handles authentication requests
type Handler struct {
	db    *gorm.DB
	store *directory.Store
	log   *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(db *gorm.DB, store *directory.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: db, store: store, log: log}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID     uint   `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
	IsRoot bool   `json:"is_root"`
}

// MeResponse is the current user plus the capabilities resolved for them
type MeResponse struct {
	UserResponse
	Permissions permissions.Summary `json:"permissions"`
}

// NewUserResponse converts a user into its response form
func NewUserResponse(u models.User) UserResponse {
	return UserResponse{
		ID:     u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Role:   string(u.Role),
		Status: string(u.Status),
		IsRoot: u.IsRoot,
	}
}

// Register handles user registration
// @Summary Register a new user
// @Description Create a new MEMBER account and receive a JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration details"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 409 {object} map[string]string "Email already registered"
// @Router /auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db := h.db.WithContext(c.Request.Context())

	var existingUser models.User
	if err := db.Unscoped().Where("email = ?", req.Email).First(&existingUser).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}

	hashedPassword, err := HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	user := models.User{
		Email:        req.Email,
		PasswordHash: hashedPassword,
		Name:         req.Name,
		Role:         roles.OrgRoleMember,
		Status:       models.UserStatusActive,
	}
	if err := db.Create(&user).Error; err != nil {
		h.log.Error("create user", zap.String("email", req.Email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	token, err := GenerateToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{
		Token: token,
		User:  NewUserResponse(user),
	})
}

// Login handles user login
// @Summary Login
// @Description Authenticate with email and password and receive a JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} map[string]string "Invalid credentials"
// @Failure 403 {object} map[string]string "Account is not active"
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db := h.db.WithContext(c.Request.Context())

	var user models.User
	if err := db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if !CheckPassword(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if user.Status != models.UserStatusActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account is not active"})
		return
	}

	now := time.Now()
	if err := db.Model(&models.User{}).Where("id = ?", user.ID).Update("last_login_at", now).Error; err != nil {
		h.log.Warn("update last login", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	token, err := GenerateToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token: token,
		User:  NewUserResponse(user),
	})
}

// Me returns the current authenticated user and their capabilities
// @Summary Get current user
// @Description Get the authenticated user's profile and resolved permissions
// @Tags auth
// @Produce json
// @Success 200 {object} MeResponse
// @Failure 401 {object} map[string]string "Authentication required"
// @Security BearerAuth
// @Router /auth/me [get]
func (h *Handler) Me(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	idx, err := h.store.UserIndex(c.Request.Context(), user.ID)
	if err != nil {
		h.log.Error("load memberships", zap.Uint("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load permissions"})
		return
	}

	c.JSON(http.StatusOK, MeResponse{
		UserResponse: NewUserResponse(user),
		Permissions:  permissions.Summarize(user, idx),
	})
}

// Logout handles user logout (client-side token invalidation)
// @Summary Logout
// @Description Logout the current user (client-side token invalidation)
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logged out successfully"
// @Router /auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Deactivate lets a user deactivate their own account
// @Summary Deactivate own account
// @Description Set the current user's status to INACTIVE. The root owner and the last active owner cannot deactivate.
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Account deactivated"
// @Failure 400 {object} map[string]string "Account cannot be deactivated"
// @Security BearerAuth
// @Router /auth/deactivate [post]
func (h *Handler) Deactivate(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if user.IsRoot {
			return errRootOwner
		}
		if user.Role == roles.OrgRoleOwner {
			others, err := directory.ActiveOwnerCount(tx, user.ID)
			if err != nil {
				return err
			}
			if others == 0 {
				return errLastOwner
			}
		}
		return tx.Model(&models.User{}).Where("id = ?", user.ID).Update("status", models.UserStatusInactive).Error
	})

	switch {
	case errors.Is(err, errRootOwner):
		c.JSON(http.StatusBadRequest, gin.H{"error": "The root owner account cannot be deactivated"})
	case errors.Is(err, errLastOwner):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot deactivate the last active owner"})
	case err != nil:
		h.log.Error("deactivate account", zap.Uint("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate account"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Account deactivated"})
	}
}

// RegisterRoutes registers auth routes on the given router group.
// authn guards the routes that need a signed-in user.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authn gin.HandlerFunc) {
	rg.POST("/register", h.Register)
	rg.POST("/login", h.Login)
	rg.POST("/logout", h.Logout)
	rg.GET("/me", authn, h.Me)
	rg.POST("/deactivate", authn, h.Deactivate)
}
