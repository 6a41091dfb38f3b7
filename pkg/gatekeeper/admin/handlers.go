package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/auth"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/directory"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/gate"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/permissions"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errSelfDemotion   = errors.New("cannot demote yourself")
	errSelfSuspension = errors.New("cannot suspend yourself")
	errSelfDeletion   = errors.New("cannot delete yourself")
	errHigherRank     = errors.New("cannot modify a user with a higher role")
	errRoleAboveOwn   = errors.New("cannot grant a role above your own")
	errRootOwner      = errors.New("the root owner must remain an active owner")
	errLastOwner      = errors.New("the last active owner must remain an active owner")
)

// Handler handles admin requests
type Handler struct {
	db      *gorm.DB
	store   *directory.Store
	log     *zap.Logger
	denials gate.DenialRecorder
}

// NewHandler creates a new admin handler
func NewHandler(db *gorm.DB, store *directory.Store, log *zap.Logger, denials gate.DenialRecorder) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: db, store: store, log: log, denials: denials}
}

// UserResponse represents user data in admin responses
type UserResponse struct {
	ID          uint       `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	IsRoot      bool       `json:"is_root"`
	CreatedAt   string     `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	GroupCount  int64      `json:"group_count"`
	APIKeyCount int64      `json:"api_key_count"`
}

// UpdateUserRequest represents the request to update a user
type UpdateUserRequest struct {
	Name   *string `json:"name"`
	Role   *string `json:"role"`
	Status *string `json:"status"`
}

// StatsResponse represents directory statistics
type StatsResponse struct {
	TotalUsers         int64            `json:"total_users"`
	ActiveUsers        int64            `json:"active_users"`
	InactiveUsers      int64            `json:"inactive_users"`
	SuspendedUsers     int64            `json:"suspended_users"`
	UsersByRole        map[string]int64 `json:"users_by_role"`
	TotalGroups        int64            `json:"total_groups"`
	ActiveGroups       int64            `json:"active_groups"`
	PublicGroups       int64            `json:"public_groups"`
	OrphanedGroups     []uint           `json:"orphaned_groups"`
	ActiveMemberships  int64            `json:"active_memberships"`
	PendingMemberships int64            `json:"pending_memberships"`
	ActiveAPIKeys      int64            `json:"active_api_keys"`
	DiscardedRows      int              `json:"discarded_rows"`
}

func (h *Handler) userResponse(db *gorm.DB, user models.User) UserResponse {
	var groupCount, keyCount int64
	db.Model(&models.GroupMembership{}).
		Where("user_id = ? AND status = ?", user.ID, models.MembershipStatusActive).Count(&groupCount)
	db.Model(&models.APIKey{}).Where("user_id = ?", user.ID).Count(&keyCount)

	return UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		Role:        string(user.Role),
		Status:      string(user.Status),
		IsRoot:      user.IsRoot,
		CreatedAt:   user.CreatedAt.Format("2006-01-02T15:04:05Z"),
		LastLoginAt: user.LastLoginAt,
		GroupCount:  groupCount,
		APIKeyCount: keyCount,
	}
}

// authorize renders a denial and reports false when the caller lacks capability
func (h *Handler) authorize(c *gin.Context, capability permissions.Capability) (models.User, bool) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return models.User{}, false
	}
	if err := gate.Check(user, gate.Require(capability), nil); err != nil {
		gate.Abort(c, err, h.denials)
		return models.User{}, false
	}
	return user, true
}

func parseUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return 0, false
	}
	return uint(id), true
}

// ListUsers returns all users
// @Summary List users
// @Description Search users by email or name and filter by role or status (admin only)
// @Tags admin
// @Produce json
// @Param q query string false "Search text"
// @Param role query string false "Organization role"
// @Param status query string false "Account status"
// @Success 200 {array} UserResponse
// @Security BearerAuth
// @Router /api/admin/users [get]
func (h *Handler) ListUsers(c *gin.Context) {
	if _, ok := h.authorize(c, permissions.ManageUsers); !ok {
		return
	}

	db := h.db.WithContext(c.Request.Context())
	query := db.Order("created_at DESC")

	// Optional search by email or name
	if search := c.Query("q"); search != "" {
		query = query.Where("email LIKE ? OR name LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	if r := c.Query("role"); r != "" {
		role, err := roles.ParseOrgRole(r)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
			return
		}
		query = query.Where("role = ?", role)
	}
	if s := c.Query("status"); s != "" {
		status, err := models.ParseUserStatus(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
			return
		}
		query = query.Where("status = ?", status)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		h.log.Error("list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}

	responses := make([]UserResponse, len(users))
	for i, user := range users {
		responses[i] = h.userResponse(db, user)
	}

	c.JSON(http.StatusOK, responses)
}

// GetUser returns a single user by ID
// @Summary Get a user
// @Tags admin
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} UserResponse
// @Failure 404 {object} map[string]string "User not found"
// @Security BearerAuth
// @Router /api/admin/users/{id} [get]
func (h *Handler) GetUser(c *gin.Context) {
	if _, ok := h.authorize(c, permissions.ManageUsers); !ok {
		return
	}
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	user, err := h.store.GetUser(c.Request.Context(), id)
	if errors.Is(err, directory.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		h.log.Error("get user", zap.Uint("user_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch user"})
		return
	}

	c.JSON(http.StatusOK, h.userResponse(h.db.WithContext(c.Request.Context()), user))
}

// checkRank refuses changes by an actor to a user who outranks them
func checkRank(actor, target models.User) error {
	if !roles.AtLeast(actor.Role, target.Role) {
		return errHigherRank
	}
	return nil
}

// keepsOwnership refuses a change that would strip the root owner or the
// last active owner of their ownership
func keepsOwnership(tx *gorm.DB, target models.User, role roles.OrgRole, status models.UserStatus, deleting bool) error {
	staysOwner := !deleting && role == roles.OrgRoleOwner && status == models.UserStatusActive
	if staysOwner {
		return nil
	}
	if target.IsRoot {
		return errRootOwner
	}
	if target.Role != roles.OrgRoleOwner || target.Status != models.UserStatusActive {
		return nil
	}
	others, err := directory.ActiveOwnerCount(tx, target.ID)
	if err != nil {
		return err
	}
	if others == 0 {
		return errLastOwner
	}
	return nil
}

func (h *Handler) renderChangeError(c *gin.Context, op string, id uint, err error) {
	switch {
	case errors.Is(err, directory.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, errHigherRank), errors.Is(err, errRoleAboveOwn):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, errSelfDemotion), errors.Is(err, errSelfSuspension), errors.Is(err, errSelfDeletion),
		errors.Is(err, errRootOwner), errors.Is(err, errLastOwner),
		errors.Is(err, roles.ErrUnknownRole), errors.Is(err, models.ErrInvalidEnum):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error(op, zap.Uint("user_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + op})
	}
}

// UpdateUser updates a user's name, role or status
// @Summary Update a user
// @Description Change a user's name, organization role or account status (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param request body UpdateUserRequest true "Fields to change"
// @Success 200 {object} UserResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 403 {object} map[string]string "Access denied"
// @Security BearerAuth
// @Router /api/admin/users/{id} [put]
func (h *Handler) UpdateUser(c *gin.Context) {
	actor, ok := h.authorize(c, permissions.ManageUsers)
	if !ok {
		return
	}
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var updated models.User
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var target models.User
		if err := tx.First(&target, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return directory.ErrUserNotFound
			}
			return err
		}
		if err := checkRank(actor, target); err != nil {
			return err
		}

		role, status := target.Role, target.Status
		if req.Role != nil {
			r, err := roles.ParseOrgRole(*req.Role)
			if err != nil {
				return err
			}
			if !roles.AtLeast(actor.Role, r) {
				return errRoleAboveOwn
			}
			role = r
		}
		if req.Status != nil {
			s, err := models.ParseUserStatus(*req.Status)
			if err != nil {
				return err
			}
			status = s
		}

		if target.ID == actor.ID {
			if role.Rank() < target.Role.Rank() {
				return errSelfDemotion
			}
			if status != models.UserStatusActive {
				return errSelfSuspension
			}
		}
		if err := keepsOwnership(tx, target, role, status, false); err != nil {
			return err
		}

		updates := map[string]interface{}{"role": role, "status": status}
		if req.Name != nil && *req.Name != "" {
			updates["name"] = *req.Name
		}
		if err := tx.Model(&models.User{}).Where("id = ?", target.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&updated, target.ID).Error
	})
	if err != nil {
		h.renderChangeError(c, "update user", id, err)
		return
	}

	h.log.Info("user updated",
		zap.Uint("actor_id", actor.ID),
		zap.Uint("user_id", updated.ID),
		zap.String("role", string(updated.Role)),
		zap.String("status", string(updated.Status)))
	c.JSON(http.StatusOK, h.userResponse(h.db.WithContext(c.Request.Context()), updated))
}

// DeleteUser tombstones a user, revokes their API keys and removes their memberships
// @Summary Delete a user
// @Tags admin
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} map[string]string "User deleted"
// @Failure 400 {object} map[string]string "Protected account"
// @Failure 403 {object} map[string]string "Access denied"
// @Security BearerAuth
// @Router /api/admin/users/{id} [delete]
func (h *Handler) DeleteUser(c *gin.Context) {
	actor, ok := h.authorize(c, permissions.ManageUsers)
	if !ok {
		return
	}
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if id == actor.ID {
			return errSelfDeletion
		}
		var target models.User
		if err := tx.First(&target, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return directory.ErrUserNotFound
			}
			return err
		}
		if err := checkRank(actor, target); err != nil {
			return err
		}
		if err := keepsOwnership(tx, target, target.Role, target.Status, true); err != nil {
			return err
		}

		if err := tx.Where("user_id = ?", target.ID).Delete(&models.APIKey{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.GroupMembership{}).Where("user_id = ?", target.ID).
			Update("status", models.MembershipStatusRemoved).Error; err != nil {
			return err
		}
		return tx.Delete(&target).Error
	})
	if err != nil {
		h.renderChangeError(c, "delete user", id, err)
		return
	}

	h.log.Info("user deleted", zap.Uint("actor_id", actor.ID), zap.Uint("user_id", id))
	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

// GetStats returns directory-wide statistics
// @Summary Directory statistics
// @Tags admin
// @Produce json
// @Success 200 {object} StatsResponse
// @Security BearerAuth
// @Router /api/admin/stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	if _, ok := h.authorize(c, permissions.ViewAnalytics); !ok {
		return
	}

	ctx := c.Request.Context()
	db := h.db.WithContext(ctx)
	stats := StatsResponse{UsersByRole: map[string]int64{}}

	db.Model(&models.User{}).Count(&stats.TotalUsers)
	db.Model(&models.User{}).Where("status = ?", models.UserStatusActive).Count(&stats.ActiveUsers)
	db.Model(&models.User{}).Where("status = ?", models.UserStatusInactive).Count(&stats.InactiveUsers)
	db.Model(&models.User{}).Where("status = ?", models.UserStatusSuspended).Count(&stats.SuspendedUsers)
	for _, r := range roles.OrgRoles() {
		var n int64
		db.Model(&models.User{}).Where("role = ?", r).Count(&n)
		stats.UsersByRole[string(r)] = n
	}

	db.Model(&models.Group{}).Count(&stats.TotalGroups)
	db.Model(&models.Group{}).Where("is_active = ?", true).Count(&stats.ActiveGroups)
	db.Model(&models.Group{}).Where("is_active = ? AND visibility = ?", true, models.VisibilityPublic).Count(&stats.PublicGroups)
	db.Model(&models.GroupMembership{}).Where("status = ?", models.MembershipStatusActive).Count(&stats.ActiveMemberships)
	db.Model(&models.GroupMembership{}).Where("status = ?", models.MembershipStatusPending).Count(&stats.PendingMemberships)
	db.Model(&models.APIKey{}).Count(&stats.ActiveAPIKeys)

	idx, err := h.store.Index(ctx)
	if err != nil {
		h.log.Error("build index", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute statistics"})
		return
	}
	stats.OrphanedGroups = append([]uint{}, idx.OrphanedGroupIDs()...)
	stats.DiscardedRows = idx.DiscardedCount()

	c.JSON(http.StatusOK, stats)
}

// RegisterRoutes registers admin routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", h.GetStats)
	rg.GET("/users", h.ListUsers)
	rg.GET("/users/:id", h.GetUser)
	rg.PUT("/users/:id", h.UpdateUser)
	rg.DELETE("/users/:id", h.DeleteUser)
}
