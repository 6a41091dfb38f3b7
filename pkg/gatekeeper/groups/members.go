package groups

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/directory"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/gate"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/permissions"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errLastAdmin      = errors.New("cannot remove the last admin")
	errMemberNotFound = errors.New("member not found")
)

// MemberResponse represents a group member in API responses
type MemberResponse struct {
	ID       uint      `json:"id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	Status   string    `json:"status"`
	JoinedAt time.Time `json:"joined_at"`
}

// AddMemberRequest represents a request to add a member
type AddMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role"`
}

// UpdateMemberRequest represents a request to change a member's role or status
type UpdateMemberRequest struct {
	Role   string `json:"role"`
	Status string `json:"status"`
}

func newMemberResponse(u models.User, m models.GroupMembership) MemberResponse {
	return MemberResponse{
		ID:       u.ID,
		Email:    u.Email,
		Name:     u.Name,
		Role:     string(m.Role),
		Status:   string(m.Status),
		JoinedAt: m.JoinedAt,
	}
}

// keepsGroupAdministered refuses a change that would leave the group without
// an active admin. before is the membership as stored; after is what it becomes.
func keepsGroupAdministered(tx *gorm.DB, before, after models.GroupMembership, user models.User) error {
	wasAdmin := before.Status == models.MembershipStatusActive && before.Role == roles.GroupRoleAdmin && user.IsActive()
	staysAdmin := after.Status == models.MembershipStatusActive && after.Role == roles.GroupRoleAdmin
	if !wasAdmin || staysAdmin {
		return nil
	}
	others, err := directory.ActiveAdminCount(tx, before.GroupID, before.UserID)
	if err != nil {
		return err
	}
	if others == 0 {
		return errLastAdmin
	}
	return nil
}

// ListMembers returns the members of a group. Managers see every membership
// including pending and removed ones; other members see active members only.
// @Summary List group members
// @Tags groups
// @Produce json
// @Param id path int true "Group ID"
// @Success 200 {array} MemberResponse
// @Failure 404 {object} map[string]string "Group not found"
// @Security BearerAuth
// @Router /api/groups/{id}/members [get]
func (h *Handler) ListMembers(c *gin.Context) {
	user, group, idx, ok := h.groupContext(c)
	if !ok {
		return
	}

	manage := permissions.CanManageGroup(user, group.ID, idx)
	if !manage && !permissions.CanViewGroup(user, group.ID, idx) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
		return
	}

	members := []MemberResponse{}
	for _, m := range idx.MembersOf(group.ID) {
		if !manage && m.Status != models.MembershipStatusActive {
			continue
		}
		u, _ := idx.User(m.UserID)
		members = append(members, newMemberResponse(u, m))
	}

	c.JSON(http.StatusOK, members)
}

// AddMember adds a user to a group as an ACTIVE member.
// Moderators may only add at the MEMBER role.
// @Summary Add a group member
// @Tags groups
// @Accept json
// @Produce json
// @Param id path int true "Group ID"
// @Param request body AddMemberRequest true "Member details"
// @Success 201 {object} MemberResponse
// @Failure 403 {object} map[string]string "Access denied"
// @Failure 409 {object} map[string]string "User is already a member"
// @Security BearerAuth
// @Router /api/groups/{id}/members [post]
func (h *Handler) AddMember(c *gin.Context) {
	user, group, idx, ok := h.groupContext(c)
	if !ok {
		return
	}
	if !h.require(c, user, permissions.InviteToGroup, group.ID, idx) {
		return
	}
	if !group.IsActive {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Group is not active"})
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := roles.GroupRoleMember
	if req.Role != "" {
		var err error
		if role, err = roles.ParseGroupRole(req.Role); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
			return
		}
	}
	if !permissions.CanGrantGroupRole(user, group.ID, role, idx) {
		gate.Abort(c, &gate.PermissionDenied{Capability: permissions.ManageGroup, UserID: user.ID, GroupID: group.ID}, h.denials)
		return
	}

	db := h.db.WithContext(c.Request.Context())

	var target models.User
	if err := db.Where("email = ?", strings.TrimSpace(req.Email)).First(&target).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	var m models.GroupMembership
	err := db.Where("user_id = ? AND group_id = ?", target.ID, group.ID).First(&m).Error
	switch {
	case err == nil && m.Status != models.MembershipStatusRemoved:
		c.JSON(http.StatusConflict, gin.H{"error": "User is already a member"})
		return
	case err == nil:
		// Re-adding a removed member reuses their row
		m.Role = role
		m.Status = models.MembershipStatusActive
		m.JoinedAt = time.Now()
		err = db.Save(&m).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		m = models.GroupMembership{
			UserID:   target.ID,
			GroupID:  group.ID,
			Role:     role,
			Status:   models.MembershipStatusActive,
			JoinedAt: time.Now(),
		}
		err = db.Create(&m).Error
	}
	if err != nil {
		h.log.Error("add member", zap.Uint("group_id", group.ID), zap.Uint("user_id", target.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
		return
	}

	c.JSON(http.StatusCreated, newMemberResponse(target, m))
}

// Join requests membership of a public group. The membership starts PENDING
// unless the group auto-approves.
// @Summary Join a group
// @Tags groups
// @Produce json
// @Param id path int true "Group ID"
// @Success 201 {object} MemberResponse
// @Failure 403 {object} map[string]string "Access denied"
// @Security BearerAuth
// @Router /api/groups/{id}/join [post]
func (h *Handler) Join(c *gin.Context) {
	user, group, idx, ok := h.groupContext(c)
	if !ok {
		return
	}
	if existing, ok := idx.Membership(user.ID, group.ID); ok && existing.Status != models.MembershipStatusRemoved {
		c.JSON(http.StatusConflict, gin.H{"error": "Membership already exists"})
		return
	}
	if !h.require(c, user, permissions.RequestMembership, group.ID, idx) {
		return
	}

	status := models.MembershipStatusPending
	if group.AutoApprove {
		status = models.MembershipStatusActive
	}

	db := h.db.WithContext(c.Request.Context())
	m, exists := idx.Membership(user.ID, group.ID)
	m.UserID = user.ID
	m.GroupID = group.ID
	m.Role = roles.GroupRoleMember
	m.Status = status
	m.JoinedAt = time.Now()

	var err error
	if exists {
		err = db.Save(&m).Error
	} else {
		err = db.Create(&m).Error
	}
	if err != nil {
		h.log.Error("join group", zap.Uint("group_id", group.ID), zap.Uint("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join group"})
		return
	}

	c.JSON(http.StatusCreated, newMemberResponse(user, m))
}

// Approve activates a pending membership
// @Summary Approve a membership request
// @Tags groups
// @Produce json
// @Param id path int true "Group ID"
// @Param userId path int true "User ID"
// @Success 200 {object} MemberResponse
// @Failure 403 {object} map[string]string "Access denied"
// @Failure 404 {object} map[string]string "Member not found"
// @Security BearerAuth
// @Router /api/groups/{id}/members/{userId}/approve [post]
func (h *Handler) Approve(c *gin.Context) {
	user, group, idx, ok := h.groupContext(c)
	if !ok {
		return
	}
	if !h.require(c, user, permissions.ManageGroup, group.ID, idx) {
		return
	}
	memberID, ok := parseID(c, "userId", "user")
	if !ok {
		return
	}

	m, ok := idx.Membership(memberID, group.ID)
	if !ok || m.Status != models.MembershipStatusPending {
		c.JSON(http.StatusNotFound, gin.H{"error": "No pending request for this user"})
		return
	}

	err := h.db.WithContext(c.Request.Context()).Model(&models.GroupMembership{}).
		Where("id = ?", m.ID).Update("status", models.MembershipStatusActive).Error
	if err != nil {
		h.log.Error("approve member", zap.Uint("group_id", group.ID), zap.Uint("user_id", memberID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to approve member"})
		return
	}

	m.Status = models.MembershipStatusActive
	u, _ := idx.User(memberID)
	c.JSON(http.StatusOK, newMemberResponse(u, m))
}

// UpdateMember changes a member's role or status
// @Summary Update a group member
// @Tags groups
// @Accept json
// @Produce json
// @Param id path int true "Group ID"
// @Param userId path int true "User ID"
// @Param request body UpdateMemberRequest true "New role and/or status"
// @Success 200 {object} MemberResponse
// @Failure 400 {object} map[string]string "Validation error or last admin"
// @Failure 403 {object} map[string]string "Access denied"
// @Security BearerAuth
// @Router /api/groups/{id}/members/{userId} [put]
func (h *Handler) UpdateMember(c *gin.Context) {
	user, group, idx, ok := h.groupContext(c)
	if !ok {
		return
	}
	if !h.require(c, user, permissions.ManageGroup, group.ID, idx) {
		return
	}
	memberID, ok := parseID(c, "userId", "user")
	if !ok {
		return
	}

	var req UpdateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" && req.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}

	var member models.User
	var after models.GroupMembership
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var before models.GroupMembership
		if err := tx.Preload("User").Where("user_id = ? AND group_id = ?", memberID, group.ID).First(&before).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errMemberNotFound
			}
			return err
		}
		member = before.User

		after = before
		after.User = models.User{}
		if req.Role != "" {
			role, err := roles.ParseGroupRole(req.Role)
			if err != nil {
				return err
			}
			after.Role = role
		}
		if req.Status != "" {
			status, err := models.ParseMembershipStatus(req.Status)
			if err != nil {
				return err
			}
			after.Status = status
		}

		if err := keepsGroupAdministered(tx, before, after, member); err != nil {
			return err
		}
		return tx.Model(&models.GroupMembership{}).Where("id = ?", before.ID).
			Updates(map[string]interface{}{"role": after.Role, "status": after.Status}).Error
	})

	switch {
	case err == nil:
		c.JSON(http.StatusOK, newMemberResponse(member, after))
	case errors.Is(err, errMemberNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
	case errors.Is(err, errLastAdmin):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot remove the last admin"})
	case errors.Is(err, roles.ErrUnknownRole), errors.Is(err, models.ErrInvalidEnum):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error("update member", zap.Uint("group_id", group.ID), zap.Uint("user_id", memberID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update member"})
	}
}

// RemoveMember removes a user from a group. Managers may remove anyone;
// any member may remove themselves.
// @Summary Remove a group member
// @Tags groups
// @Produce json
// @Param id path int true "Group ID"
// @Param userId path int true "User ID"
// @Success 200 {object} map[string]string "Member removed"
// @Failure 400 {object} map[string]string "Last admin"
// @Failure 403 {object} map[string]string "Access denied"
// @Security BearerAuth
// @Router /api/groups/{id}/members/{userId} [delete]
func (h *Handler) RemoveMember(c *gin.Context) {
	user, group, idx, ok := h.groupContext(c)
	if !ok {
		return
	}
	memberID, ok := parseID(c, "userId", "user")
	if !ok {
		return
	}
	if memberID != user.ID && !h.require(c, user, permissions.ManageGroup, group.ID, idx) {
		return
	}

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var before models.GroupMembership
		if err := tx.Preload("User").Where("user_id = ? AND group_id = ?", memberID, group.ID).First(&before).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errMemberNotFound
			}
			return err
		}
		if before.Status == models.MembershipStatusRemoved {
			return errMemberNotFound
		}

		after := before
		after.Status = models.MembershipStatusRemoved
		if err := keepsGroupAdministered(tx, before, after, before.User); err != nil {
			return err
		}
		return tx.Model(&models.GroupMembership{}).Where("id = ?", before.ID).
			Update("status", models.MembershipStatusRemoved).Error
	})

	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
	case errors.Is(err, errMemberNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
	case errors.Is(err, errLastAdmin):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot remove the last admin"})
	default:
		h.log.Error("remove member", zap.Uint("group_id", group.ID), zap.Uint("user_id", memberID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
	}
}

// RegisterMemberRoutes registers member management routes
func (h *Handler) RegisterMemberRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id/members", h.ListMembers)
	rg.POST("/:id/members", h.AddMember)
	rg.POST("/:id/join", h.Join)
	rg.POST("/:id/members/:userId/approve", h.Approve)
	rg.PUT("/:id/members/:userId", h.UpdateMember)
	rg.DELETE("/:id/members/:userId", h.RemoveMember)
}
