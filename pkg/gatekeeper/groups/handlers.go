package groups

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/auth"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/directory"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/gate"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/membership"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/permissions"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/visibility"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler handles group-related requests
type Handler struct {
	db      *gorm.DB
	store   *directory.Store
	log     *zap.Logger
	denials gate.DenialRecorder
}

// NewHandler creates a new groups handler
func NewHandler(db *gorm.DB, store *directory.Store, log *zap.Logger, denials gate.DenialRecorder) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: db, store: store, log: log, denials: denials}
}

// CreateGroupRequest represents the request to create a group
type CreateGroupRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Type        string `json:"type" binding:"required"`
	Visibility  string `json:"visibility"`
	AutoApprove bool   `json:"auto_approve"`
}

// UpdateGroupRequest represents the request to update a group.
// Nil fields are left unchanged.
type UpdateGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Visibility  *string `json:"visibility"`
	AutoApprove *bool   `json:"auto_approve"`
	IsActive    *bool   `json:"is_active"`
}

// GroupResponse represents a group in API responses, with the caller's
// role in it and the actions the caller may take
type GroupResponse struct {
	ID               uint   `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Type             string `json:"type"`
	Visibility       string `json:"visibility"`
	IsActive         bool   `json:"is_active"`
	AutoApprove      bool   `json:"auto_approve"`
	Role             string `json:"role,omitempty"`              // Caller's role in this group
	MembershipStatus string `json:"membership_status,omitempty"` // Caller's membership status
	MemberCount      int    `json:"member_count"`
	permissions.GroupSummary
}

func newGroupResponse(u models.User, g models.Group, idx *membership.Index, memberCount int) GroupResponse {
	resp := GroupResponse{
		ID:           g.ID,
		Name:         g.Name,
		Description:  g.Description,
		Type:         string(g.Type),
		Visibility:   string(g.Visibility),
		IsActive:     g.IsActive,
		AutoApprove:  g.AutoApprove,
		MemberCount:  memberCount,
		GroupSummary: permissions.SummarizeGroup(u, g.ID, idx),
	}
	if m, ok := idx.Membership(u.ID, g.ID); ok {
		resp.Role = string(m.Role)
		resp.MembershipStatus = string(m.Status)
	}
	return resp
}

func parseID(c *gin.Context, param, label string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + label + " ID"})
		return 0, false
	}
	return uint(id), true
}

// groupContext loads the caller, the group and an index that covers the
// caller's memberships plus every membership of the group
func (h *Handler) groupContext(c *gin.Context) (models.User, models.Group, *membership.Index, bool) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return models.User{}, models.Group{}, nil, false
	}
	groupID, ok := parseID(c, "id", "group")
	if !ok {
		return models.User{}, models.Group{}, nil, false
	}

	group, err := h.store.GetGroup(c.Request.Context(), groupID)
	if errors.Is(err, directory.ErrGroupNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
		return models.User{}, models.Group{}, nil, false
	}
	if err != nil {
		h.log.Error("load group", zap.Uint("group_id", groupID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch group"})
		return models.User{}, models.Group{}, nil, false
	}

	idx, err := h.store.GroupIndex(c.Request.Context(), user.ID, groupID)
	if err != nil {
		h.log.Error("load group memberships", zap.Uint("group_id", groupID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch group"})
		return models.User{}, models.Group{}, nil, false
	}
	return user, group, idx, true
}

// require renders a denial and reports false when the caller lacks the capability
func (h *Handler) require(c *gin.Context, u models.User, capability permissions.Capability, groupID uint, idx *membership.Index) bool {
	if err := gate.Check(u, gate.RequireGroup(capability, groupID), idx); err != nil {
		gate.Abort(c, err, h.denials)
		return false
	}
	return true
}

// List returns the groups visible to the current user
// @Summary List groups
// @Description Organization admins see every active group; everyone else sees the active groups they belong to
// @Tags groups
// @Produce json
// @Success 200 {array} GroupResponse
// @Security BearerAuth
// @Router /api/groups [get]
func (h *Handler) List(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	ctx := c.Request.Context()

	idx, err := h.store.Index(ctx)
	if err != nil {
		h.log.Error("build index", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch groups"})
		return
	}
	visible := visibility.Filter(user, idx.Groups(), idx)
	groups := make([]GroupResponse, len(visible))
	for i, g := range visible {
		groups[i] = newGroupResponse(user, g, idx, activeMemberCount(idx, g.ID))
	}

	c.JSON(http.StatusOK, groups)
}

// Discover returns public groups the current user may ask to join
// @Summary Discover groups
// @Description List active public groups the current user is not a member of
// @Tags groups
// @Produce json
// @Success 200 {array} GroupResponse
// @Security BearerAuth
// @Router /api/groups/discover [get]
func (h *Handler) Discover(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	ctx := c.Request.Context()

	idx, err := h.store.UserIndex(ctx, user.ID)
	if err != nil {
		h.log.Error("build index", zap.Uint("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch groups"})
		return
	}
	all, err := h.store.ListGroups(ctx)
	if err != nil {
		h.log.Error("list groups", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch groups"})
		return
	}

	open := visibility.Discoverable(user, all, idx)
	groups := make([]GroupResponse, len(open))
	for i, g := range open {
		groups[i] = GroupResponse{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Description,
			Type:        string(g.Type),
			Visibility:  string(g.Visibility),
			IsActive:    g.IsActive,
			AutoApprove: g.AutoApprove,
		}
	}

	c.JSON(http.StatusOK, groups)
}

// Create creates a new group and adds the creator as admin
// @Summary Create a group
// @Description Create a new group with the current user as its admin (team manager or above)
// @Tags groups
// @Accept json
// @Produce json
// @Param request body CreateGroupRequest true "Group details"
// @Success 201 {object} GroupResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 403 {object} map[string]string "Access denied"
// @Failure 409 {object} map[string]string "Group already exists"
// @Security BearerAuth
// @Router /api/groups [post]
func (h *Handler) Create(c *gin.Context) {
	user, _ := auth.CurrentUser(c)

	if err := gate.Check(user, gate.Require(permissions.CreateGroups), nil); err != nil {
		gate.Abort(c, err, h.denials)
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	groupType, err := models.ParseGroupType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group type"})
		return
	}
	vis := models.VisibilityPrivate
	if req.Visibility != "" {
		if vis, err = models.ParseVisibility(req.Visibility); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid visibility"})
			return
		}
	}

	db := h.db.WithContext(c.Request.Context())

	var existing int64
	db.Model(&models.Group{}).Where("name = ? AND type = ?", req.Name, groupType).Count(&existing)
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "A group with this name and type already exists"})
		return
	}

	var group models.Group
	var creator models.GroupMembership
	err = db.Transaction(func(tx *gorm.DB) error {
		group = models.Group{
			Name:        req.Name,
			Description: req.Description,
			Type:        groupType,
			Visibility:  vis,
			IsActive:    true,
			AutoApprove: req.AutoApprove,
			CreatedByID: user.ID,
		}
		if err := tx.Create(&group).Error; err != nil {
			return err
		}

		creator = models.GroupMembership{
			UserID:  user.ID,
			GroupID: group.ID,
			Role:    roles.GroupRoleAdmin,
			Status:  models.MembershipStatusActive,
		}
		return tx.Create(&creator).Error
	})
	if err != nil {
		h.log.Error("create group", zap.String("name", req.Name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create group"})
		return
	}

	idx := membership.Build(membership.Snapshot{
		Users:       []models.User{user},
		Groups:      []models.Group{group},
		Memberships: []models.GroupMembership{creator},
	})
	c.JSON(http.StatusCreated, newGroupResponse(user, group, idx, 1))
}

// Get returns a specific group
// @Summary Get a group
// @Description Get details of a group visible to the current user
// @Tags groups
// @Produce json
// @Param id path int true "Group ID"
// @Success 200 {object} GroupResponse
// @Failure 404 {object} map[string]string "Group not found"
// @Security BearerAuth
// @Router /api/groups/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	user, group, idx, ok := h.groupContext(c)
	if !ok {
		return
	}

	// Hide groups the caller cannot see rather than confirm they exist
	if !permissions.CanViewGroup(user, group.ID, idx) && !permissions.CanManageGroup(user, group.ID, idx) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
		return
	}

	c.JSON(http.StatusOK, newGroupResponse(user, group, idx, activeMemberCount(idx, group.ID)))
}

// Update updates a group
// @Summary Update a group
// @Description Update a group (group admin or organization admin)
// @Tags groups
// @Accept json
// @Produce json
// @Param id path int true "Group ID"
// @Param request body UpdateGroupRequest true "Updated group details"
// @Success 200 {object} GroupResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 403 {object} map[string]string "Access denied"
// @Security BearerAuth
// @Router /api/groups/{id} [put]
func (h *Handler) Update(c *gin.Context) {
	user, group, idx, ok := h.groupContext(c)
	if !ok {
		return
	}
	if !h.require(c, user, permissions.ManageGroup, group.ID, idx) {
		return
	}

	var req UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil && *req.Name != "" {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Visibility != nil {
		v, err := models.ParseVisibility(*req.Visibility)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid visibility"})
			return
		}
		updates["visibility"] = v
	}
	if req.AutoApprove != nil {
		updates["auto_approve"] = *req.AutoApprove
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	db := h.db.WithContext(c.Request.Context())
	if name, ok := updates["name"]; ok && name != group.Name {
		var clash int64
		db.Model(&models.Group{}).Where("name = ? AND type = ? AND id <> ?", name, group.Type, group.ID).Count(&clash)
		if clash > 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "A group with this name and type already exists"})
			return
		}
	}

	if len(updates) > 0 {
		if err := db.Model(&models.Group{}).Where("id = ?", group.ID).Updates(updates).Error; err != nil {
			h.log.Error("update group", zap.Uint("group_id", group.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update group"})
			return
		}
	}

	updated, err := h.store.GetGroup(c.Request.Context(), group.ID)
	if err != nil {
		h.log.Error("reload group", zap.Uint("group_id", group.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update group"})
		return
	}
	idx, err = h.store.GroupIndex(c.Request.Context(), user.ID, group.ID)
	if err != nil {
		h.log.Error("reload group memberships", zap.Uint("group_id", group.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update group"})
		return
	}

	c.JSON(http.StatusOK, newGroupResponse(user, updated, idx, activeMemberCount(idx, group.ID)))
}

// Delete retires a group. Groups are never hard deleted.
// @Summary Delete a group
// @Description Deactivate a group (group admin or organization admin)
// @Tags groups
// @Produce json
// @Param id path int true "Group ID"
// @Success 200 {object} map[string]string "Group deleted"
// @Failure 403 {object} map[string]string "Access denied"
// @Security BearerAuth
// @Router /api/groups/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	user, group, idx, ok := h.groupContext(c)
	if !ok {
		return
	}

	_, err := gate.Guard(user, gate.RequireGroup(permissions.ManageGroup, group.ID), idx, func() (int64, error) {
		res := h.db.WithContext(c.Request.Context()).
			Model(&models.Group{}).Where("id = ?", group.ID).Update("is_active", false)
		return res.RowsAffected, res.Error
	})
	if gate.Abort(c, err, h.denials) {
		return
	}
	if err != nil {
		h.log.Error("deactivate group", zap.Uint("group_id", group.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete group"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Group deleted"})
}

func activeMemberCount(idx *membership.Index, groupID uint) int {
	n := 0
	for _, m := range idx.MembersOf(groupID) {
		if m.Status == models.MembershipStatusActive {
			n++
		}
	}
	return n
}

// RegisterRoutes registers group routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/discover", h.Discover)
	rg.GET("/:id", h.Get)
	rg.PUT("/:id", h.Update)
	rg.DELETE("/:id", h.Delete)
}
