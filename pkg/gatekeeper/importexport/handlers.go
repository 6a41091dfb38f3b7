package importexport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
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

// Handler handles directory import/export requests
type Handler struct {
	db      *gorm.DB
	store   *directory.Store
	log     *zap.Logger
	denials gate.DenialRecorder
}

// NewHandler creates a new import/export handler
func NewHandler(db *gorm.DB, store *directory.Store, log *zap.Logger, denials gate.DenialRecorder) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: db, store: store, log: log, denials: denials}
}

// ExportUser is a user in the exchange format. Credentials are never exported.
type ExportUser struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status,omitempty"`
}

// ExportGroup is a group in the exchange format
type ExportGroup struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Visibility  string `json:"visibility,omitempty"`
	IsActive    *bool  `json:"is_active,omitempty"`
	AutoApprove bool   `json:"auto_approve"`
}

// ExportMembership links a user to a group by email and (name, type)
type ExportMembership struct {
	Email     string `json:"email"`
	GroupName string `json:"group_name"`
	GroupType string `json:"group_type"`
	Role      string `json:"role,omitempty"`
	Status    string `json:"status,omitempty"`
	JoinedAt  string `json:"joined_at,omitempty"`
}

// Directory is the document produced by Export and accepted by Import
type Directory struct {
	ExportedAt  string             `json:"exported_at,omitempty"`
	Users       []ExportUser       `json:"users"`
	Groups      []ExportGroup      `json:"groups"`
	Memberships []ExportMembership `json:"memberships"`
	Discarded   int                `json:"discarded,omitempty"`
}

// ImportResult represents the result of an import operation
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

func (r *ImportResult) skip(kind string, i int, msg string) {
	r.Skipped++
	r.Errors = append(r.Errors, kind+" "+strconv.Itoa(i)+": "+msg)
}

func (h *Handler) authorize(c *gin.Context) (models.User, bool) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return models.User{}, false
	}
	if err := gate.Check(user, gate.Require(permissions.ManageUsers), nil); err != nil {
		gate.Abort(c, err, h.denials)
		return models.User{}, false
	}
	return user, true
}

// Export returns the directory as a portable document
// @Summary Export the directory
// @Description Export users, groups and memberships. Rows the index rejects are left out and counted.
// @Tags admin
// @Produce json
// @Param download query bool false "Send as an attachment"
// @Success 200 {object} Directory
// @Security BearerAuth
// @Router /api/admin/directory/export [get]
func (h *Handler) Export(c *gin.Context) {
	if _, ok := h.authorize(c); !ok {
		return
	}

	idx, err := h.store.Index(c.Request.Context())
	if err != nil {
		h.log.Error("build index", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export directory"})
		return
	}
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		h.log.Error("list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export directory"})
		return
	}

	doc := Directory{
		ExportedAt:  time.Now().UTC().Format(time.RFC3339),
		Users:       make([]ExportUser, 0, len(users)),
		Groups:      []ExportGroup{},
		Memberships: []ExportMembership{},
		Discarded:   idx.DiscardedCount(),
	}
	for _, u := range users {
		doc.Users = append(doc.Users, ExportUser{
			Email:  u.Email,
			Name:   u.Name,
			Role:   string(u.Role),
			Status: string(u.Status),
		})
	}
	for _, g := range idx.Groups() {
		active := g.IsActive
		doc.Groups = append(doc.Groups, ExportGroup{
			Name:        g.Name,
			Description: g.Description,
			Type:        string(g.Type),
			Visibility:  string(g.Visibility),
			IsActive:    &active,
			AutoApprove: g.AutoApprove,
		})
		for _, m := range idx.MembersOf(g.ID) {
			u, _ := idx.User(m.UserID)
			doc.Memberships = append(doc.Memberships, ExportMembership{
				Email:     u.Email,
				GroupName: g.Name,
				GroupType: string(g.Type),
				Role:      string(m.Role),
				Status:    string(m.Status),
				JoinedAt:  m.JoinedAt.UTC().Format(time.RFC3339),
			})
		}
	}

	// Set content disposition for download
	if c.Query("download") == "true" {
		c.Header("Content-Disposition", "attachment; filename=gatekeeper-directory.json")
	}

	c.JSON(http.StatusOK, doc)
}

// Import loads users, groups and memberships. Existing rows are skipped, never
// overwritten. Imported users have no password and sign in once one is set.
// @Summary Import a directory
// @Tags admin
// @Accept json
// @Produce json
// @Param request body Directory true "Directory document"
// @Success 200 {object} ImportResult
// @Failure 403 {object} map[string]string "Access denied"
// @Security BearerAuth
// @Router /api/admin/directory/import [post]
func (h *Handler) Import(c *gin.Context) {
	actor, ok := h.authorize(c)
	if !ok {
		return
	}

	var doc Directory
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db := h.db.WithContext(c.Request.Context())
	result := ImportResult{Errors: []string{}}

	for i, eu := range doc.Users {
		if err := importUser(db, actor, eu); err != nil {
			result.skip("user", i, err.Error())
			continue
		}
		result.Imported++
	}
	for i, eg := range doc.Groups {
		if err := importGroup(db, actor, eg); err != nil {
			result.skip("group", i, err.Error())
			continue
		}
		result.Imported++
	}
	for i, em := range doc.Memberships {
		if err := importMembership(db, em); err != nil {
			result.skip("membership", i, err.Error())
			continue
		}
		result.Imported++
	}

	h.log.Info("directory imported",
		zap.Uint("actor_id", actor.ID),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped))
	c.JSON(http.StatusOK, result)
}

var (
	errExists      = errors.New("already exists")
	errRoleAbove   = errors.New("role above your own")
	errMissingUser = errors.New("unknown user")
	errMissingGrp  = errors.New("unknown group")
)

func importUser(db *gorm.DB, actor models.User, eu ExportUser) error {
	email := strings.TrimSpace(eu.Email)
	if email == "" {
		return errors.New("email is required")
	}
	role := roles.OrgRoleMember
	if eu.Role != "" {
		r, err := roles.ParseOrgRole(eu.Role)
		if err != nil {
			return err
		}
		role = r
	}
	// Only owners may bring in owners; nobody imports above their own rank
	if !roles.AtLeast(actor.Role, role) {
		return errRoleAbove
	}
	status := models.UserStatusActive
	if eu.Status != "" {
		s, err := models.ParseUserStatus(eu.Status)
		if err != nil {
			return err
		}
		status = s
	}

	var count int64
	db.Unscoped().Model(&models.User{}).Where("email = ?", email).Count(&count)
	if count > 0 {
		return errExists
	}

	name := eu.Name
	if name == "" {
		name = email
	}
	return db.Create(&models.User{Email: email, Name: name, Role: role, Status: status}).Error
}

func importGroup(db *gorm.DB, actor models.User, eg ExportGroup) error {
	name := strings.TrimSpace(eg.Name)
	if name == "" {
		return errors.New("name is required")
	}
	groupType, err := models.ParseGroupType(eg.Type)
	if err != nil {
		return err
	}
	vis := models.VisibilityPrivate
	if eg.Visibility != "" {
		if vis, err = models.ParseVisibility(eg.Visibility); err != nil {
			return err
		}
	}
	active := true
	if eg.IsActive != nil {
		active = *eg.IsActive
	}

	var count int64
	db.Model(&models.Group{}).Where("name = ? AND type = ?", name, groupType).Count(&count)
	if count > 0 {
		return errExists
	}

	group := models.Group{
		Name:        name,
		Description: eg.Description,
		Type:        groupType,
		Visibility:  vis,
		IsActive:    active,
		AutoApprove: eg.AutoApprove,
		CreatedByID: actor.ID,
	}
	return db.Create(&group).Error
}

func importMembership(db *gorm.DB, em ExportMembership) error {
	var user models.User
	if err := db.Where("email = ?", strings.TrimSpace(em.Email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errMissingUser
		}
		return err
	}
	groupType, err := models.ParseGroupType(em.GroupType)
	if err != nil {
		return err
	}
	var group models.Group
	if err := db.Where("name = ? AND type = ?", em.GroupName, groupType).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errMissingGrp
		}
		return err
	}

	role := roles.GroupRoleMember
	if em.Role != "" {
		if role, err = roles.ParseGroupRole(em.Role); err != nil {
			return err
		}
	}
	status := models.MembershipStatusActive
	if em.Status != "" {
		if status, err = models.ParseMembershipStatus(em.Status); err != nil {
			return err
		}
	}
	joined := time.Now()
	if em.JoinedAt != "" {
		if joined, err = time.Parse(time.RFC3339, em.JoinedAt); err != nil {
			return errors.New("invalid joined_at")
		}
	}

	var count int64
	db.Model(&models.GroupMembership{}).Where("user_id = ? AND group_id = ?", user.ID, group.ID).Count(&count)
	if count > 0 {
		return errExists
	}

	return db.Create(&models.GroupMembership{
		UserID:   user.ID,
		GroupID:  group.ID,
		Role:     role,
		Status:   status,
		JoinedAt: joined,
	}).Error
}

// RegisterRoutes registers import/export routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/directory/import", h.Import)
	rg.GET("/directory/export", h.Export)
}
