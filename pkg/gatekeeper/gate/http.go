package gate

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/auth"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/permissions"
)

// DenialRecorder is notified of every rendered denial
type DenialRecorder interface {
	RecordDenial(capability string)
}

// DeniedMessage returns the user-facing message for a denied capability
func DeniedMessage(c permissions.Capability) string {
	switch c {
	case permissions.CreateGroups:
		return "Access denied. Team manager privileges required."
	case permissions.ManageGroup, permissions.InviteToGroup:
		return "Access denied. Group admin privileges required."
	case permissions.ViewGroup, permissions.RequestMembership:
		return "Access denied."
	}
	return "Access denied. Admin privileges required."
}

// Abort renders err as a 403 when it is a permission denial and reports
// whether it did so. Other errors are left for the caller.
func Abort(c *gin.Context, err error, recorder DenialRecorder) bool {
	var denied *PermissionDenied
	if !errors.As(err, &denied) {
		return false
	}
	if recorder != nil {
		recorder.RecordDenial(string(denied.Capability))
	}
	body := gin.H{
		"error":      DeniedMessage(denied.Capability),
		"capability": denied.Capability,
		"user_id":    denied.UserID,
	}
	if denied.GroupID != 0 {
		body["group_id"] = denied.GroupID
	}
	c.AbortWithStatusJSON(http.StatusForbidden, body)
	return true
}

// RequireCapability middleware checks an organization-level capability for the
// authenticated user. It must run after an authentication middleware.
func RequireCapability(capability permissions.Capability, recorder DenialRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		if err := Check(user, Require(capability), nil); err != nil {
			Abort(c, err, recorder)
			return
		}
		c.Next()
	}
}
