package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"gorm.io/gorm"
)

const (
	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyUser is the key for the loaded models.User in gin context
	ContextKeyUser = "user"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAccountInactive = errors.New("account is not active")
)

// LoadActiveUser loads the user behind a credential. Role and status are read
// fresh on every request so changes take effect without reissuing tokens.
func LoadActiveUser(db *gorm.DB, userID uint) (models.User, error) {
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	if !user.IsActive() {
		return user, ErrAccountInactive
	}
	return user, nil
}

// AbortForUserError renders the response for a LoadActiveUser failure
func AbortForUserError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
	case errors.Is(err, ErrAccountInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": "Account is not active"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
	}
	c.Abort()
}

// SetCurrentUser stores the authenticated user in the gin context
func SetCurrentUser(c *gin.Context, user models.User) {
	c.Set(ContextKeyUserID, user.ID)
	c.Set(ContextKeyUser, user)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
		c.Abort()
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
		c.Abort()
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware validates JWT tokens and loads the current user into the context
func AuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := BearerToken(c)
		if !ok {
			return
		}

		claims, err := ValidateToken(tokenString)
		if err != nil {
			if err == ErrExpiredToken {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token has expired"})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			c.Abort()
			return
		}

		user, err := LoadActiveUser(db.WithContext(c.Request.Context()), claims.UserID)
		if err != nil {
			AbortForUserError(c, err)
			return
		}

		SetCurrentUser(c, user)
		c.Next()
	}
}

// GetUserID returns the user ID from the gin context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}
	return userID.(uint), true
}

// CurrentUser returns the authenticated user from the gin context
func CurrentUser(c *gin.Context) (models.User, bool) {
	v, exists := c.Get(ContextKeyUser)
	if !exists {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}
