package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dlbhoang/shop-dunk/internal/domain"
	"github.com/dlbhoang/shop-dunk/internal/service"
)

const currentUserKey = "currentUser"

// Auth gates routes behind a valid session token.
type Auth struct {
	AuthService *service.AuthService
}

// Protect extracts the session token from the Authorization header or
// the jwt cookie (in that order), verifies it, and attaches the
// resolved user to the request context.
func (m *Auth) Protect(c *gin.Context) {
	token := extractToken(c)
	if token == "" {
		abortWithError(c, domain.ErrUnauthenticated("You are not logged in. Please log in to get access."))
		return
	}

	user, err := m.AuthService.AuthenticateToken(c.Request.Context(), token)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Set(currentUserKey, user)
	c.Next()
}

// RestrictTo passes only users whose role is in the allowed set. It
// must be composed after Protect; running it without an authenticated
// context is a programming error and aborts with a 500.
func RestrictTo(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":             "server_error",
				"error_description": "Route misconfigured.",
			})
			return
		}
		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}
		abortWithError(c, domain.ErrForbidden())
	}
}

// CurrentUser returns the user attached by Protect.
func CurrentUser(c *gin.Context) (domain.User, bool) {
	value, ok := c.Get(currentUserKey)
	if !ok {
		return domain.User{}, false
	}
	user, ok := value.(domain.User)
	return user, ok
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := c.Cookie("jwt"); err == nil {
		return cookie
	}
	return ""
}

func abortWithError(c *gin.Context, err error) {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		c.AbortWithStatusJSON(authErr.Status, gin.H{
			"error":             authErr.Code,
			"error_description": authErr.Description,
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":             "server_error",
		"error_description": "Something went wrong.",
	})
}
