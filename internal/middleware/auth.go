package middleware

import (
	"net/http"
	"strings"

	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRole     = "role"
)

// SessionVerifier resolves a bearer token presented from ip.
type SessionVerifier interface {
	VerifySession(token, ip string) (*services.SessionInfo, error)
}

// AuthRequired rejects requests without a valid session token and stores the
// caller identity in the context.
func AuthRequired(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Fail(c, http.StatusUnauthorized, "unauthorized", "authorization header required")
			c.Abort()
			return
		}

		info, err := verifier.VerifySession(token, c.ClientIP())
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserID, info.UserID)
		c.Set(ContextUsername, info.Username)
		c.Set(ContextRole, info.Role)

		c.Next()
	}
}

// OptionalAuth stores the caller identity when a valid session token is
// present and lets every request through.
func OptionalAuth(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			if info, err := verifier.VerifySession(token, c.ClientIP()); err == nil {
				c.Set(ContextUserID, info.UserID)
				c.Set(ContextUsername, info.Username)
				c.Set(ContextRole, info.Role)
			}
		}
		c.Next()
	}
}

// AdminRequired is a middleware that checks for admin role
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != "admin" {
			response.Fail(c, http.StatusForbidden, "forbidden", "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// bearerToken extracts the token from "Bearer <token>".
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) uint {
	if id, exists := c.Get(ContextUserID); exists {
		return id.(uint)
	}
	return 0
}

// GetUsername gets the current username from context
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(ContextUsername); exists {
		return username.(string)
	}
	return ""
}

// GetRole gets the current user role from context
func GetRole(c *gin.Context) string {
	if role, exists := c.Get(ContextRole); exists {
		return role.(string)
	}
	return ""
}

func IsAdmin(c *gin.Context) bool {
	return GetRole(c) == "admin"
}
