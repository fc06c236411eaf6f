package middleware

import (
	"net/http"
	"strings"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/services"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the bearer JWT on SFU signalling routes and stores
// the parsed claims for downstream handlers. Failure responses use the
// auth_header_missing / token_invalid / token_expired error codes.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"code": "auth_header_missing", "message": "authorization header required", "status": http.StatusUnauthorized,
			}})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"code": "token_invalid", "message": "invalid authorization header format", "status": http.StatusUnauthorized,
			}})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			code, status := "token_invalid", http.StatusUnauthorized
			if err == services.ErrExpiredToken {
				code = "token_expired"
			}
			c.JSON(status, gin.H{"error": gin.H{"code": code, "message": err.Error(), "status": status}})
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

// RequireRole gates a route to a set of acceptable signalling roles, relying
// on AuthMiddleware having already stashed the parsed claims.
func RequireRole(allowed ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := c.Get("claims")
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"code": "auth_header_missing", "message": "authentication required", "status": http.StatusUnauthorized,
			}})
			c.Abort()
			return
		}

		claims := val.(*services.Claims)
		for _, r := range allowed {
			if claims.Role == r {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{"error": gin.H{
			"code": "role_insufficient", "message": "role does not permit this operation", "status": http.StatusForbidden,
		}})
		c.Abort()
	}
}
