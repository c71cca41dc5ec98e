package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"

	claimsKey = "claims"
)

// Middleware authenticates requests with the access token from the
// Authorization header or, failing that, the accessToken cookie.
func Middleware(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && strings.EqualFold(tokenString[:7], "Bearer ") {
			tokenString = tokenString[7:]
		}
		if tokenString == "" {
			tokenString, _ = c.Cookie(AccessTokenCookie)
		}
		if tokenString == "" {
			abort(c, "missing access token")
			return
		}

		claims, err := tokens.Verify(tokenString)
		if err != nil {
			msg := "invalid access token"
			if errors.Is(err, model.ErrTokenExpired) {
				msg = "access token expired"
			}
			abort(c, msg)
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireAdmin rejects callers whose token does not carry an admin role.
// It must run after Middleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFrom(c)
		if claims == nil || !claims.Role.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required", "code": "FORBIDDEN"})
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the verified claims set by Middleware.
func ClaimsFrom(c *gin.Context) *Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

// AccountID returns the authenticated account id.
func AccountID(c *gin.Context) uuid.UUID {
	if claims := ClaimsFrom(c); claims != nil {
		return claims.AccountID
	}
	return uuid.Nil
}

func abort(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "UNAUTHORIZED"})
}
