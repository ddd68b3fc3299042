package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const contextUserIDKey = "authUserID"

// Middleware validates the bearer token and, when the route carries a
// :userId segment, rejects requests whose token subject does not match it.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token required"})
			return
		}

		claims, err := s.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "detail": err.Error()})
			return
		}

		if pathUser := c.Param("userId"); pathUser != "" && pathUser != claims.Subject {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not grant access to this user"})
			return
		}

		c.Set(contextUserIDKey, claims.Subject)
		c.Next()
	}
}

// UserID returns the authenticated user id stored by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
