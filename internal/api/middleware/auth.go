package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/repolens/repolens/internal/pkg/jwt"
	"github.com/repolens/repolens/internal/pkg/response"
)

const (
	ClientIDKey = "clientID"
)

// Auth validates the bearer token issued to calling services.
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "missing credentials")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			response.AuthError(c, "malformed authorization header")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ClientIDKey, claims.ClientID)
		c.Next()
	}
}

// GetClientID returns the authenticated caller's identity.
func GetClientID(c *gin.Context) (string, bool) {
	clientID, exists := c.Get(ClientIDKey)
	if !exists {
		return "", false
	}
	id, ok := clientID.(string)
	return id, ok
}
