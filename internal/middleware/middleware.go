package middleware

import (
	"net/http"
	"strings"

	"taskflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// UserKey is where the caller id is stored on the gin context.
	UserKey = "user"
	// UserHeader names the caller when no bearer token is sent.
	UserHeader = "X-User-ID"
)

// Identity resolves the caller. With a secret configured, a bearer token's
// subject wins; otherwise, or without a token, the X-User-ID header is
// used. It establishes who is calling, not what they may do.
func Identity(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		user := ""
		auth := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if secret != "" && strings.HasPrefix(auth, prefix) {
			tokenStr := strings.TrimSpace(auth[len(prefix):])
			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				logger.Debug(ctx, "JWT parse failed", "error", err)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
				return
			}
			user = claims.Subject
		}
		if user == "" {
			user = strings.TrimSpace(c.GetHeader(UserHeader))
		}
		if user == "" {
			logger.Debug(ctx, "Request without caller identity")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(UserKey, user)
		c.Request = c.Request.WithContext(logger.With(ctx, "user_id", user))
		c.Next()
	}
}

// User returns the caller set by Identity.
func User(c *gin.Context) string {
	return c.GetString(UserKey)
}
