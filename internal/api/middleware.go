package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/IdrisKulubi/Student-Mail/internal/auth"
)

const (
	ctxUserID  = "user_id"
	ctxUserJWT = "user_jwt"
)

// Authenticator resolves the caller of an HTTP request.
type Authenticator interface {
	UserFromRequest(r *http.Request) (*auth.User, error)
}

func authMiddleware(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		user, err := authn.UserFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxUserID, user.ID)
		c.Set(ctxUserJWT, strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("user_id", c.GetString(ctxUserID)),
		)
	}
}
