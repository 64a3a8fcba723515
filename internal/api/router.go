package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the HTTP surface. metrics may be nil.
func NewRouter(h *Handler, authn Authenticator, metrics http.Handler, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	authorized := r.Group("/api")
	authorized.Use(authMiddleware(authn))

	authorized.POST("/session", h.SignIn)
	authorized.DELETE("/session", h.SignOut)

	authorized.POST("/sync", h.Sync)
	authorized.GET("/sync", h.SyncStatus)

	authorized.GET("/emails", h.ListEmails)
	authorized.GET("/emails/stats", h.Stats)
	authorized.POST("/emails/read", h.MarkManyRead)
	authorized.GET("/emails/:id", h.GetEmail)
	authorized.POST("/emails/:id/read", h.MarkRead)
	authorized.PATCH("/emails/:id", h.UpdateEmail)
	authorized.DELETE("/emails/:id", h.DeleteEmail)

	return r
}
