package router

import (
	"net/http"
	"strings"

	"identity_bridge/internal/config"
	"identity_bridge/internal/http/middleware"
	"identity_bridge/internal/reconcile"
	"identity_bridge/platform/logger"

	"github.com/gin-gonic/gin"
)

// New assembles the gin engine with the reconciliation routes mounted at the
// root, matching the paths configured in the membership webhook and the
// identity provider's extension hooks.
func New(cfg *config.Config, reconcileModule *reconcile.Module, log *logger.Logger) *gin.Engine {
	if !strings.EqualFold(cfg.Env, "development") {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger(log))

	engine.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	reconcileModule.RegisterRoutes(engine.Group(""))

	return engine
}
