package http

import (
	"exposure_backend/platform/config"
	"exposure_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module is a bounded context that mounts its own routes.
type Module interface {
	// Name identifies the module in startup logs.
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the route groups and shared middleware handed to every module.
type RouterContext struct {
	Engine *gin.Engine
	// V1 is /api/v1 behind the rate limiter only.
	V1 *gin.RouterGroup
	// Protected is V1 behind authentication; handlers read the caller's organization from it.
	Protected *gin.RouterGroup
	// Admin is /api/v1/admin behind authentication and the admin role.
	Admin          *gin.RouterGroup
	Config         config.JWTConfig
	AuthMiddleware gin.HandlerFunc
	RateLimiter    *httpkit.IPRateLimiter
}
