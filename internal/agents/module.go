// Package agents provides the agent directory bounded context module.
package agents

import (
	"exposure_backend/internal/agents/handler"
	"exposure_backend/internal/agents/repository"
	"exposure_backend/internal/agents/service"
	"exposure_backend/internal/events"
	apphttp "exposure_backend/internal/http"
	"exposure_backend/platform/config"
	"exposure_backend/platform/logger"
	"exposure_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Module is the agents bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the agents module. redisClient may be nil,
// in which case every directory read goes to the database.
func NewModule(pool *pgxpool.Pool, redisClient *redis.Client, bus events.Bus, val *validator.Validator, cfg config.ExposureConfig, log *logger.Logger) *Module {
	svc := service.New(repository.New(pool), cfg.GetExposureDefaultOEL(), log)
	if redisClient != nil {
		svc.SetCache(service.NewCache(redisClient, cfg.GetAgentCacheTTL()))
	}
	svc.SetEventBus(bus)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "agents"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts agent routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/agents", m.handler.List)
	ctx.Admin.PUT("/agents/:key", m.handler.Upsert)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
