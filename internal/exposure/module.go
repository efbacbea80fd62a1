// Package exposure provides the exposure group bounded context module: sample
// imports, undo, agent removal, deletion and recomputation.
package exposure

import (
	"exposure_backend/internal/events"
	"exposure_backend/internal/exposure/handler"
	"exposure_backend/internal/exposure/service"
	apphttp "exposure_backend/internal/http"
	"exposure_backend/internal/scheduler"
	"exposure_backend/internal/summary"
	"exposure_backend/platform/config"
	"exposure_backend/platform/docstore"
	"exposure_backend/platform/logger"
	"exposure_backend/platform/validator"
)

// Module is the exposure bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the exposure module. queue may be nil when
// no task queue is configured.
func NewModule(store docstore.Store, bus events.Bus, sum *summary.Service, queue scheduler.Enqueuer, val *validator.Validator, cfg config.ExposureConfig, log *logger.Logger) *Module {
	svc := service.New(store, service.Config{
		Workers:    cfg.GetExposureWorkers(),
		FlushEvery: cfg.GetExposureFlushEvery(),
		DefaultOEL: cfg.GetExposureDefaultOEL(),
	}, log)
	svc.SetEventBus(bus)

	return &Module{
		handler: handler.New(svc, sum, queue, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "exposure"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts exposure routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	g := ctx.Protected.Group("/exposure")
	g.POST("/imports", m.handler.ImportBatch)
	g.POST("/imports/:jobId/undo", m.handler.UndoImport)
	g.POST("/agents/remove", m.handler.RemoveAgents)
	g.POST("/groups/recompute", m.handler.Recompute)
	g.POST("/groups/:groupId/samples/delete", m.handler.DeleteSamples)
	g.GET("/groups/:groupId", m.handler.GetGroup)
	g.GET("/summary", m.handler.GetSummary)
	g.GET("/jobs/:jobId", m.handler.GetJob)
	g.GET("/audit", m.handler.ListAudit)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
