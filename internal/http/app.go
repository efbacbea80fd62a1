// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"exposure_backend/internal/events"
	"exposure_backend/platform/config"
	"exposure_backend/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker reports whether a backing dependency answers.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the dependencies the composition root hands to the router.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Health backs /api/ready; nil reports ready unconditionally.
	Health HealthChecker
	// Metrics backs /metrics; nil disables the endpoint.
	Metrics  prometheus.Gatherer
	EventBus events.Bus
	Modules  []Module
}
