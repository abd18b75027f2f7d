package http

import (
	"github.com/samirrijal/roadreport/internal/core/ports"
	"github.com/samirrijal/roadreport/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Heatmap   *usecases.HeatmapService
	Freshness *usecases.FreshnessCoordinator

	// Checks are probed by /v1/ready, keyed by component name.
	Checks map[string]ports.HealthChecker

	// Breaker exposes the report store circuit state, if one is installed.
	Breaker interface{ State() string }

	Version string
}
