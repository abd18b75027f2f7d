package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/roadreport/internal/core/domain"
	"github.com/samirrijal/roadreport/internal/core/heatmap"
	"github.com/samirrijal/roadreport/internal/core/ports"
	"github.com/samirrijal/roadreport/internal/pkg/metrics"
	"github.com/samirrijal/roadreport/internal/pkg/telemetry"
)

// HeatmapService fetches reports for a viewport and turns them into cells.
type HeatmapService struct {
	reports ports.ReportSource
	clock   clock.Clock
	logger  *slog.Logger
}

// NewHeatmapService creates a new HeatmapService. A nil clock means wall time.
func NewHeatmapService(reports ports.ReportSource, clk clock.Clock) *HeatmapService {
	if clk == nil {
		clk = clock.New()
	}
	return &HeatmapService{
		reports: reports,
		clock:   clk,
		logger:  slog.Default().With("component", "heatmap"),
	}
}

// Aggregate returns the unweighted cells for q, scored at the current time.
// Errors wrap domain.ErrInvalidQuery or domain.ErrReportSourceUnavailable.
func (s *HeatmapService) Aggregate(ctx context.Context, q domain.HeatmapQuery) ([]domain.HeatmapCell, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "heatmap.Aggregate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("heatmap.zoom", q.Zoom),
		attribute.Float64("heatmap.cell_size", heatmap.CellSize(q.Zoom)),
	)

	now := s.clock.Now()
	start := now

	reports, err := s.reports.FetchReports(ctx, q.Bounds, now)
	if err != nil {
		metrics.ReportFetchErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch reports")
		if errors.Is(err, domain.ErrReportSourceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrReportSourceUnavailable, err)
	}

	cells := heatmap.Aggregate(q, reports, now)

	metrics.ReportsScanned.Observe(float64(len(reports)))
	metrics.CellsReturned.Observe(float64(len(cells)))
	metrics.AggregationDuration.Observe(s.clock.Now().Sub(start).Seconds())
	span.SetAttributes(
		attribute.Int("heatmap.reports", len(reports)),
		attribute.Int("heatmap.cells", len(cells)),
	)
	s.logger.Debug("aggregated viewport", "zoom", q.Zoom, "reports", len(reports), "cells", len(cells))

	return cells, nil
}

// Cells is Aggregate followed by activity reweighting.
func (s *HeatmapService) Cells(ctx context.Context, q domain.HeatmapQuery, activity domain.ActivityType) ([]domain.HeatmapCell, error) {
	if !activity.Valid() {
		return nil, fmt.Errorf("%w: unknown activity %q", domain.ErrInvalidQuery, activity)
	}
	cells, err := s.Aggregate(ctx, q)
	if err != nil {
		return nil, err
	}
	return heatmap.ReweightAll(cells, activity), nil
}
