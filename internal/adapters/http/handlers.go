package http

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/roadreport/internal/core/domain"
	"github.com/samirrijal/roadreport/internal/core/heatmap"
	"github.com/samirrijal/roadreport/internal/pkg/geospatial"
)

// HeatmapResponse is the body of GET /v1/heatmap.
type HeatmapResponse struct {
	Cells       []domain.HeatmapCell `json:"cells"`
	Count       int                  `json:"count"`
	Zoom        int                  `json:"zoom"`
	Activity    domain.ActivityType  `json:"activity"`
	CellSizeDeg float64              `json:"cell_size_deg"`
	CellEdgeM   CellEdge             `json:"cell_edge_m"`
}

// CellEdge is the approximate ground size of one grid cell at the
// viewport's centre latitude.
type CellEdge struct {
	NorthSouth float64 `json:"north_south"`
	EastWest   float64 `json:"east_west"`
}

// ConditionInfo describes one reportable condition.
type ConditionInfo struct {
	Name         string                `json:"name"`
	Class        domain.ConditionClass `json:"class"`
	HalfLifeDays float64               `json:"half_life_days"`
}

// ActivityInfo describes how an activity changes the map.
type ActivityInfo struct {
	Name              domain.ActivityType    `json:"name"`
	DefaultCondition  domain.ConditionType   `json:"default_condition"`
	ConditionPriority []domain.ConditionType `json:"condition_priority"`
	Multipliers       map[string]float64     `json:"multipliers"`
}

// HeatmapHandler answers a one-shot viewport query.
// GET /v1/heatmap?south=&north=&west=&east=&zoom=&activity=
func HeatmapHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q, err := parseViewport(c.Query)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		activity, err := domain.ParseActivityType(c.Query("activity"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		cells, err := deps.Heatmap.Cells(c.UserContext(), q, activity)
		if err != nil {
			return errFromService(c, err)
		}

		return c.JSON(newHeatmapResponse(q, activity, cells))
	}
}

// ListConditionsHandler returns the condition catalogue in tie-break order.
func ListConditionsHandler() fiber.Handler {
	all := domain.AllConditions()
	out := make([]ConditionInfo, 0, len(all))
	for _, ct := range all {
		out = append(out, conditionInfo(ct))
	}
	return func(c *fiber.Ctx) error {
		return c.JSON(out)
	}
}

// GetConditionHandler returns one condition by wire name.
func GetConditionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ct, err := domain.ParseConditionType(c.Params("name"))
		if err != nil {
			return errNotFound(c, err.Error())
		}
		return c.JSON(conditionInfo(ct))
	}
}

// ListActivitiesHandler returns each activity with its reweighting table.
func ListActivitiesHandler() fiber.Handler {
	out := activityCatalogue()
	return func(c *fiber.Ctx) error {
		return c.JSON(out)
	}
}

func newHeatmapResponse(q domain.HeatmapQuery, activity domain.ActivityType, cells []domain.HeatmapCell) HeatmapResponse {
	size := heatmap.CellSize(q.Zoom)
	ns, ew := geospatial.CellEdgeMeters((q.Bounds.South+q.Bounds.North)/2, size)
	return HeatmapResponse{
		Cells:       cells,
		Count:       len(cells),
		Zoom:        q.Zoom,
		Activity:    activity,
		CellSizeDeg: size,
		CellEdgeM:   CellEdge{NorthSouth: math.Round(ns), EastWest: math.Round(ew)},
	}
}

func conditionInfo(ct domain.ConditionType) ConditionInfo {
	return ConditionInfo{Name: ct.String(), Class: ct.Class(), HalfLifeDays: ct.HalfLifeDays()}
}

func activityCatalogue() []ActivityInfo {
	out := make([]ActivityInfo, 0, len(domain.Activities))
	for _, a := range domain.Activities {
		info := ActivityInfo{
			Name:              a,
			ConditionPriority: a.ConditionPriority(),
			Multipliers:       make(map[string]float64),
		}
		info.DefaultCondition, _ = a.DefaultCondition()
		for _, ct := range domain.AllConditions() {
			if m := heatmap.Multiplier(a, ct); m != 1 {
				info.Multipliers[ct.String()] = m
			}
		}
		out = append(out, info)
	}
	return out
}

// maxAbsZoom keeps absurd zoom values inside int range before rounding.
const maxAbsZoom = 1 << 20

// parseViewport reads south/north/west/east/zoom through get. Fractional
// zoom levels round to the nearest integer.
func parseViewport(get func(key string, defaultValue ...string) string) (domain.HeatmapQuery, error) {
	var q domain.HeatmapQuery
	var missing []string

	fields := []struct {
		name string
		dst  *float64
	}{
		{"south", &q.Bounds.South},
		{"north", &q.Bounds.North},
		{"west", &q.Bounds.West},
		{"east", &q.Bounds.East},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(get(f.name))
		if raw == "" {
			missing = append(missing, f.name)
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, fmt.Errorf("%s must be a number", f.name)
		}
		*f.dst = v
	}

	rawZoom := strings.TrimSpace(get("zoom"))
	if rawZoom == "" {
		missing = append(missing, "zoom")
	}
	if len(missing) > 0 {
		return q, fmt.Errorf("missing query parameters: %s", strings.Join(missing, ", "))
	}

	zoom, err := roundZoom(rawZoom)
	if err != nil {
		return q, err
	}
	q.Zoom = zoom

	if err := q.Validate(); err != nil {
		return q, err
	}
	return q, nil
}

func roundZoom(raw string) (int, error) {
	z, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New("zoom must be a finite number")
	}
	return zoomLevel(z)
}

func zoomLevel(z float64) (int, error) {
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0, errors.New("zoom must be a finite number")
	}
	return int(math.Round(math.Max(-maxAbsZoom, math.Min(maxAbsZoom, z)))), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
