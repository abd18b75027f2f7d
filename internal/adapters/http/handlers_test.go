package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	handler "github.com/samirrijal/roadreport/internal/adapters/http"
	"github.com/samirrijal/roadreport/internal/adapters/memory"
	"github.com/samirrijal/roadreport/internal/core/domain"
	"github.com/samirrijal/roadreport/internal/core/ports"
	"github.com/samirrijal/roadreport/internal/core/usecases"
)

const bostonViewport = "south=42.34&north=42.38&west=-71.12&east=-71.05&zoom=13"

// ---- Fixtures ----

type testEnv struct {
	store *memory.ReportStore
	clock *clock.Mock
}

type failingSource struct{ err error }

func (f failingSource) FetchReports(context.Context, domain.BoundingBox, time.Time) ([]domain.ConditionReport, error) {
	return nil, f.err
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type staticBreaker string

func (b staticBreaker) State() string { return string(b) }

// newTestApp builds the full router over an in-memory store holding an
// ice report and a pothole report in two Boston cells.
func newTestApp(t *testing.T, overrides ...func(*handler.Dependencies)) (*fiber.App, *testEnv) {
	t.Helper()

	env := &testEnv{store: memory.NewReportStore(30 * 24 * time.Hour), clock: clock.NewMock()}
	env.clock.Add(365 * 24 * time.Hour)
	now := env.clock.Now()
	env.store.Add(
		domain.ConditionReport{ID: "ice-1", Location: domain.GeoPoint{Lat: 42.3601, Lng: -71.0589}, ConditionType: domain.ConditionIce, Severity: 2, SubmittedAt: now.Add(-time.Hour)},
		domain.ConditionReport{ID: "pothole-1", Location: domain.GeoPoint{Lat: 42.3500, Lng: -71.1000}, ConditionType: domain.ConditionPothole, Severity: 1, SubmittedAt: now.Add(-24 * time.Hour)},
	)

	svc := usecases.NewHeatmapService(env.store, env.clock)
	deps := &handler.Dependencies{
		Heatmap:   svc,
		Freshness: usecases.NewFreshnessCoordinator(svc, env.store, usecases.FreshnessConfig{Clock: env.clock}),
		Checks:    map[string]ports.HealthChecker{"store": env.store},
		Version:   "test",
	}
	for _, o := range overrides {
		o(deps)
	}

	app := fiber.New()
	handler.SetupRoutes(app, deps, handler.RouterConfig{})
	return app, env
}

func doGet(t *testing.T, app *fiber.App, target string) (int, []byte, map[string]string) {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	headers := map[string]string{
		fiber.HeaderCacheControl: resp.Header.Get(fiber.HeaderCacheControl),
		fiber.HeaderETag:         resp.Header.Get(fiber.HeaderETag),
		fiber.HeaderRetryAfter:   resp.Header.Get(fiber.HeaderRetryAfter),
	}
	return resp.StatusCode, body, headers
}

func decodeAPIError(t *testing.T, body []byte) handler.APIError {
	t.Helper()
	var apiErr handler.APIError
	require.NoError(t, json.Unmarshal(body, &apiErr))
	return apiErr
}

// ---- Heatmap ----

func TestHeatmap_Success(t *testing.T) {
	app, _ := newTestApp(t)

	status, body, headers := doGet(t, app, "/v1/heatmap?"+bostonViewport)
	require.Equal(t, fiber.StatusOK, status, string(body))

	var res handler.HeatmapResponse
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 13, res.Zoom)
	assert.Equal(t, 0.01, res.CellSizeDeg)
	assert.InDelta(t, 1112.0, res.CellEdgeM.NorthSouth, 2)
	assert.Greater(t, res.CellEdgeM.NorthSouth, res.CellEdgeM.EastWest)

	require.Len(t, res.Cells, 2)
	assert.Equal(t, domain.ConditionIce, res.Cells[0].TopCondition)
	assert.InDelta(t, 2.0, res.Cells[0].AvgScore, 1e-9)
	assert.True(t, res.Cells[0].LowData)
	assert.Equal(t, domain.ConditionPothole, res.Cells[1].TopCondition)
	assert.InDelta(t, 1.0, res.Cells[1].AvgScore, 1e-9)

	assert.Equal(t, "private, max-age=0, must-revalidate", headers[fiber.HeaderCacheControl])
	assert.NotEmpty(t, headers[fiber.HeaderETag])
}

func TestHeatmap_ActivityReweights(t *testing.T) {
	app, _ := newTestApp(t)

	status, body, _ := doGet(t, app, "/v1/heatmap?"+bostonViewport+"&activity=running")
	require.Equal(t, fiber.StatusOK, status, string(body))

	var res handler.HeatmapResponse
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, domain.ActivityRunning, res.Activity)
	require.Len(t, res.Cells, 2)
	assert.InDelta(t, 3.0, res.Cells[0].AvgScore, 1e-9, "ice x1.5 for running")
	assert.InDelta(t, 1.0, res.Cells[1].AvgScore, 1e-9, "pothole unchanged for running")
}

func TestHeatmap_FractionalZoomRounds(t *testing.T) {
	app, _ := newTestApp(t)

	status, body, _ := doGet(t, app, "/v1/heatmap?south=42.34&north=42.38&west=-71.12&east=-71.05&zoom=12.6")
	require.Equal(t, fiber.StatusOK, status, string(body))

	var res handler.HeatmapResponse
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 13, res.Zoom)
}

func TestHeatmap_EmptyViewport(t *testing.T) {
	app, _ := newTestApp(t)

	status, body, _ := doGet(t, app, "/v1/heatmap?south=10&north=11&west=10&east=11&zoom=9")
	require.Equal(t, fiber.StatusOK, status)

	var res handler.HeatmapResponse
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 0, res.Count)
	assert.NotNil(t, res.Cells)
	assert.Contains(t, string(body), `"cells":[]`)
}

func TestHeatmap_BadRequests(t *testing.T) {
	app, _ := newTestApp(t)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"missing all", "", "missing query parameters: south, north, west, east, zoom"},
		{"missing zoom", "south=1&north=2&west=1&east=2", "zoom"},
		{"not a number", "south=abc&north=2&west=1&east=2&zoom=3", "south must be a number"},
		{"inverted latitudes", "south=43&north=42&west=-71&east=-70&zoom=10", "south"},
		{"out of range", "south=-91&north=2&west=1&east=2&zoom=3", "south"},
		{"bad zoom", "south=1&north=2&west=1&east=2&zoom=NaN", "zoom must be a finite number"},
		{"unknown activity", bostonViewport + "&activity=swimming", "unknown activity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body, _ := doGet(t, app, "/v1/heatmap?"+tt.query)
			require.Equal(t, fiber.StatusBadRequest, status, string(body))

			apiErr := decodeAPIError(t, body)
			assert.Equal(t, "bad_request", apiErr.Code)
			assert.Contains(t, apiErr.Message, tt.want)
		})
	}
}

func TestHeatmap_SourceUnavailable(t *testing.T) {
	app, _ := newTestApp(t, func(d *handler.Dependencies) {
		d.Heatmap = usecases.NewHeatmapService(failingSource{err: errors.New("dial tcp: connection refused")}, nil)
	})

	status, body, headers := doGet(t, app, "/v1/heatmap?"+bostonViewport)
	require.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "5", headers[fiber.HeaderRetryAfter])

	apiErr := decodeAPIError(t, body)
	assert.Equal(t, "report_source_unavailable", apiErr.Code)
	assert.NotContains(t, apiErr.Message, "connection refused")
}

func TestHeatmap_FetchTimeout(t *testing.T) {
	app, _ := newTestApp(t, func(d *handler.Dependencies) {
		d.Heatmap = usecases.NewHeatmapService(failingSource{err: fmt.Errorf("query reports: %w", context.DeadlineExceeded)}, nil)
	})

	status, body, headers := doGet(t, app, "/v1/heatmap?"+bostonViewport)
	require.Equal(t, fiber.StatusGatewayTimeout, status)
	assert.Empty(t, headers[fiber.HeaderRetryAfter])

	apiErr := decodeAPIError(t, body)
	assert.Equal(t, "timeout", apiErr.Code)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestHeatmap_ETagNotModified(t *testing.T) {
	app, _ := newTestApp(t)

	status, _, headers := doGet(t, app, "/v1/heatmap?"+bostonViewport)
	require.Equal(t, fiber.StatusOK, status)
	etag := headers[fiber.HeaderETag]
	require.NotEmpty(t, etag)

	req := httptest.NewRequest("GET", "/v1/heatmap?"+bostonViewport, nil)
	req.Header.Set(fiber.HeaderIfNoneMatch, `W/"other", `+etag)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotModified, resp.StatusCode)
}

// ---- Catalogues ----

func TestListConditions(t *testing.T) {
	app, _ := newTestApp(t)

	status, body, headers := doGet(t, app, "/v1/conditions")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "public, max-age=3600", headers[fiber.HeaderCacheControl])

	var out []handler.ConditionInfo
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out, domain.ConditionCount)
	assert.Equal(t, "ice", out[0].Name)
	assert.Equal(t, domain.ClassWeatherEnvironmental, out[0].Class)
	assert.Equal(t, "congestion", out[len(out)-1].Name)
}

func TestGetCondition(t *testing.T) {
	app, _ := newTestApp(t)

	status, body, _ := doGet(t, app, "/v1/conditions/pothole")
	require.Equal(t, fiber.StatusOK, status)

	var info handler.ConditionInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, "pothole", info.Name)
	assert.Equal(t, domain.ClassStructural, info.Class)
	assert.Equal(t, domain.ConditionPothole.HalfLifeDays(), info.HalfLifeDays)

	status, body, _ = doGet(t, app, "/v1/conditions/lava")
	require.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "not_found", decodeAPIError(t, body).Code)
}

func TestListActivities(t *testing.T) {
	app, _ := newTestApp(t)

	status, body, _ := doGet(t, app, "/v1/activities")
	require.Equal(t, fiber.StatusOK, status)

	var out []handler.ActivityInfo
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out, len(domain.Activities))

	byName := make(map[domain.ActivityType]handler.ActivityInfo)
	for _, a := range out {
		byName[a.Name] = a
	}
	assert.Equal(t, domain.ConditionCongestion, byName[domain.ActivityCommuting].DefaultCondition)
	assert.Equal(t, 1.8, byName[domain.ActivityCommuting].Multipliers["congestion"])
	assert.Equal(t, 1.5, byName[domain.ActivityBiking].Multipliers["pothole"])
	assert.NotContains(t, byName[domain.ActivityBiking].Multipliers, "ice", "neutral multipliers are omitted")
	assert.Len(t, byName[domain.ActivityWalking].ConditionPriority, domain.ConditionCount)
}

// ---- Health ----

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)

	status, body, headers := doGet(t, app, "/v1/health")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "no-store", headers[fiber.HeaderCacheControl])
	assert.Empty(t, headers[fiber.HeaderETag])
	assert.Contains(t, string(body), `"version":"test"`)
}

func TestReady(t *testing.T) {
	t.Run("all ok", func(t *testing.T) {
		app, _ := newTestApp(t, func(d *handler.Dependencies) {
			d.Breaker = staticBreaker("closed")
		})
		status, body, _ := doGet(t, app, "/v1/ready")
		require.Equal(t, fiber.StatusOK, status, string(body))
		assert.Contains(t, string(body), `"store":"ok"`)
	})

	t.Run("dependency down", func(t *testing.T) {
		app, _ := newTestApp(t, func(d *handler.Dependencies) {
			d.Checks["nats"] = pingFunc(func(context.Context) error { return errors.New("no servers available") })
		})
		status, body, _ := doGet(t, app, "/v1/ready")
		require.Equal(t, fiber.StatusServiceUnavailable, status)
		assert.Contains(t, string(body), "no servers available")
	})

	t.Run("breaker open", func(t *testing.T) {
		app, _ := newTestApp(t, func(d *handler.Dependencies) {
			d.Breaker = staticBreaker("open")
		})
		status, body, _ := doGet(t, app, "/v1/ready")
		require.Equal(t, fiber.StatusServiceUnavailable, status)
		assert.Contains(t, string(body), `"report_source_breaker":"open"`)
	})
}

// ---- GraphQL ----

func postGraphQL(t *testing.T, app *fiber.App, query string) map[string]any {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"query": query})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(string(payload)))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestGraphQL_HeatmapCells(t *testing.T) {
	app, _ := newTestApp(t)

	out := postGraphQL(t, app, `{
		heatmapCells(south: 42.34, north: 42.38, west: -71.12, east: -71.05, zoom: 13, activity: "running") {
			avg_score top_condition report_count low_data
		}
	}`)
	require.Nil(t, out["errors"])

	cells := out["data"].(map[string]any)["heatmapCells"].([]any)
	require.Len(t, cells, 2)
	first := cells[0].(map[string]any)
	assert.Equal(t, "ice", first["top_condition"])
	assert.InDelta(t, 3.0, first["avg_score"], 1e-9)
	assert.EqualValues(t, 1, first["report_count"])
	assert.Equal(t, true, first["low_data"])
}

func TestGraphQL_InvalidViewport(t *testing.T) {
	app, _ := newTestApp(t)

	out := postGraphQL(t, app, `{ heatmapCells(south: 50, north: 40, west: 0, east: 1, zoom: 10) { avg_score } }`)
	errs, ok := out["errors"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].(map[string]any)["message"], "invalid")
}

func TestGraphQL_SourceUnavailableQuotesRequestID(t *testing.T) {
	app, _ := newTestApp(t, func(d *handler.Dependencies) {
		d.Heatmap = usecases.NewHeatmapService(failingSource{err: errors.New("dial tcp: connection refused")}, nil)
	})

	out := postGraphQL(t, app, `{ heatmapCells(south: 42.34, north: 42.38, west: -71.12, east: -71.05, zoom: 13) { avg_score } }`)
	errs, ok := out["errors"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, errs)

	msg := errs[0].(map[string]any)["message"].(string)
	assert.True(t, strings.HasPrefix(msg, "report_source_unavailable: "), msg)
	assert.Contains(t, msg, "(request ")
	assert.NotContains(t, msg, "connection refused")
}

func TestGraphQL_Catalogues(t *testing.T) {
	app, _ := newTestApp(t)

	out := postGraphQL(t, app, `{ conditions { name class } activities { name default_condition multipliers { condition multiplier } } }`)
	require.Nil(t, out["errors"])

	data := out["data"].(map[string]any)
	conditions := data["conditions"].([]any)
	require.Len(t, conditions, domain.ConditionCount)
	assert.Equal(t, "ice", conditions[0].(map[string]any)["name"])

	activities := data["activities"].([]any)
	require.Len(t, activities, len(domain.Activities))
	commuting := activities[3].(map[string]any)
	assert.Equal(t, "commuting", commuting["name"])
	assert.Equal(t, "congestion", commuting["default_condition"])
	mults := commuting["multipliers"].([]any)
	require.Len(t, mults, 1)
	assert.InDelta(t, 1.8, mults[0].(map[string]any)["multiplier"], 1e-9)
}

func TestGraphQL_BadBody(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest("POST", "/graphql", strings.NewReader("{not json"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

// ---- Misc ----

func TestWebSocketRequiresUpgrade(t *testing.T) {
	app, _ := newTestApp(t)

	status, _, _ := doGet(t, app, "/ws")
	assert.Equal(t, fiber.StatusUpgradeRequired, status)
}

func TestDocsServed(t *testing.T) {
	handler.OpenAPIPath = findOpenAPISpec(t)
	app, _ := newTestApp(t)

	status, body, headers := doGet(t, app, "/docs")
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body), "swagger-ui")
	assert.Equal(t, "public, max-age=300", headers[fiber.HeaderCacheControl])

	status, body, _ = doGet(t, app, "/docs/openapi.json")
	require.Equal(t, fiber.StatusOK, status)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])

	status, _, _ = doGet(t, app, "/docs/openapi.yaml")
	assert.Equal(t, fiber.StatusOK, status)
}
