package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/roadreport/internal/adapters/http"
	"github.com/samirrijal/roadreport/internal/adapters/memory"
	natsadapter "github.com/samirrijal/roadreport/internal/adapters/nats"
	"github.com/samirrijal/roadreport/internal/adapters/postgres"
	"github.com/samirrijal/roadreport/internal/adapters/resilience"
	"github.com/samirrijal/roadreport/internal/adapters/valkey"
	"github.com/samirrijal/roadreport/internal/core/ports"
	"github.com/samirrijal/roadreport/internal/core/usecases"
	"github.com/samirrijal/roadreport/internal/pkg/config"
	"github.com/samirrijal/roadreport/internal/pkg/logging"
	"github.com/samirrijal/roadreport/internal/pkg/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load("roadreport-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, "roadreport-api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	checks := make(map[string]ports.HealthChecker)

	var (
		source   ports.ReportSource
		notifier ports.ReportNotifier
	)

	switch cfg.Database.Driver {
	case config.StoreDriverMemory:
		store := memory.NewReportStore(cfg.Heatmap.Lookback)
		source, notifier = store, store
		checks["store"] = store
		slog.Warn("using in-memory report store; reports are not persisted")

	default:
		db, err := postgres.New(ctx, cfg.Database.DSN())
		if err != nil {
			slog.Error("database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		checks["database"] = db
		g.Go(func() error {
			db.ReportPoolStats(gctx, 15*time.Second)
			return nil
		})

		source = postgres.NewReportRepo(db, cfg.Heatmap.Lookback)
		notifier, err = setupNotifier(gctx, g, cfg, db, checks)
		if err != nil {
			slog.Warn("report notifications unavailable, polling only", "driver", cfg.Notifications.Driver, "error", err)
			notifier = nil
		}
	}

	breaker := resilience.NewBreakerSource(source, resilience.BreakerConfig{
		Name:        "report_store",
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	})

	heatmapSvc := usecases.NewHeatmapService(breaker, nil)
	freshness := usecases.NewFreshnessCoordinator(heatmapSvc, notifier, usecases.FreshnessConfig{
		PollInterval:   cfg.Heatmap.PollInterval,
		DebounceWindow: cfg.Heatmap.DebounceWindow,
	})

	deps := &http.Dependencies{
		Heatmap:   heatmapSvc,
		Freshness: freshness,
		Checks:    checks,
		Breaker:   breaker,
		Version:   version,
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "RoadReport API",
	})
	app.Use(recover.New())

	http.SetupRoutes(app, deps, http.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowOrigins:   cfg.Server.AllowOrigins,
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "store", cfg.Database.Driver)
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down, draining connections")

		// Give in-flight requests up to 10s to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("api stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// setupNotifier connects the configured report-inserted signal source.
// Long-running receivers are started on g.
func setupNotifier(ctx context.Context, g *errgroup.Group, cfg *config.Config, db *postgres.DB, checks map[string]ports.HealthChecker) (ports.ReportNotifier, error) {
	switch cfg.Notifications.Driver {
	case config.DriverValkey:
		n, err := valkey.New(cfg.Valkey.Addr, cfg.Notifications.Subject)
		if err != nil {
			return nil, err
		}
		checks["valkey"] = n
		g.Go(func() error {
			defer n.Close()
			return n.Run(ctx)
		})
		return n, nil

	case config.DriverPostgres:
		l := postgres.NewListener(db, cfg.Notifications.Channel)
		g.Go(func() error { return l.Run(ctx) })
		return l, nil

	default:
		conn, err := natsadapter.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, err
		}
		n := natsadapter.NewNotifier(conn, cfg.Notifications.Subject)
		checks["nats"] = n
		g.Go(func() error {
			<-ctx.Done()
			conn.Close()
			return nil
		})
		return n, nil
	}
}
