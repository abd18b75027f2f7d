// Command relay forwards Postgres report-inserted notifications to the
// NATS and Valkey channels the API instances listen on.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	natsadapter "github.com/samirrijal/roadreport/internal/adapters/nats"
	"github.com/samirrijal/roadreport/internal/adapters/postgres"
	"github.com/samirrijal/roadreport/internal/adapters/valkey"
	"github.com/samirrijal/roadreport/internal/core/domain"
	"github.com/samirrijal/roadreport/internal/core/ports"
	"github.com/samirrijal/roadreport/internal/pkg/config"
	"github.com/samirrijal/roadreport/internal/pkg/logging"
	"github.com/samirrijal/roadreport/internal/pkg/metrics"
)

const publishTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load("roadreport-relay")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, "roadreport-relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		slog.Error("database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	r := &relay{logger: slog.Default().With("component", "relay")}

	if pub, err := natsadapter.NewPublisher(cfg.NATS.URL, cfg.Notifications.Subject); err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		r.sinks = append(r.sinks, sink{name: "nats", pub: pub})
	}
	if vn, err := valkey.New(cfg.Valkey.Addr, cfg.Notifications.Subject); err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer vn.Close()
		r.sinks = append(r.sinks, sink{name: "valkey", pub: vn})
	}
	if len(r.sinks) == 0 {
		slog.Error("no notification sink reachable")
		os.Exit(1)
	}

	listener := postgres.NewListener(db, cfg.Notifications.Channel)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("relay started", "channel", cfg.Notifications.Channel, "sinks", r.names())
		return listener.Listen(gctx, func(ev domain.ReportInserted) {
			metrics.NotificationsReceived.WithLabelValues("postgres").Inc()
			r.forward(gctx, ev)
		})
	})
	g.Go(func() error {
		db.ReportPoolStats(gctx, 15*time.Second)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("relay stopped")
}

type sink struct {
	name string
	pub  ports.ReportPublisher
}

// relay publishes each notification to every sink. A failing sink does not
// stop delivery to the others.
type relay struct {
	sinks  []sink
	logger *slog.Logger
}

func (r *relay) forward(ctx context.Context, ev domain.ReportInserted) {
	for _, s := range r.sinks {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := s.pub.PublishReportInserted(pctx, ev)
		cancel()
		if err != nil {
			r.logger.Warn("publish failed", "sink", s.name, "report_id", ev.ReportID, "error", err)
			continue
		}
		metrics.NotificationsRelayed.WithLabelValues(s.name).Inc()
	}
}

func (r *relay) names() []string {
	out := make([]string, 0, len(r.sinks))
	for _, s := range r.sinks {
		out = append(out, s.name)
	}
	return out
}
