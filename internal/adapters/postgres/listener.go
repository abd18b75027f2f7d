package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/roadreport/internal/core/domain"
	"github.com/samirrijal/roadreport/internal/pkg/fanout"
	"github.com/samirrijal/roadreport/internal/pkg/metrics"
)

// InsertChannel is the NOTIFY channel the condition_reports trigger uses.
const InsertChannel = "condition_report_inserted"

const relistenWait = 2 * time.Second

// Listener receives NOTIFY events for report inserts on a dedicated pool
// connection. It implements ports.ReportNotifier once Run is started.
type Listener struct {
	db      *DB
	channel string
	hub     *fanout.Hub
	logger  *slog.Logger
}

// NewListener creates a Listener on channel (InsertChannel if empty).
func NewListener(db *DB, channel string) *Listener {
	if channel == "" {
		channel = InsertChannel
	}
	return &Listener{
		db:      db,
		channel: channel,
		hub:     fanout.NewHub(),
		logger:  slog.Default().With("component", "pg_listener", "channel", channel),
	}
}

// Listen blocks until ctx is done, calling fn for every notification.
// A dropped connection is re-established after a short wait.
func (l *Listener) Listen(ctx context.Context, fn func(domain.ReportInserted)) error {
	for {
		err := l.listenOnce(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("listen connection lost, retrying", "error", err, "wait", relistenWait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(relistenWait):
		}
	}
}

// Run feeds subscribers registered through SubscribeReportInserted.
func (l *Listener) Run(ctx context.Context) error {
	return l.Listen(ctx, func(domain.ReportInserted) {
		metrics.NotificationsReceived.WithLabelValues("postgres").Inc()
		l.hub.Broadcast()
	})
}

// SubscribeReportInserted registers handler for insert signals.
func (l *Listener) SubscribeReportInserted(ctx context.Context, handler func()) (func() error, error) {
	remove := l.hub.Add(handler)
	return func() error {
		remove()
		return nil
	}, nil
}

func (l *Listener) listenOnce(ctx context.Context, fn func(domain.ReportInserted)) error {
	conn, err := l.db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer func() {
		// Do not hand a LISTENing connection back to the pool.
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("listening for report inserts")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		fn(decodeNotification(n.Payload, time.Now()))
	}
}

// decodeNotification turns a NOTIFY payload (the report id) into an event.
func decodeNotification(payload string, receivedAt time.Time) domain.ReportInserted {
	return domain.ReportInserted{
		ReportID:   strings.TrimSpace(payload),
		ReceivedAt: receivedAt.UTC(),
	}
}
