package ports

import (
	"context"

	"github.com/samirrijal/roadreport/internal/core/domain"
)

// ReportNotifier delivers "a report was inserted" signals from a broker.
// Signals carry no payload the coordinator relies on; duplicates and
// reordering are harmless.
type ReportNotifier interface {
	SubscribeReportInserted(ctx context.Context, handler func()) (unsubscribe func() error, err error)
}

// ReportPublisher broadcasts insert notifications to subscribers.
type ReportPublisher interface {
	PublishReportInserted(ctx context.Context, ev domain.ReportInserted) error
}

// HealthChecker is implemented by adapters that can report readiness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
