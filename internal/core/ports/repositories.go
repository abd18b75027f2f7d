package ports

import (
	"context"
	"time"

	"github.com/samirrijal/roadreport/internal/core/domain"
)

// ReportSource reads condition reports from the report store.
type ReportSource interface {
	// FetchReports returns the reports located inside bbox that are still
	// relevant at now. Order is unspecified.
	FetchReports(ctx context.Context, bbox domain.BoundingBox, now time.Time) ([]domain.ConditionReport, error)
}
