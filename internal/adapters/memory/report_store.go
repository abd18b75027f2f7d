// Package memory provides an in-process report store for local runs and
// tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/samirrijal/roadreport/internal/core/domain"
	"github.com/samirrijal/roadreport/internal/pkg/fanout"
	"github.com/samirrijal/roadreport/internal/pkg/geospatial"
)

// ReportStore implements ports.ReportSource and ports.ReportNotifier.
type ReportStore struct {
	mu       sync.RWMutex
	reports  []domain.ConditionReport
	lookback time.Duration
	hub      *fanout.Hub
}

// NewReportStore creates an empty store. A zero lookback keeps every report.
func NewReportStore(lookback time.Duration) *ReportStore {
	return &ReportStore{lookback: lookback, hub: fanout.NewHub()}
}

// Add stores reports and signals subscribers once.
func (s *ReportStore) Add(reports ...domain.ConditionReport) {
	if len(reports) == 0 {
		return
	}
	s.mu.Lock()
	s.reports = append(s.reports, reports...)
	s.mu.Unlock()
	s.hub.Broadcast()
}

// Len returns the number of stored reports.
func (s *ReportStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

// FetchReports returns copies of the reports inside bbox, edges included.
func (s *ReportStore) FetchReports(ctx context.Context, bbox domain.BoundingBox, now time.Time) ([]domain.ConditionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rect := geospatial.Rect(bbox.South, bbox.West, bbox.North, bbox.East)
	var cutoff time.Time
	if s.lookback > 0 {
		cutoff = now.Add(-s.lookback)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ConditionReport, 0, len(s.reports))
	for _, r := range s.reports {
		if s.lookback > 0 && !r.SubmittedAt.After(cutoff) {
			continue
		}
		if geospatial.RectContains(rect, r.Location.Lat, r.Location.Lng) {
			out = append(out, r)
		}
	}
	return out, nil
}

// SubscribeReportInserted registers handler, called after every Add.
func (s *ReportStore) SubscribeReportInserted(ctx context.Context, handler func()) (func() error, error) {
	remove := s.hub.Add(handler)
	return func() error {
		remove()
		return nil
	}, nil
}

// Ping always succeeds.
func (s *ReportStore) Ping(context.Context) error { return nil }
