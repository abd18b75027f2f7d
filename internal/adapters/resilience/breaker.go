// Package resilience guards outbound dependencies with circuit breakers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/samirrijal/roadreport/internal/core/domain"
	"github.com/samirrijal/roadreport/internal/core/ports"
	"github.com/samirrijal/roadreport/internal/pkg/metrics"
)

// BreakerConfig tunes BreakerSource.
type BreakerConfig struct {
	Name        string
	MaxFailures uint32        // consecutive failures before opening
	OpenTimeout time.Duration // time spent open before a trial request
}

// BreakerSource is a ports.ReportSource that stops calling the wrapped
// source while it keeps failing.
type BreakerSource struct {
	next ports.ReportSource
	cb   *gobreaker.CircuitBreaker[[]domain.ConditionReport]
}

// NewBreakerSource wraps next.
func NewBreakerSource(next ports.ReportSource, cfg BreakerConfig) *BreakerSource {
	if cfg.Name == "" {
		cfg.Name = "report_source"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	logger := slog.Default().With("component", "breaker", "breaker", cfg.Name)

	cb := gobreaker.NewCircuitBreaker[[]domain.ConditionReport](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// A caller hanging up says nothing about the store.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			logger.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return &BreakerSource{next: next, cb: cb}
}

// FetchReports implements ports.ReportSource. While the breaker is open the
// error wraps both domain.ErrReportSourceUnavailable and gobreaker.ErrOpenState.
func (b *BreakerSource) FetchReports(ctx context.Context, bbox domain.BoundingBox, now time.Time) ([]domain.ConditionReport, error) {
	reports, err := b.cb.Execute(func() ([]domain.ConditionReport, error) {
		return b.next.FetchReports(ctx, bbox, now)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", domain.ErrReportSourceUnavailable, err)
	}
	return reports, err
}

// State returns the breaker state name for readiness output.
func (b *BreakerSource) State() string {
	return b.cb.State().String()
}
