package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirrijal/roadreport/internal/core/domain"
)

const fetchReportsSQL = `
	SELECT id::text,
	       ST_Y(location::geometry) AS lat,
	       ST_X(location::geometry) AS lng,
	       condition_type, severity,
	       COALESCE(description, ''), COALESCE(activity_context, ''),
	       upvotes, submitted_at
	FROM condition_reports
	WHERE location::geometry && ST_MakeEnvelope($1, $2, $3, $4, 4326)
	  AND submitted_at > $5
`

// ReportRepo implements ports.ReportSource over the condition_reports table.
type ReportRepo struct {
	db       *DB
	lookback time.Duration
	logger   *slog.Logger
}

// NewReportRepo creates a ReportRepo returning reports newer than
// now - lookback. A zero lookback returns every report.
func NewReportRepo(db *DB, lookback time.Duration) *ReportRepo {
	return &ReportRepo{
		db:       db,
		lookback: lookback,
		logger:   slog.Default().With("component", "report_repo"),
	}
}

// FetchReports returns the reports inside bbox submitted within the
// lookback window. Rows with an unknown condition or out-of-range severity
// are logged and skipped.
func (r *ReportRepo) FetchReports(ctx context.Context, bbox domain.BoundingBox, now time.Time) ([]domain.ConditionReport, error) {
	rows, err := r.db.Pool.Query(ctx, fetchReportsSQL,
		bbox.West, bbox.South, bbox.East, bbox.North, r.since(now))
	if err != nil {
		return nil, fmt.Errorf("query condition reports: %w", err)
	}
	defer rows.Close()

	reports := make([]domain.ConditionReport, 0, 64)
	for rows.Next() {
		var rep domain.ConditionReport
		var condition, activity string
		if err := rows.Scan(
			&rep.ID, &rep.Location.Lat, &rep.Location.Lng,
			&condition, &rep.Severity,
			&rep.Description, &activity,
			&rep.Upvotes, &rep.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("scan condition report: %w", err)
		}

		row, err := decodeReport(rep, condition, activity)
		if err != nil {
			r.logger.Warn("skipping malformed report", "id", rep.ID, "error", err)
			continue
		}
		reports = append(reports, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate condition reports: %w", err)
	}
	return reports, nil
}

// since is the exclusive lower bound on submitted_at.
func (r *ReportRepo) since(now time.Time) time.Time {
	if r.lookback <= 0 {
		return time.Time{}
	}
	return now.Add(-r.lookback)
}

// decodeReport validates the text columns of a scanned row.
func decodeReport(rep domain.ConditionReport, condition, activity string) (domain.ConditionReport, error) {
	ct, err := domain.ParseConditionType(condition)
	if err != nil {
		return rep, err
	}
	rep.ConditionType = ct

	if rep.Severity < domain.MinSeverity || rep.Severity > domain.MaxSeverity {
		return rep, fmt.Errorf("severity %d out of range", rep.Severity)
	}

	// The activity context is informational; drop values we do not know.
	if a, err := domain.ParseActivityType(activity); err == nil {
		rep.ActivityContext = a
	}
	return rep, nil
}
