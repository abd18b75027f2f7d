package domain

import (
	"time"
)

// Severity bounds for a condition report: 1 = good/mild, 2 = fair, 3 = poor/severe.
const (
	MinSeverity = 1
	MaxSeverity = 3
)

// ConditionReport is a single user-submitted observation. The engine only
// reads reports; it never mutates or deletes them.
type ConditionReport struct {
	ID              string        `json:"id"`
	Location        GeoPoint      `json:"location"`
	ConditionType   ConditionType `json:"condition_type"`
	Severity        int           `json:"severity"`
	Description     string        `json:"description,omitempty"`
	ActivityContext ActivityType  `json:"activity_context,omitempty"`
	Upvotes         int           `json:"upvotes"`
	SubmittedAt     time.Time     `json:"submitted_at"`
}

// HeatmapCell is an aggregate of the reports snapped into one grid cell.
// Cells are recomputed on demand and never persisted.
type HeatmapCell struct {
	CellLat        float64       `json:"cell_lat"`
	CellLng        float64       `json:"cell_lng"`
	ReportCount    int           `json:"report_count"`
	AvgScore       float64       `json:"avg_score"` // 0 (best) to 3 (worst)
	TopCondition   ConditionType `json:"top_condition"`
	LatestReportAt time.Time     `json:"latest_report_at"`
	LowData        bool          `json:"low_data"`
}

// ReportInserted is the payload relayed when the store accepts a new report.
// Consumers must treat it as a bare "something changed" signal.
type ReportInserted struct {
	ReportID   string    `json:"report_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
