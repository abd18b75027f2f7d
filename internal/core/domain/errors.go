package domain

import "errors"

var (
	// ErrInvalidQuery is returned for a malformed viewport; such a query
	// never reaches the aggregation engine.
	ErrInvalidQuery = errors.New("invalid heatmap query")

	// ErrReportSourceUnavailable wraps failures of the report store. Data
	// already shown stays valid and the next trigger retries.
	ErrReportSourceUnavailable = errors.New("report source unavailable")
)
