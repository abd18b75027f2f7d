package heatmap

import (
	"math"
	"time"

	"github.com/samirrijal/roadreport/internal/core/domain"
)

const day = 24 * time.Hour

// AgeDays returns the fractional age in days of a report submitted at
// submittedAt, observed at now. Reports dated in the future have age 0.
func AgeDays(submittedAt, now time.Time) float64 {
	age := now.Sub(submittedAt)
	if age <= 0 {
		return 0
	}
	return float64(age) / float64(day)
}

// decayExponent is ageDays / halfLife, the number of elapsed half-lives.
func decayExponent(ageDays float64, c domain.ConditionType) float64 {
	if ageDays <= 0 {
		return 0
	}
	return ageDays / c.HalfLifeDays()
}

// DecayWeight returns 0.5^(ageDays / halfLife) for the condition's class.
// The result is always in (0, 1]: a report aged 0 weighs exactly 1, and
// weights that would underflow are floored at the smallest positive float64.
// Panics if c is not a known condition.
func DecayWeight(ageDays float64, c domain.ConditionType) float64 {
	w := math.Exp2(-decayExponent(ageDays, c))
	if w <= 0 {
		return math.SmallestNonzeroFloat64
	}
	return w
}

// ReportWeight is DecayWeight for a report observed at now.
func ReportWeight(r domain.ConditionReport, now time.Time) float64 {
	return DecayWeight(AgeDays(r.SubmittedAt, now), r.ConditionType)
}
