package heatmap

import (
	"math"
	"sort"
	"time"

	"github.com/samirrijal/roadreport/internal/core/domain"
)

const (
	// MaxCells bounds the number of cells returned for a single query.
	MaxCells = 500

	// LowDataThreshold is the report count below which a cell is flagged
	// as not yet reliable.
	LowDataThreshold = 3

	// MaxScore is the upper bound of a cell score (worst conditions).
	MaxScore = 3.0
)

type cellAcc struct {
	key       cellKey
	count     int
	minExp    float64 // decay exponent of the freshest report in the cell
	weightSum float64
	scoreSum  float64
	byType    [domain.ConditionCount]float64
	latest    time.Time
}

// Aggregate buckets reports into zoom-dependent grid cells and scores each
// cell by decay-weighted mean severity. The result holds at most MaxCells
// cells ordered by AvgScore descending; cells with equal scores keep the
// order in which their first report appeared. Empty input gives an empty,
// non-nil slice.
//
// Weights inside a cell are normalised to the freshest report before being
// summed. The mean and the per-condition comparison are scale invariant, so
// this gives the same result as absolute weights without underflowing for
// very old reports.
//
// Panics if a report carries an unknown condition type.
func Aggregate(q domain.HeatmapQuery, reports []domain.ConditionReport, now time.Time) []domain.HeatmapCell {
	if len(reports) == 0 {
		return []domain.HeatmapCell{}
	}

	size := CellSize(q.Zoom)
	exps := make([]float64, len(reports))
	groupOf := make([]int, len(reports))
	index := make(map[cellKey]int)
	var groups []cellAcc

	for i, r := range reports {
		k := keyFor(r.Location.Lat, r.Location.Lng, size)
		e := decayExponent(AgeDays(r.SubmittedAt, now), r.ConditionType)
		exps[i] = e

		g, ok := index[k]
		if !ok {
			g = len(groups)
			index[k] = g
			groups = append(groups, cellAcc{key: k, minExp: e, latest: r.SubmittedAt})
		}
		groupOf[i] = g

		acc := &groups[g]
		acc.count++
		if e < acc.minExp {
			acc.minExp = e
		}
		if r.SubmittedAt.After(acc.latest) {
			acc.latest = r.SubmittedAt
		}
	}

	for i, r := range reports {
		acc := &groups[groupOf[i]]
		w := math.Exp2(acc.minExp - exps[i])
		acc.weightSum += w
		acc.scoreSum += float64(r.Severity) * w
		acc.byType[r.ConditionType] += w
	}

	cells := make([]domain.HeatmapCell, len(groups))
	for i := range groups {
		cells[i] = groups[i].cell()
	}

	sort.SliceStable(cells, func(i, j int) bool {
		return cells[i].AvgScore > cells[j].AvgScore
	})

	if len(cells) > MaxCells {
		cells = cells[:MaxCells]
	}
	return cells
}

func (a *cellAcc) cell() domain.HeatmapCell {
	return domain.HeatmapCell{
		CellLat:        a.key.lat,
		CellLng:        a.key.lng,
		ReportCount:    a.count,
		AvgScore:       clampScore(a.scoreSum / a.weightSum),
		TopCondition:   a.topCondition(),
		LatestReportAt: a.latest,
		LowData:        a.count < LowDataThreshold,
	}
}

// topCondition picks the condition with the largest weight sum. Scanning in
// enumeration order with a strict comparison makes the first listed
// condition win ties.
func (a *cellAcc) topCondition() domain.ConditionType {
	best := domain.ConditionType(0)
	bestWeight := -1.0
	for i, w := range a.byType {
		if w > bestWeight {
			best = domain.ConditionType(i)
			bestWeight = w
		}
	}
	return best
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(MaxScore, v))
}
