package heatmap

import (
	"fmt"

	"github.com/samirrijal/roadreport/internal/core/domain"
)

// activityWeights holds per-activity score multipliers keyed by a cell's top
// condition. Pairs that are not listed use 1.0.
var activityWeights = map[domain.ActivityType]map[domain.ConditionType]float64{
	domain.ActivityRunning: {
		domain.ConditionIce:           1.5,
		domain.ConditionSnow:          1.5,
		domain.ConditionMud:           1.5,
		domain.ConditionFlooding:      1.5,
		domain.ConditionStandingWater: 1.5,
	},
	domain.ActivityWalking: {
		domain.ConditionIce:            1.5,
		domain.ConditionSnow:           1.5,
		domain.ConditionCrack:          1.5,
		domain.ConditionUnevenSurface:  1.5,
		domain.ConditionPothole:        1.2,
		domain.ConditionMissingSection: 1.2,
		domain.ConditionDebris:         1.2,
		domain.ConditionBrokenGlass:    1.2,
		domain.ConditionPoorLighting:   1.2,
		domain.ConditionConstruction:   1.2,
		domain.ConditionCongestion:     1.2,
		domain.ConditionMud:            1.2,
		domain.ConditionFlooding:       1.2,
		domain.ConditionStandingWater:  1.2,
	},
	domain.ActivityBiking: {
		domain.ConditionPothole:    1.5,
		domain.ConditionFlooding:   1.5,
		domain.ConditionCongestion: 1.5,
	},
	domain.ActivityCommuting: {
		domain.ConditionCongestion: 1.8,
	},
}

// Multiplier returns the score multiplier for a cell whose top condition is
// c when the user is doing activity a. ActivityNone always yields 1.0.
// Panics on an activity outside the enumeration.
func Multiplier(a domain.ActivityType, c domain.ConditionType) float64 {
	if !a.Valid() {
		panic(fmt.Sprintf("heatmap: unknown activity %q", string(a)))
	}
	if m, ok := activityWeights[a][c]; ok {
		return m
	}
	return 1.0
}

// Reweight scales a cell's score for the selected activity, capped at
// MaxScore. All other fields are returned unchanged.
func Reweight(cell domain.HeatmapCell, a domain.ActivityType) domain.HeatmapCell {
	m := Multiplier(a, cell.TopCondition)
	if m == 1.0 {
		return cell
	}
	cell.AvgScore = clampScore(cell.AvgScore * m)
	return cell
}

// ReweightAll applies Reweight to every cell, returning a new slice in the
// same order. The input is not modified.
func ReweightAll(cells []domain.HeatmapCell, a domain.ActivityType) []domain.HeatmapCell {
	out := make([]domain.HeatmapCell, len(cells))
	for i, c := range cells {
		out[i] = Reweight(c, a)
	}
	return out
}
