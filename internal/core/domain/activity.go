package domain

import (
	"fmt"
	"strings"
)

// ActivityType selects how heatmap scores are weighted for the user.
// The zero value means no activity is selected.
type ActivityType string

const (
	ActivityNone      ActivityType = ""
	ActivityRunning   ActivityType = "running"
	ActivityWalking   ActivityType = "walking"
	ActivityBiking    ActivityType = "biking"
	ActivityCommuting ActivityType = "commuting"
)

// Activities lists the selectable activities in display order.
var Activities = []ActivityType{ActivityRunning, ActivityWalking, ActivityBiking, ActivityCommuting}

// Valid reports whether a is a known activity or ActivityNone.
func (a ActivityType) Valid() bool {
	switch a {
	case ActivityNone, ActivityRunning, ActivityWalking, ActivityBiking, ActivityCommuting:
		return true
	}
	return false
}

// ParseActivityType accepts a known activity name or the empty string.
func ParseActivityType(s string) (ActivityType, error) {
	a := ActivityType(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return ActivityNone, fmt.Errorf("unknown activity %q", s)
	}
	return a, nil
}

// activityConditionPriority is the order in which conditions are presented
// to a user doing the given activity, most relevant first.
var activityConditionPriority = map[ActivityType][]ConditionType{
	ActivityRunning: {
		ConditionIce, ConditionSnow, ConditionCrack, ConditionUnevenSurface, ConditionMud,
		ConditionDebris, ConditionPothole, ConditionFlooding, ConditionStandingWater,
		ConditionMissingSection, ConditionBrokenGlass, ConditionPoorLighting,
		ConditionConstruction, ConditionCongestion,
	},
	ActivityWalking: {
		ConditionIce, ConditionUnevenSurface, ConditionCrack, ConditionDebris, ConditionSnow,
		ConditionMud, ConditionBrokenGlass, ConditionPothole, ConditionFlooding,
		ConditionStandingWater, ConditionMissingSection, ConditionPoorLighting,
		ConditionConstruction, ConditionCongestion,
	},
	ActivityBiking: {
		ConditionPothole, ConditionFlooding, ConditionCongestion, ConditionCrack,
		ConditionConstruction, ConditionDebris, ConditionMud, ConditionStandingWater,
		ConditionUnevenSurface, ConditionIce, ConditionSnow, ConditionMissingSection,
		ConditionBrokenGlass, ConditionPoorLighting,
	},
	ActivityCommuting: {
		ConditionCongestion, ConditionConstruction, ConditionFlooding, ConditionPothole,
		ConditionCrack, ConditionDebris, ConditionStandingWater, ConditionUnevenSurface,
		ConditionMud, ConditionIce, ConditionSnow, ConditionMissingSection,
		ConditionBrokenGlass, ConditionPoorLighting,
	},
}

var activityDefaultCondition = map[ActivityType]ConditionType{
	ActivityRunning:   ConditionIce,
	ActivityWalking:   ConditionUnevenSurface,
	ActivityBiking:    ConditionPothole,
	ActivityCommuting: ConditionCongestion,
}

// ConditionPriority returns the display order of conditions for a.
// ActivityNone yields enumeration order.
func (a ActivityType) ConditionPriority() []ConditionType {
	p, ok := activityConditionPriority[a]
	if !ok {
		return AllConditions()
	}
	out := make([]ConditionType, len(p))
	copy(out, p)
	return out
}

// DefaultCondition is the condition pre-selected when reporting during a.
func (a ActivityType) DefaultCondition() (ConditionType, bool) {
	c, ok := activityDefaultCondition[a]
	return c, ok
}
