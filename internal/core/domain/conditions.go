package domain

import (
	"fmt"
	"strings"
)

// ConditionType is one of the reportable road/path conditions.
//
// The declaration order is significant: it is the tie-break order used when
// two conditions carry the same weight inside a heatmap cell (first wins).
type ConditionType uint8

const (
	ConditionIce ConditionType = iota
	ConditionSnow
	ConditionMud
	ConditionFlooding
	ConditionStandingWater
	ConditionPothole
	ConditionCrack
	ConditionUnevenSurface
	ConditionMissingSection
	ConditionDebris
	ConditionBrokenGlass
	ConditionPoorLighting
	ConditionConstruction
	ConditionCongestion

	conditionCount
)

// ConditionCount is the size of the closed condition enumeration.
const ConditionCount = int(conditionCount)

// ConditionClass groups conditions by how fast reports about them go stale.
type ConditionClass string

const (
	ClassWeatherEnvironmental ConditionClass = "weather_environmental"
	ClassStructural           ConditionClass = "structural"
)

// Recency decay half-lives in days.
const (
	WeatherHalfLifeDays    = 1.5
	StructuralHalfLifeDays = 7.0
)

type conditionMeta struct {
	name  string
	class ConditionClass
}

var conditionTable = [conditionCount]conditionMeta{
	ConditionIce:            {"ice", ClassWeatherEnvironmental},
	ConditionSnow:           {"snow", ClassWeatherEnvironmental},
	ConditionMud:            {"mud", ClassWeatherEnvironmental},
	ConditionFlooding:       {"flooding", ClassWeatherEnvironmental},
	ConditionStandingWater:  {"standing_water", ClassWeatherEnvironmental},
	ConditionPothole:        {"pothole", ClassStructural},
	ConditionCrack:          {"crack", ClassStructural},
	ConditionUnevenSurface:  {"uneven_surface", ClassStructural},
	ConditionMissingSection: {"missing_section", ClassStructural},
	ConditionDebris:         {"debris", ClassStructural},
	ConditionBrokenGlass:    {"broken_glass", ClassStructural},
	ConditionPoorLighting:   {"poor_lighting", ClassStructural},
	ConditionConstruction:   {"construction", ClassStructural},
	ConditionCongestion:     {"congestion", ClassStructural},
}

// AllConditions returns every condition in enumeration order.
func AllConditions() []ConditionType {
	out := make([]ConditionType, ConditionCount)
	for i := range out {
		out[i] = ConditionType(i)
	}
	return out
}

// Valid reports whether c is a member of the enumeration.
func (c ConditionType) Valid() bool {
	return c < conditionCount
}

func (c ConditionType) meta() conditionMeta {
	if !c.Valid() {
		panic(fmt.Sprintf("domain: unknown condition type %d", uint8(c)))
	}
	return conditionTable[c]
}

// String returns the wire name, e.g. "standing_water".
func (c ConditionType) String() string {
	if !c.Valid() {
		return fmt.Sprintf("ConditionType(%d)", uint8(c))
	}
	return conditionTable[c].name
}

// Class returns the decay class. Panics on a value outside the enumeration.
func (c ConditionType) Class() ConditionClass {
	return c.meta().class
}

// HalfLifeDays returns the decay half-life for the condition's class.
// Panics on a value outside the enumeration.
func (c ConditionType) HalfLifeDays() float64 {
	if c.meta().class == ClassWeatherEnvironmental {
		return WeatherHalfLifeDays
	}
	return StructuralHalfLifeDays
}

// ParseConditionType converts a wire name into a ConditionType.
func ParseConditionType(s string) (ConditionType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, m := range conditionTable {
		if m.name == name {
			return ConditionType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown condition type %q", s)
}

func (c ConditionType) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown condition type %d", uint8(c))
	}
	return []byte(conditionTable[c].name), nil
}

func (c *ConditionType) UnmarshalText(text []byte) error {
	v, err := ParseConditionType(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
