// Package flood provides the flood impact model: the depth→damage curve and
// the protective measure tables (cost and damage-reduction factor).
package flood

import (
	"fmt"
	"math"
	"strings"
)

// Measure is a discrete protective investment a household can make.
type Measure uint8

const (
	MeasureNone Measure = iota
	MeasureSandbags
	MeasureElevateHouse
	MeasureRelocateElectrical
	MeasureCollaborativeProject
)

// NumMeasures counts the selectable measures (MeasureNone excluded).
const NumMeasures = 4

// Measures lists the selectable measures in enum order.
var Measures = [NumMeasures]Measure{
	MeasureSandbags,
	MeasureElevateHouse,
	MeasureRelocateElectrical,
	MeasureCollaborativeProject,
}

// Valid returns true for a selectable measure.
func (m Measure) Valid() bool {
	return m >= MeasureSandbags && m <= MeasureCollaborativeProject
}

// String returns the config/report key of the measure.
func (m Measure) String() string {
	switch m {
	case MeasureSandbags:
		return "sandbags"
	case MeasureElevateHouse:
		return "elevate_house"
	case MeasureRelocateElectrical:
		return "relocate_electrical"
	case MeasureCollaborativeProject:
		return "collaborative_project"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler so measures appear by name in JSON.
func (m Measure) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Measure) UnmarshalText(text []byte) error {
	v, ok := ParseMeasure(string(text))
	if !ok {
		return fmt.Errorf("unknown measure %q", text)
	}
	*m = v
	return nil
}

// ParseMeasure maps a config/report key back to a Measure.
func ParseMeasure(s string) (Measure, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sandbags":
		return MeasureSandbags, true
	case "elevate_house":
		return MeasureElevateHouse, true
	case "relocate_electrical":
		return MeasureRelocateElectrical, true
	case "collaborative_project":
		return MeasureCollaborativeProject, true
	case "none", "":
		return MeasureNone, true
	}
	return MeasureNone, false
}

// Table holds cost and reduction factor per selectable measure.
// Indexed by Measure-1.
type Table struct {
	Costs     [NumMeasures]float64
	Reduction [NumMeasures]float64
}

// DefaultTable returns the stock measure table.
func DefaultTable() Table {
	return Table{
		Costs: [NumMeasures]float64{
			5000,    // sandbags
			80000,   // elevate house
			25000,   // relocate electrical
			1000000, // collaborative project
		},
		Reduction: [NumMeasures]float64{
			0.05,
			0.7,
			0.3,
			0.8,
		},
	}
}

// Cost returns the cost of a measure. MeasureNone costs nothing.
func (t Table) Cost(m Measure) float64 {
	if !m.Valid() {
		return 0
	}
	return t.Costs[m-1]
}

// ReductionFactor returns the damage multiplier of a measure.
// MeasureNone and unknown values give 1 (no reduction).
func (t Table) ReductionFactor(m Measure) float64 {
	if !m.Valid() {
		return 1
	}
	return t.Reduction[m-1]
}

// SelectAffordable returns the costliest measure whose cost does not exceed
// budget, or MeasureNone when nothing is affordable. Equal costs resolve to
// the earlier measure in enum order.
func (t Table) SelectAffordable(budget float64) Measure {
	best := MeasureNone
	bestCost := math.Inf(-1)
	for _, m := range Measures {
		c := t.Cost(m)
		if c <= budget && c > bestCost {
			best = m
			bestCost = c
		}
	}
	return best
}

// Validate rejects negative or non-finite costs and factors outside [0,1].
func (t Table) Validate() error {
	for _, m := range Measures {
		c := t.Cost(m)
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
			return fmt.Errorf("measure %s: invalid cost %v", m, c)
		}
		r := t.ReductionFactor(m)
		if math.IsNaN(r) || r < 0 || r > 1 {
			return fmt.Errorf("measure %s: reduction factor %v outside [0,1]", m, r)
		}
	}
	return nil
}
