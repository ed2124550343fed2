// Package agents provides the household and government agents: creation,
// measure selection, per-tick adaptation, collaboration and subsidy allocation.
package agents

import (
	"math/rand"

	"github.com/talgya/floodsim/internal/flood"
	"github.com/talgya/floodsim/internal/world"
)

// HouseholdID is a unique identifier for a household.
type HouseholdID uint64

// Household is a simulated economic actor exposed to flood risk.
type Household struct {
	ID HouseholdID `json:"id"`

	// Exposure
	Location     world.Point `json:"location"`
	InFloodplain bool        `json:"in_floodplain"`

	// Economic
	Wealth           float64 `json:"wealth"`            // Never negative
	Income           float64 `json:"income"`            // Informational only
	RiskAversion     float64 `json:"risk_aversion"`     // 0.0–1.0
	AdaptationBudget float64 `json:"adaptation_budget"` // Wealth × RiskAversion at creation

	// Flood
	FloodDepthEstimated  float64 `json:"flood_depth_estimated"`  // Metres, ≥ 0
	FloodDepthActual     float64 `json:"flood_depth_actual"`     // Metres, ≥ 0; set by a shock
	FloodDamageEstimated float64 `json:"flood_damage_estimated"` // 0.0–1.0, measure applied once
	FloodDamageActual    float64 `json:"flood_damage_actual"`    // 0.0–1.0

	// Adaptation
	SelectedMeasure flood.Measure `json:"selected_measure"`
	IsAdapted       bool          `json:"is_adapted"`
}

// HouseholdSnapshot is the per-tick reporting view of a household.
type HouseholdSnapshot struct {
	ID              HouseholdID   `json:"id" db:"household_id"`
	SelectedMeasure flood.Measure `json:"selected_measure" db:"measure"`
	IsAdapted       bool          `json:"is_adapted" db:"adapted"`
	Wealth          float64       `json:"wealth" db:"wealth"`
}

// Snapshot returns the reporting view of the household.
func (h *Household) Snapshot() HouseholdSnapshot {
	return HouseholdSnapshot{
		ID:              h.ID,
		SelectedMeasure: h.SelectedMeasure,
		IsAdapted:       h.IsAdapted,
		Wealth:          h.Wealth,
	}
}

// Geography is the geospatial collaborator households are created from.
// Implemented by *world.Map.
type Geography interface {
	SampleLocation(rng *rand.Rand) world.Point
	InFloodplain(p world.Point) bool
	FloodDepth(p world.Point) float64
}

// Population gives a stepping household access to its collaboration neighbours.
// The relation lives outside the households; they hold ids, never pointers.
type Population interface {
	Neighbors(id HouseholdID) []HouseholdID
	Household(id HouseholdID) *Household
}

// Thresholds control when a household counts as adapted.
type Thresholds struct {
	MinimumDamage         float64 `koanf:"minimum_damage" json:"minimum_damage"`
	AdaptationSufficiency float64 `koanf:"adaptation_sufficiency" json:"adaptation_sufficiency"`
	WalletAdaptation      float64 `koanf:"wallet_adaptation" json:"wallet_adaptation"`
}

// DefaultThresholds returns the stock adaptation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinimumDamage:         0.05,
		AdaptationSufficiency: 0.04,
		WalletAdaptation:      80000,
	}
}

// Rules bundles everything the per-tick household logic reads.
type Rules struct {
	Measures         flood.Table
	Thresholds       Thresholds
	PoolingThreshold float64

	// ResetAdaptationEachTick clears IsAdapted at the start of every step
	// before re-evaluating. Off: status only ever moves to adapted.
	ResetAdaptationEachTick bool

	// IncludeInitiatorInCollaboration makes the pooling household adopt the
	// collaborative project too. Off: only its neighbours are reassigned.
	IncludeInitiatorInCollaboration bool

	// RecomputeBudgetOnWealthChange refreshes AdaptationBudget on subsidy
	// receipt. Off: the budget stays at its creation value.
	RecomputeBudgetOnWealthChange bool
}

// DefaultRules returns the stock rule set.
func DefaultRules() Rules {
	return Rules{
		Measures:         flood.DefaultTable(),
		Thresholds:       DefaultThresholds(),
		PoolingThreshold: 50000,
	}
}
