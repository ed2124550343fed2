// Household behaviour: creation-time derivation, the per-tick step,
// collaboration and subsidy receipt.
package agents

import (
	"math"

	"github.com/talgya/floodsim/internal/flood"
	"github.com/talgya/floodsim/internal/world"
)

// HouseholdParams are the sampled inputs a household is derived from.
type HouseholdParams struct {
	ID           HouseholdID
	Location     world.Point
	InFloodplain bool
	FloodDepth   float64 // Raw raster sample, may be negative
	Wealth       float64
	RiskAversion float64
	Income       float64
}

// NewHousehold derives a fully initialized household: clamped depth,
// estimated damage, adaptation budget and the costliest affordable measure,
// whose reduction factor is applied to the estimated damage exactly once.
func NewHousehold(p HouseholdParams, tbl flood.Table) *Household {
	wealth := math.Max(p.Wealth, 0)
	risk := math.Min(math.Max(p.RiskAversion, 0), 1)
	depth := flood.ClampDepth(p.FloodDepth)

	h := &Household{
		ID:                   p.ID,
		Location:             p.Location,
		InFloodplain:         p.InFloodplain,
		Wealth:               wealth,
		Income:               p.Income,
		RiskAversion:         risk,
		AdaptationBudget:     wealth * risk,
		FloodDepthEstimated:  depth,
		FloodDamageEstimated: flood.EstimateDamage(depth),
		FloodDamageActual:    flood.EstimateDamage(0),
	}

	h.SelectedMeasure = tbl.SelectAffordable(h.AdaptationBudget)
	h.FloodDamageEstimated *= tbl.ReductionFactor(h.SelectedMeasure)

	return h
}

// StepResult reports what a household step did.
type StepResult struct {
	Collaborated bool // Pooling threshold exceeded
	Reassigned   int  // Households moved onto the collaborative project
}

// Step runs one tick for the household: collaboration phase, then
// adaptation evaluation.
func (h *Household) Step(pop Population, rules *Rules) StepResult {
	if rules.ResetAdaptationEachTick {
		h.IsAdapted = false
	}

	res := h.collaborate(pop, rules)
	h.UpdateAdaptation(rules)
	return res
}

// collaborate pools own wealth with the current wealth of every neighbour.
// Above the pooling threshold all neighbours adopt the collaborative project
// and are re-evaluated on the spot. A household without neighbours has
// nobody to pool with.
func (h *Household) collaborate(pop Population, rules *Rules) StepResult {
	ids := pop.Neighbors(h.ID)
	if len(ids) == 0 {
		return StepResult{}
	}

	neighbors := make([]*Household, 0, len(ids))
	total := h.Wealth
	for _, id := range ids {
		n := pop.Household(id)
		if n == nil {
			continue
		}
		neighbors = append(neighbors, n)
		total += n.Wealth
	}

	if total <= rules.PoolingThreshold {
		return StepResult{}
	}

	res := StepResult{Collaborated: true}
	for _, n := range neighbors {
		n.SelectedMeasure = flood.MeasureCollaborativeProject
		n.UpdateAdaptation(rules)
		res.Reassigned++
	}
	if rules.IncludeInitiatorInCollaboration {
		h.SelectedMeasure = flood.MeasureCollaborativeProject
		res.Reassigned++
	}
	return res
}

// UpdateAdaptation marks the household adapted when its estimated damage is
// negligible or its measure is effective enough. Never clears the flag.
func (h *Household) UpdateAdaptation(rules *Rules) {
	th := rules.Thresholds
	if h.FloodDamageEstimated < th.MinimumDamage {
		h.IsAdapted = true
		return
	}
	if h.SelectedMeasure.Valid() && rules.Measures.ReductionFactor(h.SelectedMeasure) >= th.AdaptationSufficiency {
		h.IsAdapted = true
	}
}

// ReceiveSubsidy adds a subsidy to the household's wealth. A household whose
// wealth reaches the wallet threshold becomes adapted. The selected measure is
// not touched.
func (h *Household) ReceiveSubsidy(amount float64, rules *Rules) {
	if amount <= 0 {
		return
	}
	h.Wealth += amount
	if rules.RecomputeBudgetOnWealthChange {
		h.AdaptationBudget = h.Wealth * h.RiskAversion
	}
	if h.Wealth >= rules.Thresholds.WalletAdaptation && !h.IsAdapted {
		h.IsAdapted = true
	}
}

// ApplyShock records an actual flood at the household. Adapted households
// have their measure's reduction applied to the realised damage.
func (h *Household) ApplyShock(depth float64, tbl flood.Table) {
	h.FloodDepthActual = flood.ClampDepth(depth)
	dmg := flood.EstimateDamage(h.FloodDepthActual)
	if h.IsAdapted {
		dmg *= tbl.ReductionFactor(h.SelectedMeasure)
	}
	h.FloodDamageActual = dmg
}
