package engine

import (
	"github.com/talgya/floodsim/internal/agents"
	"github.com/talgya/floodsim/internal/flood"
)

// Snapshot is the immutable per-tick view published after each round.
type Snapshot struct {
	RunID      string                     `json:"run_id"`
	Tick       uint64                     `json:"tick"`
	Households []agents.HouseholdSnapshot `json:"households"`
	Government GovernmentSnapshot         `json:"government"`
	Tallies    Tallies                    `json:"tallies"`
	Shocked    bool                       `json:"shocked"`
	Events     []Event                    `json:"events,omitempty"` // Emitted during this round
}

// GovernmentSnapshot is the government's state after a round.
type GovernmentSnapshot struct {
	SubsidyBudget  float64              `json:"subsidy_budget"`
	TotalDisbursed float64              `json:"total_disbursed"`
	TotalAided     int                  `json:"total_aided"`
	Aided          []agents.HouseholdID `json:"aided"` // This tick, in allocation order
}

func (s *Simulation) snapshot(tick uint64, aided []agents.HouseholdID, shocked bool) *Snapshot {
	hs := make([]agents.HouseholdSnapshot, len(s.Households))
	for i, h := range s.Households {
		hs[i] = h.Snapshot()
	}
	measures := make(map[string]int, len(s.Stats.Measures))
	for k, v := range s.Stats.Measures {
		measures[k] = v
	}
	tallies := s.Stats
	tallies.Measures = measures

	return &Snapshot{
		RunID:      s.RunID,
		Tick:       tick,
		Households: hs,
		Government: GovernmentSnapshot{
			SubsidyBudget:  s.Government.SubsidyBudget,
			TotalDisbursed: s.Government.TotalDisbursed,
			TotalAided:     s.Government.TotalAided,
			Aided:          append([]agents.HouseholdID(nil), aided...),
		},
		Tallies: tallies,
		Shocked: shocked,
		Events:  s.drainRoundEvents(),
	}
}

// Household looks up one household in the snapshot.
func (snap *Snapshot) Household(id agents.HouseholdID) (agents.HouseholdSnapshot, bool) {
	for _, h := range snap.Households {
		if h.ID == id {
			return h, true
		}
	}
	return agents.HouseholdSnapshot{}, false
}

// HouseholdRow is one line of the household table.
type HouseholdRow struct {
	ID              agents.HouseholdID `json:"id"`
	Measure         flood.Measure      `json:"measure"`
	ReductionFactor float64            `json:"reduction_factor"`
	Adapted         bool               `json:"adapted"`
}

// HouseholdTable lists every household with its measure and the measure's
// reduction factor, in canonical order. Not safe while a round is running.
func (s *Simulation) HouseholdTable() []HouseholdRow {
	rows := make([]HouseholdRow, len(s.Households))
	for i, h := range s.Households {
		rows[i] = HouseholdRow{
			ID:              h.ID,
			Measure:         h.SelectedMeasure,
			ReductionFactor: s.Rules.Measures.ReductionFactor(h.SelectedMeasure),
			Adapted:         h.IsAdapted,
		}
	}
	return rows
}

// Table builds the household table from a snapshot.
func (snap *Snapshot) Table(tbl flood.Table) []HouseholdRow {
	rows := make([]HouseholdRow, len(snap.Households))
	for i, h := range snap.Households {
		rows[i] = HouseholdRow{
			ID:              h.ID,
			Measure:         h.SelectedMeasure,
			ReductionFactor: tbl.ReductionFactor(h.SelectedMeasure),
			Adapted:         h.IsAdapted,
		}
	}
	return rows
}
