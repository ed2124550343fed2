// Government subsidy pass.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/floodsim/internal/agents"
)

// processGovernment runs the government step for the tick and records an
// event when any household was aided.
func (s *Simulation) processGovernment(tick uint64) []agents.HouseholdID {
	g := s.Government
	if !g.Triggers(tick) {
		return nil
	}

	before := g.SubsidyBudget
	aided := g.Step(tick, s.Households, &s.Rules)
	if len(aided) == 0 {
		slog.Debug("subsidy pass aided nobody", "tick", tick, "budget", humanize.Commaf(g.SubsidyBudget))
		return nil
	}

	spent := before - g.SubsidyBudget
	s.EmitEvent(Event{
		Tick:        tick,
		Description: fmt.Sprintf("Government subsidised %d households (%s spent, %s left)", len(aided), humanize.Commaf(spent), humanize.Commaf(g.SubsidyBudget)),
		Category:    "subsidy",
		Meta: map[string]any{
			"aided":  len(aided),
			"spent":  spent,
			"budget": g.SubsidyBudget,
		},
	})

	if g.SubsidyBudget < g.SubsidyAmount {
		slog.Info("subsidy budget exhausted", "tick", tick, "remaining", humanize.Commaf(g.SubsidyBudget), "total_aided", g.TotalAided)
	}
	return aided
}
