// Government agent: periodic subsidy allocation from a depleting budget.
package agents

// GovernmentConfig holds the subsidy policy parameters.
type GovernmentConfig struct {
	SubsidyBudget              float64 `koanf:"subsidy_budget" json:"subsidy_budget"`
	SubsidyAmount              float64 `koanf:"subsidy_amount" json:"subsidy_amount"`
	PerTickCap                 int     `koanf:"per_tick_cap" json:"per_tick_cap"`
	TriggerPeriod              uint64  `koanf:"trigger_period" json:"trigger_period"`
	WealthEligibilityThreshold float64 `koanf:"wealth_eligibility_threshold" json:"wealth_eligibility_threshold"`
}

// DefaultGovernmentConfig returns the stock subsidy policy.
func DefaultGovernmentConfig() GovernmentConfig {
	return GovernmentConfig{
		SubsidyBudget:              1000000,
		SubsidyAmount:              6000,
		PerTickCap:                 10,
		TriggerPeriod:              5,
		WealthEligibilityThreshold: 30000,
	}
}

// Government distributes subsidies to poor, non-adapted households.
type Government struct {
	SubsidyBudget float64 `json:"subsidy_budget"` // Never increases, never negative

	SubsidyAmount              float64 `json:"subsidy_amount"`
	PerTickCap                 int     `json:"per_tick_cap"`
	TriggerPeriod              uint64  `json:"trigger_period"`
	WealthEligibilityThreshold float64 `json:"wealth_eligibility_threshold"`

	TotalDisbursed float64 `json:"total_disbursed"`
	TotalAided     int     `json:"total_aided"`
}

// NewGovernment creates the government agent from its policy.
func NewGovernment(cfg GovernmentConfig) *Government {
	budget := cfg.SubsidyBudget
	if budget < 0 {
		budget = 0
	}
	return &Government{
		SubsidyBudget:              budget,
		SubsidyAmount:              cfg.SubsidyAmount,
		PerTickCap:                 cfg.PerTickCap,
		TriggerPeriod:              cfg.TriggerPeriod,
		WealthEligibilityThreshold: cfg.WealthEligibilityThreshold,
	}
}

// Triggers reports whether the allocation pass runs on this tick.
func (g *Government) Triggers(tick uint64) bool {
	return g.TriggerPeriod > 0 && tick%g.TriggerPeriod == 0
}

// Step runs the allocation pass on triggering ticks and returns the aided
// households; a no-op otherwise.
func (g *Government) Step(tick uint64, households []*Household, rules *Rules) []HouseholdID {
	if !g.Triggers(tick) {
		return nil
	}
	return g.Allocate(households, rules)
}

// Allocate walks the non-adapted households in canonical order and subsidises
// those below the wealth threshold until the per-tick cap or the budget runs
// out. The order is the population's, never re-sorted: with scarce funds it
// decides who is aided first.
func (g *Government) Allocate(households []*Household, rules *Rules) []HouseholdID {
	if g.SubsidyBudget <= 0 || g.SubsidyAmount <= 0 {
		return nil
	}

	var candidates []*Household
	for _, h := range households {
		if !h.IsAdapted {
			candidates = append(candidates, h)
		}
	}

	capacity := g.PerTickCap
	var aided []HouseholdID
	for _, h := range candidates {
		if capacity <= 0 || g.SubsidyBudget < g.SubsidyAmount {
			break
		}
		if h.Wealth >= g.WealthEligibilityThreshold {
			continue
		}
		h.ReceiveSubsidy(g.SubsidyAmount, rules)
		g.SubsidyBudget -= g.SubsidyAmount
		g.TotalDisbursed += g.SubsidyAmount
		g.TotalAided++
		capacity--
		aided = append(aided, h.ID)
	}

	// Guard against float drift below zero.
	if g.SubsidyBudget < 0 {
		g.SubsidyBudget = 0
	}
	return aided
}
