package monitor

// Run health levels, most urgent first.
const (
	LevelExhausted   = "EXHAUSTED"   // Subsidies can no longer be paid while households remain unadapted
	LevelStalled     = "STALLED"     // Adapted count flat over the recent history
	LevelProgressing = "PROGRESSING" // Adoption still rising
	LevelSaturated   = "SATURATED"   // Every household adapted
	LevelUnknown     = "UNKNOWN"     // No round completed yet
)

// stallWindow is how many recorded ticks without new adaptations count as a stall.
const stallWindow = 10

// RunHealth holds derived diagnostic signals computed from an Observation.
type RunHealth struct {
	AdaptedShare    float64 // adapted / households
	Unadapted       int
	BudgetRemaining float64
	PaymentsLeft    int     // Whole subsidies the remaining budget covers
	AdaptedTrend    []int   // Adapted count per recorded tick, oldest first
	AvgAidedPerPass float64 // Over triggering ticks in the history
	Level           string
}

// Triage computes a RunHealth from the observation.
func Triage(obs *Observation) *RunHealth {
	h := &RunHealth{Level: LevelUnknown}
	if obs.Stats == nil || obs.Government == nil {
		return h
	}

	t := obs.Stats.Tallies
	if t.Households > 0 {
		h.AdaptedShare = float64(t.Adapted) / float64(t.Households)
	}
	h.Unadapted = t.Households - t.Adapted
	h.BudgetRemaining = obs.Government.SubsidyBudget
	if obs.Government.SubsidyAmount > 0 {
		h.PaymentsLeft = int(h.BudgetRemaining / obs.Government.SubsidyAmount)
	}

	passes, aided := 0, 0
	for _, row := range obs.History {
		h.AdaptedTrend = append(h.AdaptedTrend, row.Adapted)
		if period := obs.Government.TriggerPeriod; period > 0 && row.Tick%period == 0 {
			passes++
			aided += row.Aided
		}
	}
	if passes > 0 {
		h.AvgAidedPerPass = float64(aided) / float64(passes)
	}

	switch {
	case h.Unadapted == 0:
		h.Level = LevelSaturated
	case h.PaymentsLeft == 0:
		h.Level = LevelExhausted
	case stalled(h.AdaptedTrend):
		h.Level = LevelStalled
	default:
		h.Level = LevelProgressing
	}
	return h
}

// stalled reports whether the last stallWindow entries are all equal.
func stalled(trend []int) bool {
	if len(trend) < stallWindow {
		return false
	}
	recent := trend[len(trend)-stallWindow:]
	for _, v := range recent[1:] {
		if v != recent[0] {
			return false
		}
	}
	return true
}
