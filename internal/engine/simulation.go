// Simulation ties households, the collaboration network and the government
// together and runs them each tick.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/talgya/floodsim/internal/agents"
	"github.com/talgya/floodsim/internal/flood"
	"github.com/talgya/floodsim/internal/social"
	"github.com/talgya/floodsim/internal/telemetry"
	"github.com/talgya/floodsim/internal/world"
)

// ActivationOrder selects how households are ordered within a round.
type ActivationOrder string

const (
	ActivationSequential ActivationOrder = "sequential" // Canonical creation order
	ActivationRandom     ActivationOrder = "random"     // Seeded shuffle every tick
)

// maxEvents bounds the in-memory event buffer.
const maxEvents = 1000

// ShockArea yields actual flood depths when a shock hits.
type ShockArea interface {
	ShockDepth(p world.Point, rng *rand.Rand) float64
}

// Options configure a Simulation.
type Options struct {
	RunID      string
	Rules      agents.Rules
	Government agents.GovernmentConfig
	Activation ActivationOrder
	ShockTick  int64      // Negative disables the scheduled shock
	Area       ShockArea  // Optional, nil shocks at the estimated depth
	RNG        *rand.Rand // Required for random activation and shocks
	Metrics    *telemetry.TickMetrics
}

// Simulation holds the complete model state and wires systems together.
type Simulation struct {
	RunID      string
	Households []*agents.Household // Canonical creation order
	Index      map[agents.HouseholdID]*agents.Household
	Network    *social.Network
	Government *agents.Government
	Rules      agents.Rules
	Activation ActivationOrder
	ShockTick  int64
	Area       ShockArea
	Metrics    *telemetry.TickMetrics

	// Aggregates for the most recent round.
	Stats Tallies

	// OnRound receives every published snapshot, after it is visible to
	// readers. Used for persistence and streaming.
	OnRound func(*Snapshot)

	rng     *rand.Rand
	order   []*agents.Household
	latest  atomic.Pointer[Snapshot]
	shockRq atomic.Bool

	eventsMu    sync.Mutex
	events      []Event
	roundEvents []Event
}

// Event is a notable occurrence in the model.
type Event struct {
	Tick        uint64         `json:"tick" db:"tick"`
	Description string         `json:"description" db:"description"`
	Category    string         `json:"category" db:"category"` // "collaboration", "subsidy", "shock"
	Meta        map[string]any `json:"meta,omitempty" db:"-"`
}

// NewSimulation validates the inputs and builds a Simulation. The household
// slice order becomes the canonical order.
func NewSimulation(households []*agents.Household, net *social.Network, opts Options) (*Simulation, error) {
	var errs []error
	if len(households) == 0 {
		errs = append(errs, errors.New("population is empty"))
	}
	if err := opts.Rules.Measures.Validate(); err != nil {
		errs = append(errs, err)
	}
	if opts.Government.TriggerPeriod == 0 {
		errs = append(errs, errors.New("government trigger period must be positive"))
	}
	if opts.Government.SubsidyAmount <= 0 {
		errs = append(errs, errors.New("subsidy amount must be positive"))
	}
	if opts.Government.SubsidyBudget < 0 {
		errs = append(errs, errors.New("subsidy budget must not be negative"))
	}
	switch opts.Activation {
	case "":
		opts.Activation = ActivationSequential
	case ActivationSequential, ActivationRandom:
	default:
		errs = append(errs, fmt.Errorf("unknown activation order %q", opts.Activation))
	}

	index := make(map[agents.HouseholdID]*agents.Household, len(households))
	for _, h := range households {
		if _, dup := index[h.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate household id %d", h.ID))
			continue
		}
		index[h.ID] = h
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("new simulation: %w", err)
	}

	if net == nil {
		net = social.NewNetwork()
	}
	rng := opts.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	return &Simulation{
		RunID:      opts.RunID,
		Households: households,
		Index:      index,
		Network:    net,
		Government: agents.NewGovernment(opts.Government),
		Rules:      opts.Rules,
		Activation: opts.Activation,
		ShockTick:  opts.ShockTick,
		Area:       opts.Area,
		Metrics:    opts.Metrics,
		rng:        rng,
	}, nil
}

// Household returns the household with the given id, or nil.
func (s *Simulation) Household(id agents.HouseholdID) *agents.Household {
	return s.Index[id]
}

// Neighbors returns the collaboration neighbours of id.
func (s *Simulation) Neighbors(id agents.HouseholdID) []agents.HouseholdID {
	return s.Network.Neighbors(id)
}

// CurrentTick returns the tick of the last completed round. ok is false
// before the first round. Safe for concurrent use.
func (s *Simulation) CurrentTick() (tick uint64, ok bool) {
	if snap := s.Latest(); snap != nil {
		return snap.Tick, true
	}
	return 0, false
}

// Latest returns the most recently published snapshot, nil before the first
// round completes. Safe for concurrent use.
func (s *Simulation) Latest() *Snapshot {
	return s.latest.Load()
}

// activationOrder returns the households in the order they step this tick.
func (s *Simulation) activationOrder() []*agents.Household {
	if s.Activation != ActivationRandom {
		return s.Households
	}
	if len(s.order) != len(s.Households) {
		s.order = make([]*agents.Household, len(s.Households))
	}
	copy(s.order, s.Households)
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
	return s.order
}

// TickRound runs one full round: every household steps in activation order,
// then the government, then any pending flood shock. The resulting snapshot
// is published when the round is complete.
func (s *Simulation) TickRound(tick uint64) {
	var round roundCounts
	for _, h := range s.activationOrder() {
		res := h.Step(s, &s.Rules)
		if res.Collaborated {
			round.collaborations++
			round.reassigned += res.Reassigned
		}
	}
	if round.collaborations > 0 {
		s.EmitEvent(Event{
			Tick:        tick,
			Description: fmt.Sprintf("%d households pooled wealth, %d moved onto the collaborative project", round.collaborations, round.reassigned),
			Category:    "collaboration",
			Meta: map[string]any{
				"collaborations": round.collaborations,
				"reassigned":     round.reassigned,
			},
		})
	}

	aided := s.processGovernment(tick)

	shocked := false
	if s.shockDue(tick) {
		s.applyShock(tick)
		shocked = true
	}

	s.Stats = s.tally(tick, round, len(aided))
	snap := s.snapshot(tick, aided, shocked)
	s.latest.Store(snap)

	s.Metrics.Record(context.Background(), telemetry.TickSample{
		Tick:           tick,
		Aided:          len(aided),
		Collaborations: round.collaborations,
		Budget:         s.Government.SubsidyBudget,
		Adapted:        s.Stats.Adapted,
		MeasureCounts:  s.Stats.Measures,
	})

	if s.OnRound != nil {
		s.OnRound(snap)
	}
}

type roundCounts struct {
	collaborations int
	reassigned     int
}

// Tallies are aggregate statistics over the population after a round.
type Tallies struct {
	Households          int            `json:"households"`
	Adapted             int            `json:"adapted"`
	InFloodplain        int            `json:"in_floodplain"`
	Measures            map[string]int `json:"measures"`
	Collaborations      int            `json:"collaborations"`
	Reassigned          int            `json:"reassigned"`
	Aided               int            `json:"aided"`
	TotalWealth         float64        `json:"total_wealth"`
	MeanDamageEstimated float64        `json:"mean_damage_estimated"`
	MeanDamageActual    float64        `json:"mean_damage_actual"`
}

func (s *Simulation) tally(tick uint64, round roundCounts, aided int) Tallies {
	t := Tallies{
		Households:     len(s.Households),
		Measures:       make(map[string]int, flood.NumMeasures+1),
		Collaborations: round.collaborations,
		Reassigned:     round.reassigned,
		Aided:          aided,
	}
	// Every measure is reported, zero counts included, so gauges drop to 0.
	t.Measures[flood.MeasureNone.String()] = 0
	for _, m := range flood.Measures {
		t.Measures[m.String()] = 0
	}
	var est, act float64
	for _, h := range s.Households {
		if h.IsAdapted {
			t.Adapted++
		}
		if h.InFloodplain {
			t.InFloodplain++
		}
		t.Measures[h.SelectedMeasure.String()]++
		t.TotalWealth += h.Wealth
		est += h.FloodDamageEstimated
		act += h.FloodDamageActual
	}
	if n := len(s.Households); n > 0 {
		t.MeanDamageEstimated = est / float64(n)
		t.MeanDamageActual = act / float64(n)
	}
	return t
}

// Report logs a periodic summary of the most recent round.
func (s *Simulation) Report(tick uint64) {
	st := s.Stats
	slog.Info("tick report",
		"tick", tick,
		"households", st.Households,
		"adapted", st.Adapted,
		"none", st.Measures[flood.MeasureNone.String()],
		"sandbags", st.Measures[flood.MeasureSandbags.String()],
		"elevate_house", st.Measures[flood.MeasureElevateHouse.String()],
		"relocate_electrical", st.Measures[flood.MeasureRelocateElectrical.String()],
		"collaborative_project", st.Measures[flood.MeasureCollaborativeProject.String()],
		"collaborations", st.Collaborations,
		"budget", humanize.Commaf(s.Government.SubsidyBudget),
		"disbursed", humanize.Commaf(s.Government.TotalDisbursed),
		"total_wealth", humanize.Commaf(st.TotalWealth),
		"mean_damage", fmt.Sprintf("%.4f", st.MeanDamageEstimated),
	)

	for _, e := range s.RecentEvents(5) {
		if e.Category == "shock" || e.Category == "subsidy" {
			slog.Info("event", "tick", e.Tick, "category", e.Category, "description", e.Description)
		}
	}
}

// EmitEvent records an event in the bounded in-memory buffer.
func (s *Simulation) EmitEvent(e Event) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = append(s.events, e)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
	s.roundEvents = append(s.roundEvents, e)
}

// RecentEvents returns up to limit of the newest events, oldest first.
func (s *Simulation) RecentEvents(limit int) []Event {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	start := 0
	if limit > 0 && len(s.events) > limit {
		start = len(s.events) - limit
	}
	out := make([]Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out
}

// drainRoundEvents returns and clears the events emitted since the last call.
func (s *Simulation) drainRoundEvents() []Event {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	out := s.roundEvents
	s.roundEvents = nil
	return out
}
