package agents

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/floodsim/internal/flood"
	"github.com/talgya/floodsim/internal/world"
)

// testPop is a minimal id-indexed population with an explicit edge list.
type testPop struct {
	byID  map[HouseholdID]*Household
	edges map[HouseholdID][]HouseholdID
}

func newTestPop(hs ...*Household) *testPop {
	p := &testPop{
		byID:  make(map[HouseholdID]*Household),
		edges: make(map[HouseholdID][]HouseholdID),
	}
	for _, h := range hs {
		p.byID[h.ID] = h
	}
	return p
}

func (p *testPop) link(a, b HouseholdID) {
	p.edges[a] = append(p.edges[a], b)
	p.edges[b] = append(p.edges[b], a)
}

func (p *testPop) Neighbors(id HouseholdID) []HouseholdID { return p.edges[id] }
func (p *testPop) Household(id HouseholdID) *Household    { return p.byID[id] }

func household(id HouseholdID, wealth, risk, depth float64) *Household {
	return NewHousehold(HouseholdParams{
		ID:           id,
		FloodDepth:   depth,
		Wealth:       wealth,
		RiskAversion: risk,
	}, flood.DefaultTable())
}

func TestNewHousehold_SelectsCostliestAffordable(t *testing.T) {
	h := household(1, 90000, 1, 2)

	assert.Equal(t, 90000.0, h.AdaptationBudget)
	assert.Equal(t, flood.MeasureElevateHouse, h.SelectedMeasure)
	assert.InDelta(t, flood.EstimateDamage(2)*0.7, h.FloodDamageEstimated, 1e-12)
}

func TestNewHousehold_NothingAffordable(t *testing.T) {
	h := household(1, 100, 1, 2)

	assert.Equal(t, 100.0, h.AdaptationBudget)
	assert.Equal(t, flood.MeasureNone, h.SelectedMeasure)
	assert.Equal(t, flood.EstimateDamage(2), h.FloodDamageEstimated)
}

func TestNewHousehold_NegativeDepthClamps(t *testing.T) {
	h := household(1, 100, 0.5, -2)

	assert.Equal(t, 0.0, h.FloodDepthEstimated)
	assert.Equal(t, flood.EstimateDamage(0), h.FloodDamageEstimated)
	assert.Equal(t, 0.0, h.FloodDepthActual)
	assert.Equal(t, flood.EstimateDamage(0), h.FloodDamageActual)
}

func TestNewHousehold_ClampsInputs(t *testing.T) {
	h := household(1, -50, 3, 1)
	assert.Equal(t, 0.0, h.Wealth)
	assert.Equal(t, 1.0, h.RiskAversion)
	assert.Equal(t, 0.0, h.AdaptationBudget)
}

func TestStep_CollaborationReassignsNeighbours(t *testing.T) {
	rules := DefaultRules()

	initiator := household(1, 1000, 0, 3)
	n1 := household(2, 30000, 0, 3)
	n2 := household(3, 25000, 0, 3)
	pop := newTestPop(initiator, n1, n2)
	pop.link(1, 2)
	pop.link(1, 3)

	res := initiator.Step(pop, &rules)

	assert.True(t, res.Collaborated)
	assert.Equal(t, 2, res.Reassigned)
	for _, n := range []*Household{n1, n2} {
		assert.Equal(t, flood.MeasureCollaborativeProject, n.SelectedMeasure)
		assert.True(t, n.IsAdapted)
	}
	assert.Equal(t, flood.MeasureNone, initiator.SelectedMeasure)
}

func TestStep_CollaborationIncludesInitiatorWhenEnabled(t *testing.T) {
	rules := DefaultRules()
	rules.IncludeInitiatorInCollaboration = true

	initiator := household(1, 1000, 0, 3)
	n1 := household(2, 60000, 0, 3)
	pop := newTestPop(initiator, n1)
	pop.link(1, 2)

	initiator.Step(pop, &rules)

	assert.Equal(t, flood.MeasureCollaborativeProject, initiator.SelectedMeasure)
	assert.True(t, initiator.IsAdapted)
}

func TestStep_BelowPoolingThreshold(t *testing.T) {
	rules := DefaultRules()

	initiator := household(1, 10000, 0, 3)
	n1 := household(2, 20000, 0, 3)
	pop := newTestPop(initiator, n1)
	pop.link(1, 2)

	res := initiator.Step(pop, &rules)

	assert.False(t, res.Collaborated)
	assert.Equal(t, flood.MeasureNone, n1.SelectedMeasure)
	assert.False(t, initiator.IsAdapted)
}

func TestStep_NoNeighboursNoPooling(t *testing.T) {
	rules := DefaultRules()
	h := household(1, 99000, 0, 3)
	res := h.Step(newTestPop(h), &rules)
	assert.False(t, res.Collaborated)
}

func TestUpdateAdaptation(t *testing.T) {
	rules := DefaultRules()

	t.Run("negligible damage adapts unconditionally", func(t *testing.T) {
		h := household(1, 0, 0, 0)
		h.UpdateAdaptation(&rules)
		assert.True(t, h.IsAdapted)
	})

	t.Run("effective measure adapts", func(t *testing.T) {
		h := household(1, 10000, 1, 6)
		require.Equal(t, flood.MeasureSandbags, h.SelectedMeasure)
		h.UpdateAdaptation(&rules)
		assert.True(t, h.IsAdapted)
	})

	t.Run("ineffective measure leaves status", func(t *testing.T) {
		r := rules
		r.Thresholds.AdaptationSufficiency = 0.5
		h := household(1, 10000, 1, 6)
		h.UpdateAdaptation(&r)
		assert.False(t, h.IsAdapted)
	})

	t.Run("no measure leaves status", func(t *testing.T) {
		h := household(1, 100, 1, 3)
		h.UpdateAdaptation(&rules)
		assert.False(t, h.IsAdapted)
	})
}

func TestStep_ResetPolicy(t *testing.T) {
	pop := func(h *Household) *testPop { return newTestPop(h) }

	keep := DefaultRules()
	h := household(1, 100, 1, 3)
	h.IsAdapted = true
	h.Step(pop(h), &keep)
	assert.True(t, h.IsAdapted, "status is sticky without reset")

	reset := DefaultRules()
	reset.ResetAdaptationEachTick = true
	h = household(1, 100, 1, 3)
	h.IsAdapted = true
	h.Step(pop(h), &reset)
	assert.False(t, h.IsAdapted, "status is re-derived with reset")
}

func TestReceiveSubsidy(t *testing.T) {
	rules := DefaultRules()
	rules.Thresholds.WalletAdaptation = 20000

	h := household(1, 15000, 0.5, 3)
	budget := h.AdaptationBudget
	measure := h.SelectedMeasure

	h.ReceiveSubsidy(6000, &rules)

	assert.Equal(t, 21000.0, h.Wealth)
	assert.True(t, h.IsAdapted)
	assert.Equal(t, measure, h.SelectedMeasure)
	assert.Equal(t, budget, h.AdaptationBudget, "budget is not refreshed by default")
}

func TestReceiveSubsidy_RecomputeBudgetVariant(t *testing.T) {
	rules := DefaultRules()
	rules.RecomputeBudgetOnWealthChange = true

	h := household(1, 10000, 0.5, 3)
	h.ReceiveSubsidy(10000, &rules)
	assert.Equal(t, 10000.0, h.AdaptationBudget)
}

func TestReceiveSubsidy_BelowWallet(t *testing.T) {
	rules := DefaultRules()
	h := household(1, 1000, 0, 3)
	h.ReceiveSubsidy(6000, &rules)
	assert.Equal(t, 7000.0, h.Wealth)
	assert.False(t, h.IsAdapted)
}

func TestApplyShock(t *testing.T) {
	tbl := flood.DefaultTable()

	h := household(1, 90000, 1, 2)
	h.ApplyShock(-1, tbl)
	assert.Equal(t, 0.0, h.FloodDepthActual)
	assert.Equal(t, 0.0, h.FloodDamageActual)

	h.ApplyShock(3, tbl)
	assert.Equal(t, flood.EstimateDamage(3), h.FloodDamageActual)

	h.IsAdapted = true
	h.ApplyShock(3, tbl)
	assert.InDelta(t, flood.EstimateDamage(3)*0.7, h.FloodDamageActual, 1e-12)
}

// fixedGeo is a deterministic geography for spawner tests.
type fixedGeo struct{ depth float64 }

func (g fixedGeo) SampleLocation(rng *rand.Rand) world.Point {
	return world.Point{X: rng.Float64() * 100, Y: rng.Float64() * 100}
}
func (g fixedGeo) InFloodplain(p world.Point) bool  { return p.X < 50 }
func (g fixedGeo) FloodDepth(p world.Point) float64 { return g.depth }

func TestSpawner_Reproducible(t *testing.T) {
	spawn := func() []*Household {
		s := NewSpawner(rand.New(rand.NewSource(42)), fixedGeo{depth: -0.5}, DefaultSpawnConfig())
		return s.SpawnPopulation(100)
	}
	a, b := spawn(), spawn()
	require.Len(t, a, 100)
	for i := range a {
		assert.Equal(t, *a[i], *b[i])
	}
}

func TestSpawner_Invariants(t *testing.T) {
	cfg := DefaultSpawnConfig()
	s := NewSpawner(rand.New(rand.NewSource(1)), fixedGeo{depth: 2.5}, cfg)
	for i, h := range s.SpawnPopulation(500) {
		require.Equal(t, HouseholdID(i+1), h.ID)
		require.GreaterOrEqual(t, h.Wealth, 0.0)
		require.GreaterOrEqual(t, h.FloodDamageEstimated, 0.0)
		require.LessOrEqual(t, h.FloodDamageEstimated, 1.0)
		require.InDelta(t, h.Wealth*h.RiskAversion, h.AdaptationBudget, 1e-9)
		require.Equal(t, cfg.Measures.SelectAffordable(h.AdaptationBudget), h.SelectedMeasure)
		require.Equal(t, h.Location.X < 50, h.InFloodplain)
	}
}
