// Household spawning: creates the initial population from the geography and
// the configured wealth, risk-aversion and income distributions.
package agents

import (
	"math/rand"

	"github.com/talgya/floodsim/internal/entropy"
	"github.com/talgya/floodsim/internal/flood"
)

// SpawnConfig controls initial population generation.
type SpawnConfig struct {
	Wealth       entropy.Distribution
	RiskAversion entropy.Distribution
	Income       entropy.Distribution
	Measures     flood.Table
}

// DefaultSpawnConfig matches the reference population: uniform wealth up to
// 100k and uniform risk aversion.
func DefaultSpawnConfig() SpawnConfig {
	return SpawnConfig{
		Wealth:       entropy.Distribution{Kind: entropy.KindUniform, Min: 0, Max: 100000},
		RiskAversion: entropy.Distribution{Kind: entropy.KindUniform, Min: 0, Max: 1},
		Income:       entropy.Distribution{Kind: entropy.KindUniform, Min: 20000, Max: 80000},
		Measures:     flood.DefaultTable(),
	}
}

// Spawner creates households for the simulation.
// All draws come from the one shared generator in a fixed order per
// household: location, wealth, risk aversion, income.
type Spawner struct {
	rng    *rand.Rand
	geo    Geography
	cfg    SpawnConfig
	nextID HouseholdID
}

// NewSpawner creates a household spawner drawing from rng.
func NewSpawner(rng *rand.Rand, geo Geography, cfg SpawnConfig) *Spawner {
	return &Spawner{
		rng:    rng,
		geo:    geo,
		cfg:    cfg,
		nextID: 1,
	}
}

// SpawnPopulation creates count households in canonical (ID) order.
func (s *Spawner) SpawnPopulation(count int) []*Household {
	households := make([]*Household, 0, count)
	for i := 0; i < count; i++ {
		households = append(households, s.spawnOne())
	}
	return households
}

func (s *Spawner) spawnOne() *Household {
	id := s.nextID
	s.nextID++

	loc := s.geo.SampleLocation(s.rng)
	wealth := s.cfg.Wealth.Draw(s.rng)
	risk := s.cfg.RiskAversion.Draw(s.rng)
	income := s.cfg.Income.Draw(s.rng)

	return NewHousehold(HouseholdParams{
		ID:           id,
		Location:     loc,
		InFloodplain: s.geo.InFloodplain(loc),
		FloodDepth:   s.geo.FloodDepth(loc),
		Wealth:       wealth,
		RiskAversion: risk,
		Income:       income,
	}, s.cfg.Measures)
}
