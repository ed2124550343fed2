package persistence

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/floodsim/internal/agents"
	"github.com/talgya/floodsim/internal/engine"
	"github.com/talgya/floodsim/internal/flood"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "floodsim.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testSim(t *testing.T, runID string) *engine.Simulation {
	t.Helper()
	tbl := flood.DefaultTable()
	hs := []*agents.Household{
		agents.NewHousehold(agents.HouseholdParams{ID: 1, Wealth: 1000, RiskAversion: 0, FloodDepth: 6}, tbl),
		agents.NewHousehold(agents.HouseholdParams{ID: 2, Wealth: 100000, RiskAversion: 0.9, FloodDepth: 2}, tbl),
		agents.NewHousehold(agents.HouseholdParams{ID: 3, Wealth: 20000, RiskAversion: 0.5, FloodDepth: 1}, tbl),
	}
	sim, err := engine.NewSimulation(hs, nil, engine.Options{
		RunID:      runID,
		Rules:      agents.DefaultRules(),
		Government: agents.DefaultGovernmentConfig(),
		ShockTick:  -1,
		RNG:        rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	return sim
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floodsim.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.SaveMeta("k", "v"))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	v, err := db.GetMeta("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetMeta("missing")
	assert.Error(t, err)

	require.NoError(t, db.SaveMeta("last_tick", "4"))
	require.NoError(t, db.SaveMeta("last_tick", "9"))
	v, err := db.GetMeta("last_tick")
	require.NoError(t, err)
	assert.Equal(t, "9", v)
}

func TestSaveRunStart(t *testing.T) {
	db := openTestDB(t)
	sim := testSim(t, "run-a")

	require.NoError(t, db.SaveRunStart(sim, 42))
	// Saving again replaces, never duplicates.
	require.NoError(t, db.SaveRunStart(sim, 42))

	var n int
	require.NoError(t, db.conn.Get(&n, "SELECT COUNT(*) FROM households WHERE run_id = ?", "run-a"))
	assert.Equal(t, 3, n)

	id, err := db.GetMeta("last_run_id")
	require.NoError(t, err)
	assert.Equal(t, "run-a", id)
	seed, err := db.GetMeta("run:run-a:seed")
	require.NoError(t, err)
	assert.Equal(t, "42", seed)
}

func TestSaveSnapshot_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	sim := testSim(t, "run-b")
	sim.OnRound = func(s *engine.Snapshot) {
		require.NoError(t, db.SaveSnapshot(s))
	}

	for tick := uint64(0); tick < 6; tick++ {
		sim.TickRound(tick)
	}

	rows, err := db.LoadHouseholdTicks("run-b", 5)
	require.NoError(t, err)
	assert.Equal(t, sim.Latest().Households, rows)

	first, err := db.LoadHouseholdTicks("run-b", 0)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, 7000.0, first[0].Wealth)
	assert.Equal(t, flood.MeasureElevateHouse, first[1].SelectedMeasure)

	none, err := db.LoadHouseholdTicks("other-run", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGovernmentHistory(t *testing.T) {
	db := openTestDB(t)
	sim := testSim(t, "run-c")
	sim.OnRound = func(s *engine.Snapshot) {
		require.NoError(t, db.SaveSnapshot(s))
	}
	for tick := uint64(0); tick < 6; tick++ {
		sim.TickRound(tick)
	}

	hist, err := db.GovernmentHistory("run-c")
	require.NoError(t, err)
	require.Len(t, hist, 6)

	for i, row := range hist {
		assert.Equal(t, uint64(i), row.Tick)
		if i > 0 {
			assert.LessOrEqual(t, row.SubsidyBudget, hist[i-1].SubsidyBudget)
		}
	}
	// Household 1 is the only poor, unadapted household.
	assert.Equal(t, []agents.HouseholdID{1}, hist[0].AidedIDs)
	assert.Equal(t, 1, hist[0].Aided)
	assert.Empty(t, hist[1].AidedIDs)
	assert.Equal(t, []agents.HouseholdID{1}, hist[5].AidedIDs)
	assert.Equal(t, 2, hist[5].TotalAided)
	assert.Equal(t, 1e6-12000, hist[5].SubsidyBudget)
}

func TestEvents(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.SaveEvents("run-d", nil))
	require.NoError(t, db.SaveEvents("run-d", []engine.Event{
		{Tick: 0, Description: "first", Category: "subsidy", Meta: map[string]any{"aided": 2}},
		{Tick: 3, Description: "second", Category: "shock"},
	}))
	require.NoError(t, db.SaveEvents("run-e", []engine.Event{{Tick: 1, Description: "elsewhere", Category: "shock"}}))

	events, err := db.RecentEvents("run-d", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "second", events[0].Description)
	assert.Nil(t, events[0].Meta)
	assert.Equal(t, "first", events[1].Description)
	assert.Equal(t, 2.0, events[1].Meta["aided"])

	limited, err := db.RecentEvents("run-d", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
