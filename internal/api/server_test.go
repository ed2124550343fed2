package api

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/floodsim/internal/agents"
	"github.com/talgya/floodsim/internal/engine"
	"github.com/talgya/floodsim/internal/flood"
	"github.com/talgya/floodsim/internal/persistence"
	"github.com/talgya/floodsim/internal/social"
)

func newTestSim(t *testing.T) *engine.Simulation {
	t.Helper()
	tbl := flood.DefaultTable()
	hs := []*agents.Household{
		agents.NewHousehold(agents.HouseholdParams{ID: 1, Wealth: 1000, RiskAversion: 0, FloodDepth: 6}, tbl),
		agents.NewHousehold(agents.HouseholdParams{ID: 2, Wealth: 100000, RiskAversion: 0.9, FloodDepth: 2}, tbl),
		agents.NewHousehold(agents.HouseholdParams{ID: 3, Wealth: 20000, RiskAversion: 0.5, FloodDepth: 1}, tbl),
	}
	// 2-3 pool 120000 every tick; 1 stays alone.
	net := social.FromEdges([]social.Edge{{A: 2, B: 3}})
	sim, err := engine.NewSimulation(hs, net, engine.Options{
		RunID:      "api-test",
		Rules:      agents.DefaultRules(),
		Government: agents.DefaultGovernmentConfig(),
		ShockTick:  -1,
		RNG:        rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	return sim
}

func newTestServer(t *testing.T, withDB bool) (*Server, http.Handler) {
	t.Helper()
	sim := newTestSim(t)
	srv := &Server{Sim: sim, Eng: engine.NewEngine(), AdminKey: "secret"}
	if withDB {
		db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		srv.DB = db
		sim.OnRound = func(s *engine.Snapshot) {
			require.NoError(t, db.SaveSnapshot(s))
		}
	}
	return srv, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestStatus(t *testing.T) {
	srv, h := newTestServer(t, false)

	rec := do(t, h, http.MethodGet, "/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var before map[string]any
	decode(t, rec, &before)
	assert.Equal(t, "api-test", before["run_id"])
	assert.Equal(t, 0.0, before["rounds"])
	assert.NotContains(t, before, "tick")

	srv.Sim.TickRound(0)
	srv.Sim.TickRound(1)

	var after map[string]any
	decode(t, do(t, h, http.MethodGet, "/api/v1/status", "", nil), &after)
	assert.Equal(t, 1.0, after["tick"])
	assert.Equal(t, 2.0, after["rounds"])
	assert.Equal(t, 3.0, after["households"])
}

func TestNoRoundYet(t *testing.T) {
	_, h := newTestServer(t, false)
	for _, path := range []string{"/api/v1/households", "/api/v1/government", "/api/v1/stats", "/api/v1/household/1"} {
		rec := do(t, h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestHouseholds(t *testing.T) {
	srv, h := newTestServer(t, false)
	srv.Sim.TickRound(0)

	var all struct {
		Tick       uint64                `json:"tick"`
		Count      int                   `json:"count"`
		Households []engine.HouseholdRow `json:"households"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/households", "", nil), &all)
	assert.Equal(t, 3, all.Count)
	assert.Equal(t, srv.Sim.HouseholdTable(), all.Households)

	var collab struct {
		Count      int                   `json:"count"`
		Households []engine.HouseholdRow `json:"households"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/households?measure=collaborative_project", "", nil), &collab)
	require.Equal(t, 2, collab.Count)
	assert.Equal(t, 0.8, collab.Households[0].ReductionFactor)

	var unadapted struct {
		Households []engine.HouseholdRow `json:"households"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/households?adapted=false", "", nil), &unadapted)
	require.Len(t, unadapted.Households, 1)
	assert.Equal(t, agents.HouseholdID(1), unadapted.Households[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/households?measure=moat", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/households?adapted=maybe", "", nil).Code)
}

func TestHouseholdDetail(t *testing.T) {
	srv, h := newTestServer(t, false)
	srv.Sim.TickRound(0)

	var got map[string]any
	rec := do(t, h, http.MethodGet, "/api/v1/household/2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &got)
	assert.Equal(t, 2.0, got["id"])
	assert.Equal(t, "collaborative_project", got["selected_measure"])
	assert.Equal(t, true, got["is_adapted"])
	assert.Equal(t, []any{3.0}, got["neighbors"])
	assert.Equal(t, 1.0, got["friends_within_2"])

	var lonely map[string]any
	decode(t, do(t, h, http.MethodGet, "/api/v1/household/1", "", nil), &lonely)
	assert.Equal(t, []any{}, lonely["neighbors"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/household/99", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/household/abc", "", nil).Code)
}

func TestGovernmentAndStats(t *testing.T) {
	srv, h := newTestServer(t, false)
	srv.Sim.TickRound(0)

	var gov map[string]any
	decode(t, do(t, h, http.MethodGet, "/api/v1/government", "", nil), &gov)
	assert.Equal(t, 1e6-6000, gov["subsidy_budget"])
	assert.Equal(t, []any{1.0}, gov["aided_last_tick"])
	assert.Equal(t, 10.0, gov["per_tick_cap"])

	var stats struct {
		Tick    uint64         `json:"tick"`
		Tallies engine.Tallies `json:"tallies"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/stats", "", nil), &stats)
	assert.Equal(t, 2, stats.Tallies.Adapted)
	assert.Equal(t, 1, stats.Tallies.Aided)
	assert.Equal(t, 2, stats.Tallies.Measures["collaborative_project"])
}

func TestEvents_InMemoryAndPersisted(t *testing.T) {
	for _, withDB := range []bool{false, true} {
		srv, h := newTestServer(t, withDB)
		srv.Sim.TickRound(0)
		srv.Sim.TickRound(1)

		var events []engine.Event
		decode(t, do(t, h, http.MethodGet, "/api/v1/events", "", nil), &events)
		// tick 0: collaboration + subsidy, tick 1: collaboration
		require.Len(t, events, 3, "db=%v", withDB)
		assert.Equal(t, uint64(1), events[0].Tick)

		var subsidies []engine.Event
		decode(t, do(t, h, http.MethodGet, "/api/v1/events?category=subsidy", "", nil), &subsidies)
		require.Len(t, subsidies, 1)
		assert.Equal(t, uint64(0), subsidies[0].Tick)
	}
}

func TestHistory(t *testing.T) {
	_, noDB := newTestServer(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, noDB, http.MethodGet, "/api/v1/history", "", nil).Code)

	srv, h := newTestServer(t, true)
	for tick := uint64(0); tick < 3; tick++ {
		srv.Sim.TickRound(tick)
	}

	var gov []persistence.GovernmentTick
	decode(t, do(t, h, http.MethodGet, "/api/v1/history", "", nil), &gov)
	require.Len(t, gov, 3)
	assert.Equal(t, []agents.HouseholdID{1}, gov[0].AidedIDs)

	var at struct {
		Tick       uint64                     `json:"tick"`
		Households []agents.HouseholdSnapshot `json:"households"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/history?tick=1", "", nil), &at)
	assert.Equal(t, uint64(1), at.Tick)
	require.Len(t, at.Households, 3)
	assert.Equal(t, 7000.0, at.Households[0].Wealth)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/history?tick=50", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/history?tick=-1", "", nil).Code)
}

func TestHistory_RateLimited(t *testing.T) {
	srv := &Server{Sim: newTestSim(t), HistoryLimiter: NewRateLimiter(2, time.Hour)}
	h := srv.Handler()

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/v1/history", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/v1/history", "", nil).Code)
	rec := do(t, h, http.MethodGet, "/api/v1/history", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestAdminSpeed(t *testing.T) {
	srv, h := newTestServer(t, false)
	auth := map[string]string{"Authorization": "Bearer secret"}

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":5}`, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":5}`,
		map[string]string{"Authorization": "Bearer wrong"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":-1}`, auth).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/speed", `nope`, auth).Code)

	rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":5}`, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5.0, srv.Eng.Speed())

	var got map[string]float64
	decode(t, do(t, h, http.MethodGet, "/api/v1/speed", "", nil), &got)
	assert.Equal(t, 5.0, got["speed"])
}

func TestAdminToken_MustMatchExactly(t *testing.T) {
	_, h := newTestServer(t, false)
	for _, header := range []string{"secret", "Bearer secre", "Bearer secret2", "Bearer  secret", "bearer secret"} {
		rec := do(t, h, http.MethodPost, "/api/v1/shock", "", map[string]string{"Authorization": header})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/shock", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	srv := &Server{Sim: newTestSim(t), Eng: engine.NewEngine()}
	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/shock", "", map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminShock(t *testing.T) {
	srv, h := newTestServer(t, false)
	auth := map[string]string{"Authorization": "Bearer secret"}

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/v1/shock", "", nil).Code)

	rec := do(t, h, http.MethodPost, "/api/v1/shock", "", auth)
	require.Equal(t, http.StatusAccepted, rec.Code)

	srv.Sim.TickRound(0)
	assert.True(t, srv.Sim.Latest().Shocked)
	srv.Sim.TickRound(1)
	assert.False(t, srv.Sim.Latest().Shocked)
}

func TestCORS(t *testing.T) {
	_, h := newTestServer(t, false)

	rec := do(t, h, http.MethodOptions, "/api/v1/status", "", map[string]string{"Origin": "http://localhost:5173"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/api/v1/status", "", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
