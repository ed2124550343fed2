// Package monitor watches a running simulation through its HTTP API and
// issues admin actions against it.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/floodsim/internal/agents"
	"github.com/talgya/floodsim/internal/engine"
	"github.com/talgya/floodsim/internal/persistence"
)

// ErrUnavailable is returned for 503 responses (no round yet, no database).
var ErrUnavailable = errors.New("endpoint unavailable")

// Status mirrors GET /api/v1/status.
type Status struct {
	Name          string  `json:"name"`
	RunID         string  `json:"run_id"`
	Households    int     `json:"households"`
	Activation    string  `json:"activation"`
	Tick          *uint64 `json:"tick"` // nil before the first round
	Rounds        uint64  `json:"rounds"`
	Speed         float64 `json:"speed"`
	Running       bool    `json:"running"`
	Adapted       int     `json:"adapted"`
	SubsidyBudget float64 `json:"subsidy_budget"`
}

// Stats mirrors GET /api/v1/stats.
type Stats struct {
	Tick    uint64         `json:"tick"`
	Shocked bool           `json:"shocked"`
	Tallies engine.Tallies `json:"tallies"`
}

// Government mirrors GET /api/v1/government.
type Government struct {
	Tick                       uint64               `json:"tick"`
	SubsidyBudget              float64              `json:"subsidy_budget"`
	TotalDisbursed             float64              `json:"total_disbursed"`
	TotalAided                 int                  `json:"total_aided"`
	AidedLastTick              []agents.HouseholdID `json:"aided_last_tick"`
	SubsidyAmount              float64              `json:"subsidy_amount"`
	PerTickCap                 int                  `json:"per_tick_cap"`
	TriggerPeriod              uint64               `json:"trigger_period"`
	WealthEligibilityThreshold float64              `json:"wealth_eligibility_threshold"`
}

// Observation is everything one observe cycle fetched.
type Observation struct {
	Status     Status
	Stats      *Stats      // nil before the first round
	Government *Government // nil before the first round
	History    []persistence.GovernmentTick // nil when the run has no database
}

// Observer fetches run state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches status, stats, government and history. Endpoints that are
// not available yet are left empty rather than failing the observation.
func (o *Observer) Observe(ctx context.Context) (*Observation, error) {
	obs := &Observation{}

	if err := o.fetchJSON(ctx, "/api/v1/status", &obs.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}

	var stats Stats
	switch err := o.fetchJSON(ctx, "/api/v1/stats", &stats); {
	case err == nil:
		obs.Stats = &stats
	case !errors.Is(err, ErrUnavailable):
		return nil, fmt.Errorf("fetch stats: %w", err)
	}

	var gov Government
	switch err := o.fetchJSON(ctx, "/api/v1/government", &gov); {
	case err == nil:
		obs.Government = &gov
	case !errors.Is(err, ErrUnavailable):
		return nil, fmt.Errorf("fetch government: %w", err)
	}

	switch err := o.fetchJSON(ctx, "/api/v1/history", &obs.History); {
	case err == nil, errors.Is(err, ErrUnavailable):
	default:
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	return obs, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("GET %s: %w", path, ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// WaitForAPI polls the status endpoint with exponential backoff until it
// responds or ctx is done.
func (o *Observer) WaitForAPI(ctx context.Context, initial, max time.Duration) error {
	backoff := initial
	for {
		var st Status
		err := o.fetchJSON(ctx, "/api/v1/status", &st)
		if err == nil {
			return nil
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("api not ready: %w (last error: %v)", ctx.Err(), err)
		case <-t.C:
		}
		backoff *= 2
		if backoff > max {
			backoff = max
		}
	}
}
