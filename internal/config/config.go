// Package config loads run configuration from defaults, an optional YAML file
// and FLOODSIM_ environment variables, and validates it before a run starts.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/talgya/floodsim/internal/agents"
	"github.com/talgya/floodsim/internal/entropy"
	"github.com/talgya/floodsim/internal/flood"
	"github.com/talgya/floodsim/internal/world"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is the prefix of environment overrides.
// FLOODSIM_GOVERNMENT__PER_TICK_CAP -> government.per_tick_cap
const EnvPrefix = "FLOODSIM_"

type Config struct {
	Sim        SimConfig               `koanf:"sim"`
	Household  HouseholdConfig         `koanf:"household"`
	Measures   MeasuresConfig          `koanf:"measures"`
	Thresholds agents.Thresholds       `koanf:"thresholds"`
	Government agents.GovernmentConfig `koanf:"government"`
	Flood      FloodConfig             `koanf:"flood"`
	World      WorldConfig             `koanf:"world"`
	Storage    StorageConfig           `koanf:"storage"`
	API        APIConfig               `koanf:"api"`
	Redis      RedisConfig             `koanf:"redis"`
	Telemetry  TelemetryConfig         `koanf:"telemetry"`
	Log        LogConfig               `koanf:"log"`
}

type SimConfig struct {
	Seed                int64   `koanf:"seed"`
	Households          int     `koanf:"households"`
	Ticks               uint64  `koanf:"ticks"` // 0 = run until stopped
	IntervalMs          int     `koanf:"interval_ms"`
	ActivationOrder     string  `koanf:"activation_order"` // sequential, random
	ReportEvery         uint64  `koanf:"report_every"`
	PoolingThreshold    float64 `koanf:"pooling_threshold"`
	CollaborationRadius float64 `koanf:"collaboration_radius"` // metres

	ResetAdaptationEachTick         bool `koanf:"reset_adaptation_each_tick"`
	IncludeInitiatorInCollaboration bool `koanf:"include_initiator_in_collaboration"`
	RecomputeBudgetOnWealthChange   bool `koanf:"recompute_budget_on_wealth_change"`
}

type HouseholdConfig struct {
	Wealth       entropy.Distribution `koanf:"wealth"`
	RiskAversion entropy.Distribution `koanf:"risk_aversion"`
	Income       entropy.Distribution `koanf:"income"`
}

// MeasuresConfig keys both tables by measure name (sandbags, elevate_house,
// relocate_electrical, collaborative_project).
type MeasuresConfig struct {
	Costs     map[string]float64 `koanf:"costs"`
	Reduction map[string]float64 `koanf:"reduction"`
}

type FloodConfig struct {
	ShockTick int64 `koanf:"shock_tick"` // < 0 disables the scheduled shock
}

type WorldConfig struct {
	Radius              int     `koanf:"radius"`
	Spacing             float64 `koanf:"spacing"`
	FloodLevel          float64 `koanf:"flood_level"`
	DepthScale          float64 `koanf:"depth_scale"`
	FloodplainElevation float64 `koanf:"floodplain_elevation"`
	Rivers              int     `koanf:"rivers"`
}

type StorageConfig struct {
	Path string `koanf:"path"` // empty disables persistence
}

type APIConfig struct {
	Port     int    `koanf:"port"` // 0 disables the HTTP API
	AdminKey string `koanf:"admin_key"`
}

type RedisConfig struct {
	URL string `koanf:"url"` // empty disables snapshot streaming
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

func setDefaults(k *koanf.Koanf) {
	k.Set("sim.seed", 42)
	k.Set("sim.households", 500)
	k.Set("sim.ticks", 100)
	k.Set("sim.interval_ms", 0)
	k.Set("sim.activation_order", "sequential")
	k.Set("sim.report_every", 10)
	k.Set("sim.pooling_threshold", 50000.0)
	k.Set("sim.collaboration_radius", 200.0)
	k.Set("sim.reset_adaptation_each_tick", false)
	k.Set("sim.include_initiator_in_collaboration", false)
	k.Set("sim.recompute_budget_on_wealth_change", false)

	spawn := agents.DefaultSpawnConfig()
	setDistribution(k, "household.wealth", spawn.Wealth)
	setDistribution(k, "household.risk_aversion", spawn.RiskAversion)
	setDistribution(k, "household.income", spawn.Income)

	tbl := flood.DefaultTable()
	for _, m := range flood.Measures {
		k.Set("measures.costs."+m.String(), tbl.Cost(m))
		k.Set("measures.reduction."+m.String(), tbl.ReductionFactor(m))
	}

	th := agents.DefaultThresholds()
	k.Set("thresholds.minimum_damage", th.MinimumDamage)
	k.Set("thresholds.adaptation_sufficiency", th.AdaptationSufficiency)
	k.Set("thresholds.wallet_adaptation", th.WalletAdaptation)

	gov := agents.DefaultGovernmentConfig()
	k.Set("government.subsidy_budget", gov.SubsidyBudget)
	k.Set("government.subsidy_amount", gov.SubsidyAmount)
	k.Set("government.per_tick_cap", gov.PerTickCap)
	k.Set("government.trigger_period", gov.TriggerPeriod)
	k.Set("government.wealth_eligibility_threshold", gov.WealthEligibilityThreshold)

	k.Set("flood.shock_tick", -1)

	gen := world.DefaultGenConfig()
	k.Set("world.radius", gen.Radius)
	k.Set("world.spacing", gen.Spacing)
	k.Set("world.flood_level", gen.FloodLevel)
	k.Set("world.depth_scale", gen.DepthScale)
	k.Set("world.floodplain_elevation", gen.FloodplainElevation)
	k.Set("world.rivers", gen.Rivers)

	k.Set("storage.path", "data/floodsim.db")
	k.Set("api.port", 0)
	k.Set("redis.url", "")
	k.Set("telemetry.exporter", "none")
	k.Set("log.level", "info")
	k.Set("log.format", "text")
}

func setDistribution(k *koanf.Koanf, prefix string, d entropy.Distribution) {
	k.Set(prefix+".kind", d.Kind)
	k.Set(prefix+".min", d.Min)
	k.Set(prefix+".max", d.Max)
	k.Set(prefix+".mean", d.Mean)
	k.Set(prefix+".stddev", d.StdDev)
}

// Load reads defaults, then the YAML file at path (if any), then environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every configuration error at once, each wrapping ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Sim.Households <= 0 {
		bad("sim.households must be positive, got %d", c.Sim.Households)
	}
	switch strings.ToLower(c.Sim.ActivationOrder) {
	case "sequential", "random":
	default:
		bad("sim.activation_order %q (want sequential or random)", c.Sim.ActivationOrder)
	}
	if !finite(c.Sim.PoolingThreshold) || c.Sim.PoolingThreshold < 0 {
		bad("sim.pooling_threshold %v", c.Sim.PoolingThreshold)
	}
	if !finite(c.Sim.CollaborationRadius) || c.Sim.CollaborationRadius < 0 {
		bad("sim.collaboration_radius %v", c.Sim.CollaborationRadius)
	}

	for name, d := range map[string]entropy.Distribution{
		"wealth":        c.Household.Wealth,
		"risk_aversion": c.Household.RiskAversion,
		"income":        c.Household.Income,
	} {
		if err := d.Validate(); err != nil {
			bad("household.%s: %v", name, err)
		}
	}
	if lo, hi := c.Household.RiskAversion.Bounds(); lo < 0 || hi > 1 {
		bad("household.risk_aversion must stay within [0,1], got [%v,%v]", lo, hi)
	}
	if lo, _ := c.Household.Wealth.Bounds(); lo < 0 {
		bad("household.wealth must be non-negative, got min %v", lo)
	}

	if _, err := c.MeasureTable(); err != nil {
		errs = append(errs, err)
	}

	th := c.Thresholds
	if !finite(th.MinimumDamage) || !finite(th.AdaptationSufficiency) || !finite(th.WalletAdaptation) {
		bad("thresholds must be finite")
	}

	g := c.Government
	if g.TriggerPeriod == 0 {
		bad("government.trigger_period must be positive")
	}
	if !finite(g.SubsidyAmount) || g.SubsidyAmount <= 0 {
		bad("government.subsidy_amount must be positive, got %v", g.SubsidyAmount)
	}
	if !finite(g.SubsidyBudget) || g.SubsidyBudget < 0 {
		bad("government.subsidy_budget must be non-negative, got %v", g.SubsidyBudget)
	}
	if g.PerTickCap < 0 {
		bad("government.per_tick_cap must be non-negative, got %d", g.PerTickCap)
	}
	if !finite(g.WealthEligibilityThreshold) {
		bad("government.wealth_eligibility_threshold must be finite")
	}

	if c.World.Radius <= 0 || c.World.Spacing <= 0 {
		bad("world radius and spacing must be positive")
	}

	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "none", "stdout":
	case "otlp":
		if c.Telemetry.OTLPEndpoint == "" {
			bad("telemetry.otlp_endpoint required for the otlp exporter")
		}
	default:
		bad("telemetry.exporter %q (want none, stdout or otlp)", c.Telemetry.Exporter)
	}

	return errors.Join(errs...)
}

// MeasureTable converts the name-keyed measure maps into a typed table.
// Every selectable measure must be present; unknown names are rejected.
func (c *Config) MeasureTable() (flood.Table, error) {
	var tbl flood.Table
	seen := make(map[flood.Measure]int)

	fill := func(section string, src map[string]float64, dst *[flood.NumMeasures]float64) error {
		for name, v := range src {
			m, ok := flood.ParseMeasure(name)
			if !ok || !m.Valid() {
				return fmt.Errorf("%w: measures.%s: unknown measure %q", ErrInvalid, section, name)
			}
			dst[m-1] = v
			seen[m]++
		}
		return nil
	}
	if err := fill("costs", c.Measures.Costs, &tbl.Costs); err != nil {
		return tbl, err
	}
	if err := fill("reduction", c.Measures.Reduction, &tbl.Reduction); err != nil {
		return tbl, err
	}
	for _, m := range flood.Measures {
		if seen[m] != 2 {
			return tbl, fmt.Errorf("%w: measure %s needs both a cost and a reduction factor", ErrInvalid, m)
		}
	}
	if err := tbl.Validate(); err != nil {
		return tbl, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return tbl, nil
}

// Rules assembles the household rule set.
func (c *Config) Rules() (agents.Rules, error) {
	tbl, err := c.MeasureTable()
	if err != nil {
		return agents.Rules{}, err
	}
	return agents.Rules{
		Measures:                        tbl,
		Thresholds:                      c.Thresholds,
		PoolingThreshold:                c.Sim.PoolingThreshold,
		ResetAdaptationEachTick:         c.Sim.ResetAdaptationEachTick,
		IncludeInitiatorInCollaboration: c.Sim.IncludeInitiatorInCollaboration,
		RecomputeBudgetOnWealthChange:   c.Sim.RecomputeBudgetOnWealthChange,
	}, nil
}

// SpawnConfig assembles the household spawner configuration.
func (c *Config) SpawnConfig() (agents.SpawnConfig, error) {
	tbl, err := c.MeasureTable()
	if err != nil {
		return agents.SpawnConfig{}, err
	}
	return agents.SpawnConfig{
		Wealth:       c.Household.Wealth,
		RiskAversion: c.Household.RiskAversion,
		Income:       c.Household.Income,
		Measures:     tbl,
	}, nil
}

// GenConfig assembles the study-area generation parameters.
func (c *Config) GenConfig(seed int64) world.GenConfig {
	return world.GenConfig{
		Radius:              c.World.Radius,
		Spacing:             c.World.Spacing,
		Seed:                seed,
		FloodLevel:          c.World.FloodLevel,
		DepthScale:          c.World.DepthScale,
		FloodplainElevation: c.World.FloodplainElevation,
		Rivers:              c.World.Rivers,
	}
}

// LogLevel maps log.level to a slog level.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
