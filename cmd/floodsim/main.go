// Command floodsim runs the household flood-adaptation simulation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/floodsim/internal/agents"
	"github.com/talgya/floodsim/internal/api"
	"github.com/talgya/floodsim/internal/config"
	"github.com/talgya/floodsim/internal/engine"
	"github.com/talgya/floodsim/internal/entropy"
	"github.com/talgya/floodsim/internal/persistence"
	"github.com/talgya/floodsim/internal/social"
	"github.com/talgya/floodsim/internal/stream"
	"github.com/talgya/floodsim/internal/telemetry"
	"github.com/talgya/floodsim/internal/world"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	printTable := flag.Bool("table", false, "Print the household table when the run ends")
	flag.Parse()

	if err := run(*configPath, *printTable); err != nil {
		slog.Error("floodsim failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, printTable bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	slog.Info("floodsim: household flood adaptation", "version", version)

	// ── Telemetry ─────────────────────────────────────────────────────
	shutdownTelemetry, err := telemetry.Init("floodsim", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()
	metrics, err := telemetry.NewTickMetrics(nil)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	// ── Study Area (deterministic from seed) ──────────────────────────
	runID := uuid.NewString()
	src := entropy.New(cfg.Sim.Seed)
	slog.Info("run identity", "run_id", runID, "seed", src.Seed)

	area := world.Generate(cfg.GenConfig(src.Seed))
	slog.Info("study area generated",
		"hexes", area.HexCount(),
		"floodplain_share", fmt.Sprintf("%.3f", area.FloodplainShare()),
	)

	// ── Population ────────────────────────────────────────────────────
	spawnCfg, err := cfg.SpawnConfig()
	if err != nil {
		return err
	}
	rules, err := cfg.Rules()
	if err != nil {
		return err
	}
	households := agents.NewSpawner(src.Rand, area, spawnCfg).SpawnPopulation(cfg.Sim.Households)
	net := social.BuildProximity(households, cfg.Sim.CollaborationRadius)
	slog.Info("population ready",
		"households", len(households),
		"edges", net.EdgeCount(),
		"collaboration_radius", cfg.Sim.CollaborationRadius,
	)

	sim, err := engine.NewSimulation(households, net, engine.Options{
		RunID:      runID,
		Rules:      rules,
		Government: cfg.Government,
		Activation: engine.ActivationOrder(cfg.Sim.ActivationOrder),
		ShockTick:  cfg.Flood.ShockTick,
		Area:       area,
		RNG:        src.Rand,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.Storage.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
		db, err = persistence.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.Storage.Path)

		if err := db.SaveRunStart(sim, src.Seed); err != nil {
			return fmt.Errorf("save run start: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Snapshot Streaming ────────────────────────────────────────────
	var pub *stream.Publisher
	if cfg.Redis.URL != "" {
		pub, err = stream.NewPublisher(ctx, cfg.Redis.URL, runID, slog.Default())
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer pub.Close()
	}

	sim.OnRound = func(snap *engine.Snapshot) {
		if db != nil {
			if err := db.SaveSnapshot(snap); err != nil {
				slog.Error("snapshot save failed", "tick", snap.Tick, "error", err)
			}
		}
		if pub != nil {
			// Streaming is best effort; the error is already logged.
			_ = pub.Publish(ctx, snap)
		}
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Interval = time.Duration(cfg.Sim.IntervalMs) * time.Millisecond
	eng.ReportEvery = cfg.Sim.ReportEvery
	eng.OnTick = sim.TickRound
	eng.OnReport = sim.Report

	// ── HTTP API ──────────────────────────────────────────────────────
	var apiServer *api.Server
	if cfg.API.Port > 0 {
		if cfg.API.AdminKey == "" {
			slog.Warn("api.admin_key not set, admin POST endpoints will be disabled")
		}
		apiServer = &api.Server{
			Sim:      sim,
			Eng:      eng,
			DB:       db,
			Port:     cfg.API.Port,
			AdminKey: cfg.API.AdminKey,
		}
		apiServer.Start()
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	}

	// ── Start ─────────────────────────────────────────────────────────
	if cfg.Sim.Ticks > 0 {
		fmt.Printf("Running %d ticks over %d households...\n", cfg.Sim.Ticks, len(households))
		if err := eng.RunTicks(ctx, cfg.Sim.Ticks); err != nil {
			slog.Warn("run interrupted", "tick", eng.Tick, "error", err)
		}
	} else {
		fmt.Println("Starting simulation... (Ctrl+C to stop)")
		eng.Run(ctx)
	}

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("api shutdown failed", "error", err)
		}
	}

	if eng.Tick > 0 {
		sim.Report(eng.Tick - 1)
		if db != nil {
			if err := db.SaveMeta("run:"+runID+":last_tick", strconv.FormatUint(eng.Tick-1, 10)); err != nil {
				slog.Error("final meta save failed", "error", err)
			}
		}
	}

	if printTable {
		writeTable(os.Stdout, sim)
	}

	fmt.Printf("Simulation stopped after %d ticks. Subsidies disbursed: %s to %d households.\n",
		eng.Tick, humanize.Commaf(sim.Government.TotalDisbursed), sim.Government.TotalAided)
	return nil
}

func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func writeTable(out *os.File, sim *engine.Simulation) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMEASURE\tREDUCTION\tADAPTED")
	for _, row := range sim.HouseholdTable() {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%t\n", row.ID, row.Measure, row.ReductionFactor, row.Adapted)
	}
	tw.Flush()
}
