// Command langmuir runs a kinetic Monte Carlo simulation of charge carriers
// hopping between a source and a drain electrode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/talgya/langmuir/internal/agents"
	"github.com/talgya/langmuir/internal/api"
	"github.com/talgya/langmuir/internal/cluster"
	"github.com/talgya/langmuir/internal/config"
	"github.com/talgya/langmuir/internal/energy"
	"github.com/talgya/langmuir/internal/engine"
	"github.com/talgya/langmuir/internal/lattice"
	"github.com/talgya/langmuir/internal/persistence"
	"github.com/talgya/langmuir/internal/trajectory"
	"github.com/talgya/langmuir/internal/world"
)

func main() {
	os.Exit(run())
}

// run is main with deferred cleanup; it returns the process exit code.
func run() int {
	var (
		configPath = flag.String("config", os.Getenv("LANGMUIR_CONFIG"), "path to a YAML run configuration (env LANGMUIR_CONFIG)")
		seed       = flag.Uint64("seed", 0, "random seed; overrides the config file")
		ticks      = flag.Uint64("ticks", 0, "ticks to run; overrides the config file")
		workers    = flag.Int("workers", 0, "attempt-phase workers; overrides the config file")
		port       = flag.Int("port", 0, "HTTP API port; overrides the config file")
		logLevel   = flag.String("log-level", envOrDefault("LANGMUIR_LOG_LEVEL", "info"), "debug, info, warn, error")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	// ── Configuration ────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "path", *configPath, "error", err)
			return 1
		}
		cfg = loaded
		slog.Info("config loaded", "path", *configPath)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			cfg.Seed = *seed
		case "ticks":
			cfg.Ticks = *ticks
		case "workers":
			cfg.Workers = *workers
		case "port":
			cfg.API.Port = *port
		}
	})
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	// ── Resources ────────────────────────────────────────────────────
	nodes := cluster.Discover(cfg.Cluster.NodeFile, cfg.Cluster.GPUFile)
	local := cluster.Local(nodes)
	slog.Info("resources discovered",
		"nodes", len(nodes),
		"total_cores", cluster.TotalCores(nodes),
		"host", local.Name,
		"host_cores", local.Cores,
		"gpus", local.GPUs,
	)
	if cfg.Workers == 0 {
		cfg.Workers = local.Cores
	}

	// ── World ────────────────────────────────────────────────────────
	w, err := world.New(cfg.Params())
	if err != nil {
		slog.Error("failed to build world", "error", err)
		return 1
	}
	g := w.Grid(agents.Hole)
	counts := world.SiteCounts(g)
	slog.Info("world ready",
		"lattice", g.String(),
		"sites", humanize.Comma(int64(g.RealSites())),
		"traps", humanize.Comma(int64(counts[lattice.SiteTrap])),
		"defects", humanize.Comma(int64(counts[lattice.SiteDefect])),
		"seed", w.Seed,
		"holes", w.Enabled(agents.Hole),
		"electrons", w.Enabled(agents.Electron),
	)

	var oracle energy.Oracle = energy.Zero{}
	if cfg.Coulomb.Enabled {
		oracle = energy.NewCoulomb(cfg.Geometry(), cfg.Coulomb.Prefactor, cfg.Coulomb.Cutoff)
		slog.Info("coulomb interactions enabled", "prefactor", cfg.Coulomb.Prefactor, "cutoff", cfg.Coulomb.Cutoff)
	}

	// ── Simulation ───────────────────────────────────────────────────
	sim := engine.NewSimulation(w, oracle, engine.NewPool(cfg.Workers))
	sim.CheckInvariants = cfg.CheckInvariants
	sim.FrameEvery = cfg.Output.TrajectoryEvery

	eng := engine.NewEngine(sim)
	eng.MaxTicks = cfg.Ticks
	eng.ReportEvery = cfg.ReportEvery

	// ── Database ─────────────────────────────────────────────────────
	var db *persistence.DB
	runID := fmt.Sprintf("seed-%d", w.Seed)
	if cfg.Output.DBPath != "" {
		if dir := filepath.Dir(cfg.Output.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				slog.Warn("failed to create database directory", "dir", dir, "error", err)
			}
		}
		db, err = persistence.Open(cfg.Output.DBPath)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			return 1
		}
		defer db.Close()
		db.Every = cfg.ReportEvery
		if runID, err = db.StartRun(w.Seed, cfg); err != nil {
			slog.Error("failed to register run", "error", err)
			return 1
		}
		if err := db.SaveMeta("last_run", runID); err != nil {
			slog.Warn("failed to save last run id", "error", err)
		}
		sim.Sinks = append(sim.Sinks, db)
		slog.Info("database opened", "path", cfg.Output.DBPath, "run_id", runID)
	}

	// ── Trajectory ───────────────────────────────────────────────────
	if cfg.Output.TrajectoryDir != "" {
		rec := trajectory.NewRecorder(cfg.Output.TrajectoryDir, runID, 1000)
		defer func() {
			if err := rec.Close(); err != nil {
				slog.Error("trajectory close failed", "error", err)
			}
		}()
		sim.Sinks = append(sim.Sinks, rec)
		if sim.FrameEvery > 0 {
			sim.FrameSinks = append(sim.FrameSinks, rec)
		}
		slog.Info("trajectory recording", "dir", filepath.Join(cfg.Output.TrajectoryDir, runID), "every", sim.FrameEvery)
	}

	// ── HTTP API ─────────────────────────────────────────────────────
	if cfg.API.Port > 0 {
		adminKey := cfg.AdminKey()
		if adminKey == "" {
			slog.Warn("admin key not set, admin POST endpoints will be disabled", "env", cfg.API.AdminKeyEnv)
		}
		apiServer := api.NewServer(sim, eng, cfg.API.Port, adminKey)
		apiServer.DB = db
		defer apiServer.Hub.Close()
		sim.Sinks = append(sim.Sinks, apiServer.Hub)
		apiServer.Start()
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	}

	// ── Start ────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	fmt.Printf("Running %s ticks on %d workers... (Ctrl+C to stop)\n",
		humanize.Comma(int64(cfg.Ticks)), sim.Pool.Workers())

	status := "completed"
	runErr := eng.Run(ctx)
	switch {
	case runErr != nil:
		status = "failed"
	case ctx.Err() != nil:
		status = "interrupted"
	}

	if db != nil {
		if err := db.FinishRun(sim.LastTick, status); err != nil {
			slog.Error("failed to finish run", "error", err)
		}
	}

	report := sim.Report()
	fmt.Printf("\nRun %s %s after %s ticks.\n", runID, status, humanize.Comma(int64(report.Tick)))
	for _, p := range report.Population {
		fmt.Printf("  %-9s injected %s, reached drain %s (%.2f%%), live %d\n",
			p.CarrierType, humanize.Comma(int64(p.Injected)), humanize.Comma(int64(p.Reached)),
			p.PercentReached, p.Count)
	}
	for _, f := range report.Flux {
		fmt.Printf("  %-15s %s / %s  rate %.4f\n",
			f.Name, humanize.Comma(int64(f.Successes)), humanize.Comma(int64(f.Attempts)), f.Rate)
	}

	if runErr != nil {
		slog.Error("simulation aborted", "error", runErr)
		return 1
	}
	return 0
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
