// Command ivsweep measures a current-voltage curve from a running langmuir
// simulation. It steps the drain potential through a range over the admin
// API, waits for each bias to settle, and records the drain current.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/langmuir/internal/sweep"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		apiURL  = flag.String("api", envOrDefault("LANGMUIR_API_URL", "http://localhost:8080"), "simulation API base URL (env LANGMUIR_API_URL)")
		keyEnv  = flag.String("admin-key-env", "LANGMUIR_ADMIN_KEY", "environment variable holding the admin key")
		source  = flag.Float64("source", 0, "source potential held for the whole sweep")
		from    = flag.Float64("from", 0, "first drain potential")
		to      = flag.Float64("to", -2, "last drain potential")
		points  = flag.Int("points", envIntOrDefault("IVSWEEP_POINTS", 11), "number of drain potentials")
		settle  = flag.Uint64("settle", 2000, "ticks discarded after each change")
		measure = flag.Uint64("measure", 5000, "ticks averaged per point")
		poll    = flag.Duration("poll", 250*time.Millisecond, "status poll interval")
		out     = flag.String("out", "ivsweep.json", "results file")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	adminKey := os.Getenv(*keyEnv)
	if adminKey == "" {
		slog.Error("admin key is required", "env", *keyEnv)
		return 1
	}

	plan := sweep.Plan{
		SourcePotential: *source,
		DrainPotentials: sweep.Linspace(*from, *to, *points),
		SettleTicks:     *settle,
		MeasureTicks:    *measure,
		Poll:            *poll,
	}
	if len(plan.DrainPotentials) == 0 {
		slog.Error("points must be positive", "points", *points)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, stopping sweep", "signal", sig)
		cancel()
	}()

	observer := sweep.NewObserver(*apiURL)
	actor := sweep.NewActor(*apiURL, adminKey)

	// The simulation process may still be building its world.
	slog.Info("waiting for simulation API...", "api_url", *apiURL)
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Minute)
	err := sweep.WaitForAPI(waitCtx, observer)
	waitCancel()
	if err != nil {
		slog.Error("simulation API not ready", "error", err)
		return 1
	}

	status, err := observer.Status(ctx)
	if err != nil {
		slog.Error("status failed", "error", err)
		return 1
	}
	results := &sweep.Results{RunID: status.RunID, Plan: plan}
	slog.Info("sweep starting",
		"run_id", status.RunID,
		"tick", humanize.Comma(int64(status.Tick)),
		"points", len(plan.DrainPotentials),
		"ticks_per_point", humanize.Comma(int64(plan.SettleTicks+plan.MeasureTicks)),
	)

	// Results are saved after every point so an interrupted sweep keeps its data.
	_, err = sweep.Run(ctx, observer, actor, plan, func(p sweep.Point) {
		results.Record(p)
		if err := results.Save(*out); err != nil {
			slog.Error("failed to save results", "error", err)
		}
	})

	// Leave the device where it started.
	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if rerr := actor.SetElectrodes(restoreCtx, status.Electrodes.SourcePotential, status.Electrodes.DrainPotential); rerr != nil {
		slog.Warn("failed to restore electrode potentials", "error", rerr)
	}
	restoreCancel()

	if err != nil {
		slog.Error("sweep stopped", "measured", len(results.Points), "error", err)
		if ctx.Err() == nil {
			return 1
		}
	}

	fmt.Printf("\n%d points written to %s\n\n", len(results.Points), *out)
	fmt.Print(results.Format())
	return 0
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
