// Package engine provides the tick-based simulation loop: the per-tick
// attempt/commit/injection protocol, its worker pool, and the run driver.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Engine drives a Simulation forward tick by tick.
type Engine struct {
	Sim *Simulation

	MaxTicks    uint64        // Stop after this many ticks; 0 = until Stop or ctx cancel
	Interval    time.Duration // Minimum wall time per tick; 0 = as fast as possible
	ReportEvery uint64        // Progress log cadence in ticks; 0 = never

	// Called after every completed tick, on the engine goroutine.
	OnTick func(r *TickReport)
	// Called every ReportEvery ticks.
	OnReport func(r *TickReport)

	running atomic.Bool
	paused  atomic.Bool
	stop    atomic.Bool
}

// NewEngine creates an engine for sim with default settings.
func NewEngine(sim *Simulation) *Engine {
	return &Engine{
		Sim:         sim,
		ReportEvery: 1000,
	}
}

// Running reports whether Run is executing.
func (e *Engine) Running() bool { return e.running.Load() }

// Paused reports whether the engine is paused.
func (e *Engine) Paused() bool { return e.paused.Load() }

// SetPaused pauses or resumes the loop between ticks.
func (e *Engine) SetPaused(p bool) { e.paused.Store(p) }

// Stop makes Run return after the tick in progress, or immediately if Run
// has not started yet.
func (e *Engine) Stop() { e.stop.Store(true) }

// Run advances the simulation until MaxTicks, Stop, context cancellation, or
// a tick error. Cancellation is only observed between ticks; a tick is never
// abandoned half way.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)
	// A Stop issued before Run starts still applies; the flag is cleared on return.
	defer e.stop.Store(false)

	start := time.Now()
	first := e.Sim.LastTick
	slog.Info("simulation engine started",
		"tick", first,
		"max_ticks", e.MaxTicks,
		"workers", e.Sim.Pool.Workers(),
	)

	for !e.stop.Load() {
		if err := ctx.Err(); err != nil {
			break
		}
		if e.MaxTicks > 0 && e.Sim.LastTick-first >= e.MaxTicks {
			break
		}
		if e.paused.Load() {
			// Paused: sleep briefly and check again.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		tickStart := time.Now()
		report, err := e.Sim.Step()
		if err != nil {
			slog.Error("tick failed, aborting run", "tick", e.Sim.LastTick+1, "error", err)
			return err
		}

		if e.OnTick != nil {
			e.OnTick(&report)
		}
		if e.ReportEvery > 0 && report.Tick%e.ReportEvery == 0 {
			e.logProgress(&report, time.Since(start), report.Tick-first)
			if e.OnReport != nil {
				e.OnReport(&report)
			}
		}

		if e.Interval > 0 {
			if elapsed := time.Since(tickStart); elapsed < e.Interval {
				time.Sleep(e.Interval - elapsed)
			}
		}
	}

	slog.Info("simulation engine stopped",
		"tick", e.Sim.LastTick,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func (e *Engine) logProgress(r *TickReport, elapsed time.Duration, done uint64) {
	attrs := []any{
		"tick", humanize.Comma(int64(r.Tick)),
		"moves", r.Hops.Moves,
		"conflicts", r.Hops.Conflicts,
	}
	for _, p := range r.Population {
		attrs = append(attrs,
			p.CarrierType+"_count", p.Count,
			p.CarrierType+"_reached", humanize.Comma(int64(p.Reached)),
			p.CarrierType+"_pct", fmt.Sprintf("%.2f", p.PercentReached),
		)
	}
	for _, f := range r.Flux {
		attrs = append(attrs, f.Name+"_rate", fmt.Sprintf("%.4f", f.Rate))
	}
	if secs := elapsed.Seconds(); secs > 0 {
		attrs = append(attrs, "ticks_per_sec", humanize.CommafWithDigits(float64(done)/secs, 1))
	}
	slog.Info("progress", attrs...)
}
