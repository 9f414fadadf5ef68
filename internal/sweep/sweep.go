package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrEmptyPlan is returned when a plan has no voltages to visit.
var ErrEmptyPlan = errors.New("sweep plan has no drain potentials")

// Plan describes one current-voltage sweep.
type Plan struct {
	SourcePotential float64       `json:"source_potential"`
	DrainPotentials []float64     `json:"drain_potentials"`
	SettleTicks     uint64        `json:"settle_ticks"`
	MeasureTicks    uint64        `json:"measure_ticks"`
	Poll            time.Duration `json:"-"`
}

// Linspace returns n evenly spaced values from start to stop inclusive.
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	out[n-1] = stop
	return out
}

// Point is the measured response at one bias.
type Point struct {
	SourcePotential float64 `json:"source_potential"`
	DrainPotential  float64 `json:"drain_potential"`
	Bias            float64 `json:"bias"`
	FromTick        uint64  `json:"from_tick"`
	ToTick          uint64  `json:"to_tick"`
	// Absorbed carriers per tick, per drain, over the measurement window.
	Current map[string]float64 `json:"current"`
	// Injected carriers per tick, per source.
	Injection map[string]float64 `json:"injection"`
}

// TotalCurrent sums the drain currents.
func (p Point) TotalCurrent() float64 {
	var sum float64
	for _, c := range p.Current {
		sum += c
	}
	return sum
}

// Run visits every drain potential in order. At each one it sets the
// electrodes, resets the flux counters, lets the system settle, and then
// measures the change in each electrode's successes over MeasureTicks.
// onPoint, if set, is called after each point.
func Run(ctx context.Context, obs *Observer, act *Actor, plan Plan, onPoint func(Point)) ([]Point, error) {
	if len(plan.DrainPotentials) == 0 {
		return nil, ErrEmptyPlan
	}
	if plan.MeasureTicks == 0 {
		plan.MeasureTicks = 1
	}
	if plan.Poll <= 0 {
		plan.Poll = 50 * time.Millisecond
	}

	points := make([]Point, 0, len(plan.DrainPotentials))
	for i, vd := range plan.DrainPotentials {
		p, err := measure(ctx, obs, act, plan, vd)
		if err != nil {
			return points, fmt.Errorf("point %d (drain %.4g): %w", i, vd, err)
		}
		slog.Info("sweep point measured",
			"drain_potential", vd,
			"bias", p.Bias,
			"current", fmt.Sprintf("%.5f", p.TotalCurrent()),
			"ticks", p.ToTick-p.FromTick,
		)
		points = append(points, p)
		if onPoint != nil {
			onPoint(p)
		}
	}
	return points, nil
}

func measure(ctx context.Context, obs *Observer, act *Actor, plan Plan, vd float64) (Point, error) {
	if err := act.SetElectrodes(ctx, plan.SourcePotential, vd); err != nil {
		return Point{}, err
	}
	after, err := act.ResetCounters(ctx)
	if err != nil {
		return Point{}, err
	}

	// Queued requests apply at the start of a tick; a tick already in progress
	// when they were accepted may not see them, so allow one extra.
	if _, err := obs.WaitForTick(ctx, after+2+plan.SettleTicks, plan.Poll); err != nil {
		return Point{}, fmt.Errorf("settle: %w", err)
	}
	start, err := obs.Flux(ctx)
	if err != nil {
		return Point{}, err
	}
	if _, err := obs.WaitForTick(ctx, start.Tick+plan.MeasureTicks, plan.Poll); err != nil {
		return Point{}, fmt.Errorf("measure: %w", err)
	}
	end, err := obs.Flux(ctx)
	if err != nil {
		return Point{}, err
	}
	return diff(plan.SourcePotential, vd, start, end)
}

// diff turns two flux readings into per-tick rates.
func diff(vs, vd float64, start, end *FluxReport) (Point, error) {
	if end.Tick <= start.Tick {
		return Point{}, fmt.Errorf("empty measurement window [%d, %d]", start.Tick, end.Tick)
	}
	ticks := float64(end.Tick - start.Tick)
	before := make(map[string]uint64, len(start.Flux))
	for _, f := range start.Flux {
		before[f.Name] = f.Successes
	}

	p := Point{
		SourcePotential: vs,
		DrainPotential:  vd,
		Bias:            vs - vd,
		FromTick:        start.Tick,
		ToTick:          end.Tick,
		Current:         make(map[string]float64),
		Injection:       make(map[string]float64),
	}
	for _, f := range end.Flux {
		b, ok := before[f.Name]
		if !ok || f.Successes < b {
			return Point{}, fmt.Errorf("counters for %s reset during measurement", f.Name)
		}
		rate := float64(f.Successes-b) / ticks
		if f.Kind == "drain" {
			p.Current[f.Name] = rate
		} else {
			p.Injection[f.Name] = rate
		}
	}
	return p, nil
}
