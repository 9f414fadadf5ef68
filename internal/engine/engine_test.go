package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/talgya/langmuir/internal/agents"
	"github.com/talgya/langmuir/internal/energy"
	"github.com/talgya/langmuir/internal/lattice"
	"github.com/talgya/langmuir/internal/world"
)

func baseParams() world.Params {
	p := world.DefaultParams()
	p.Geometry = lattice.Geometry{Width: 10, Height: 6, Depth: 2}
	p.TrapFraction = 0.1
	p.Seed = 42
	return p
}

func newSim(t *testing.T, p world.Params, oracle energy.Oracle, workers int) *Simulation {
	t.Helper()
	w, err := world.New(p)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return NewSimulation(w, oracle, NewPool(workers))
}

func step(t *testing.T, s *Simulation, n int) []TickReport {
	t.Helper()
	out := make([]TickReport, 0, n)
	for i := 0; i < n; i++ {
		r, err := s.Step()
		if err != nil {
			t.Fatalf("tick %d: %v", s.LastTick+1, err)
		}
		out = append(out, r)
	}
	return out
}

func TestStep_ExclusivityAndConservation(t *testing.T) {
	p := baseParams()
	p.Electrons = true
	p.DefectFraction = 0.05
	p.DefectCharge = 1
	s := newSim(t, p, energy.NewCoulomb(p.Geometry, 0.1, 5), 2)
	s.CheckInvariants = true

	w := s.World
	for _, r := range step(t, s, 300) {
		for _, ct := range agents.CarrierTypes {
			if uint64(w.Population(ct))+w.Reached[ct] > w.Injected[ct] {
				t.Fatalf("tick %d %s: population %d + reached %d > injected %d",
					r.Tick, ct, w.Population(ct), w.Reached[ct], w.Injected[ct])
			}
		}
	}
	for _, ct := range agents.CarrierTypes {
		if got := uint64(w.Population(ct)) + w.Reached[ct]; got != w.Injected[ct] {
			t.Errorf("%s: population+reached = %d, injected = %d", ct, got, w.Injected[ct])
		}
	}
	if err := w.CheckInvariants(); err != nil {
		t.Errorf("CheckInvariants: %v", err)
	}
	if s.Phase() != PhaseIdle {
		t.Errorf("phase after Step = %v, want idle", s.Phase())
	}
}

func TestStep_CountersMonotonic(t *testing.T) {
	s := newSim(t, baseParams(), nil, 1)
	var prev []FluxStat
	for _, r := range step(t, s, 200) {
		for i, f := range r.Flux {
			if f.Successes > f.Attempts {
				t.Fatalf("tick %d %s: successes %d > attempts %d", r.Tick, f.Name, f.Successes, f.Attempts)
			}
			if prev != nil && (f.Attempts < prev[i].Attempts || f.Successes < prev[i].Successes) {
				t.Fatalf("tick %d %s: counters went backwards", r.Tick, f.Name)
			}
		}
		prev = r.Flux
	}
	src, ok := s.Report().FluxByName("hole-source")
	if !ok {
		t.Fatal("hole-source missing from report")
	}
	if src.Attempts != 200 {
		t.Errorf("hole-source attempts = %d, want one per tick", src.Attempts)
	}
}

func TestStep_ZeroTemperatureBlocksUphillInjection(t *testing.T) {
	p := baseParams()
	p.KT = 0
	p.TrapFraction = 0
	p.SourcePotential, p.DrainPotential = 0, 1 // uphill for holes
	s := newSim(t, p, nil, 1)

	step(t, s, 50)
	src := s.World.Sources[agents.Hole]
	if src.Attempts() != 50 || src.Successes() != 0 {
		t.Errorf("source attempts %d successes %d, want 50 and 0", src.Attempts(), src.Successes())
	}
	if s.World.Population(agents.Hole) != 0 {
		t.Errorf("population = %d, want 0", s.World.Population(agents.Hole))
	}
}

func TestStep_ZeroTemperatureFreezesCarriers(t *testing.T) {
	p := world.DefaultParams()
	p.Geometry = lattice.Geometry{Width: 1, Height: 2, Depth: 1}
	p.KT = 0
	p.TrapFraction = 0
	p.SourceRate = 0
	p.SourcePotential, p.DrainPotential = 0, 1 // drain uphill for holes
	p.Seed = 9
	s := newSim(t, p, nil, 2)
	s.CheckInvariants = true

	// Each carrier can only reach the source, the other carrier, or the drain.
	w := s.World
	g := w.Grid(agents.Hole)
	for y := 0; y < 2; y++ {
		if _, err := w.AddCarrier(agents.Hole, g.Index(0, y, 0), 0); err != nil {
			t.Fatal(err)
		}
	}
	if v, d := g.Potential(g.Index(0, 0, 0)), g.Potential(g.DrainSite()); d <= v {
		t.Fatalf("drain potential %v not above site potential %v", d, v)
	}

	rejected := 0
	for _, r := range step(t, s, 50) {
		if r.Hops.Moves != 0 || len(r.Exits) != 0 {
			t.Fatalf("tick %d: moves %d exits %d, want none", r.Tick, r.Hops.Moves, len(r.Exits))
		}
		rejected += r.Hops.Rejected
	}
	if rejected == 0 {
		t.Error("no drain hop was ever evaluated")
	}
	if w.Reached[agents.Hole] != 0 || w.Population(agents.Hole) != 2 {
		t.Errorf("reached %d population %d, want 0 and 2", w.Reached[agents.Hole], w.Population(agents.Hole))
	}
	if d := w.Drains[agents.Hole]; d.Attempts() != 0 {
		t.Errorf("drain attempts = %d, want 0", d.Attempts())
	}
}

func TestStep_SingleCarrierDriftsToDrain(t *testing.T) {
	p := world.DefaultParams()
	p.Geometry = lattice.Geometry{Width: 5, Height: 1, Depth: 1}
	p.TrapFraction = 0
	p.SourceRate = 0
	p.SourcePotential, p.DrainPotential = 0, -10
	p.Seed = 7
	s := newSim(t, p, nil, 1)

	w := s.World
	c, err := w.AddCarrier(agents.Hole, w.Grid(agents.Hole).Index(0, 0, 0), 0)
	if err != nil {
		t.Fatal(err)
	}

	moves := 0
	var exit *Exit
	for i := 0; i < 1000 && !c.Removed(); i++ {
		r := step(t, s, 1)[0]
		moves += r.Hops.Moves
		if len(r.Exits) > 0 {
			exit = &r.Exits[0]
		}
	}
	if !c.Removed() {
		t.Fatalf("carrier still at site %d after 1000 ticks", c.Site)
	}
	if c.PathLength != 4 || uint64(moves) != c.PathLength {
		t.Errorf("path length %d, committed moves %d, want 4", c.PathLength, moves)
	}
	if c.Attempts != s.LastTick || c.Lifetime != s.LastTick {
		t.Errorf("attempts %d lifetime %d, want %d", c.Attempts, c.Lifetime, s.LastTick)
	}
	if w.Reached[agents.Hole] != 1 || w.PercentReached(agents.Hole) != 100 {
		t.Errorf("reached %d percent %v", w.Reached[agents.Hole], w.PercentReached(agents.Hole))
	}
	if exit == nil || exit.CarrierID != c.ID || exit.X != 4 {
		t.Errorf("exit = %+v", exit)
	}
	if d := w.Drains[agents.Hole]; d.Successes() != 1 {
		t.Errorf("drain successes = %d", d.Successes())
	}
}

func TestStep_IndependentOfWorkerCount(t *testing.T) {
	p := baseParams()
	p.Electrons = true
	p.Geometry = lattice.Geometry{Width: 16, Height: 8, Depth: 2, Periodic: true}
	run := func(workers int) *Simulation {
		s := newSim(t, p, energy.NewCoulomb(p.Geometry, 0.05, 0), workers)
		step(t, s, 150)
		return s
	}
	a, b := run(1), run(4)

	fa, fb := a.Frame(false), b.Frame(false)
	if len(fa.Carriers) != len(fb.Carriers) {
		t.Fatalf("carrier counts differ: %d vs %d", len(fa.Carriers), len(fb.Carriers))
	}
	for i := range fa.Carriers {
		if fa.Carriers[i] != fb.Carriers[i] {
			t.Fatalf("carrier %d differs: %+v vs %+v", i, fa.Carriers[i], fb.Carriers[i])
		}
	}
	ra, rb := a.Report(), b.Report()
	if ra.Hops != rb.Hops {
		t.Errorf("hop stats differ: %+v vs %+v", ra.Hops, rb.Hops)
	}
	for i := range ra.Flux {
		if ra.Flux[i] != rb.Flux[i] {
			t.Errorf("flux %d differs: %+v vs %+v", i, ra.Flux[i], rb.Flux[i])
		}
	}
}

func TestStep_OracleErrorLeavesWorldUnchanged(t *testing.T) {
	boom := errors.New("boom")
	oracle := energy.OracleFunc(func(lattice.SiteID, *energy.Snapshot, lattice.CarrierID) (float64, error) {
		return 0, boom
	})
	p := baseParams()
	p.Geometry = lattice.Geometry{Width: 5, Height: 5, Depth: 1}
	p.TrapFraction = 0
	s := newSim(t, p, oracle, 2)

	w := s.World
	g := w.Grid(agents.Hole)
	c, err := w.AddCarrier(agents.Hole, g.Index(2, 2, 0), 0)
	if err != nil {
		t.Fatal(err)
	}
	site := c.Site

	_, err = s.Step()
	if !errors.Is(err, boom) {
		t.Fatalf("Step err = %v, want boom", err)
	}
	if s.LastTick != 0 || s.CurrentTick() != 0 {
		t.Errorf("tick advanced to %d", s.LastTick)
	}
	if c.Site != site || c.Attempts != 0 || g.Occupant(site) != c.ID {
		t.Errorf("carrier changed: site %d attempts %d", c.Site, c.Attempts)
	}
	if w.Sources[agents.Hole].Attempts() != 0 {
		t.Errorf("injection ran after a failed attempt phase")
	}
	if s.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle", s.Phase())
	}
}

func TestCommit_FirstClaimWins(t *testing.T) {
	p := world.DefaultParams()
	p.Geometry = lattice.Geometry{Width: 3, Height: 1, Depth: 1}
	p.TrapFraction = 0
	s := newSim(t, p, nil, 1)

	w := s.World
	g := w.Grid(agents.Hole)
	left, mid, right := g.Index(0, 0, 0), g.Index(1, 0, 0), g.Index(2, 0, 0)
	a, _ := w.AddCarrier(agents.Hole, left, 0)
	b, _ := w.AddCarrier(agents.Hole, right, 0)

	s.proposals[agents.Hole] = []agents.Proposal{
		{Index: 0, Carrier: a.ID, From: left, To: mid, Outcome: agents.Move},
		{Index: 1, Carrier: b.ID, From: right, To: mid, Outcome: agents.Move},
	}
	var hops HopStats
	var counts tickCounts
	if _, err := s.commitPhase(1, &hops, &counts); err != nil {
		t.Fatal(err)
	}
	if a.Site != mid || b.Site != right {
		t.Errorf("sites a=%d b=%d, want %d and %d", a.Site, b.Site, mid, right)
	}
	if hops.Moves != 1 || hops.Conflicts != 1 {
		t.Errorf("hops = %+v", hops)
	}
	if err := w.CheckInvariants(); err != nil {
		t.Error(err)
	}

	// The loser can now be absorbed.
	s.proposals[agents.Hole] = []agents.Proposal{
		{Index: 0, Carrier: a.ID, From: mid, To: mid},
		{Index: 1, Carrier: b.ID, From: right, To: g.DrainSite(), Outcome: agents.Absorb},
	}
	exits, err := s.commitPhase(2, &hops, &counts)
	if err != nil {
		t.Fatal(err)
	}
	if len(exits) != 1 || exits[0].CarrierID != b.ID || !b.Removed() {
		t.Errorf("exits = %+v", exits)
	}
	if w.Population(agents.Hole) != 1 || g.Occupied(right) {
		t.Errorf("absorbed carrier not cleared")
	}
}

func TestCommit_AbsorbAtNonDrainIsInvariantError(t *testing.T) {
	p := world.DefaultParams()
	p.Geometry = lattice.Geometry{Width: 3, Height: 1, Depth: 1}
	s := newSim(t, p, nil, 1)
	g := s.World.Grid(agents.Hole)
	a, _ := s.World.AddCarrier(agents.Hole, g.Index(0, 0, 0), 0)

	s.proposals[agents.Hole] = []agents.Proposal{
		{Carrier: a.ID, From: a.Site, To: g.Index(1, 0, 0), Outcome: agents.Absorb},
	}
	var hops HopStats
	var counts tickCounts
	if _, err := s.commitPhase(1, &hops, &counts); !errors.Is(err, errInvariant) {
		t.Errorf("err = %v, want errInvariant", err)
	}
}

func TestEnqueue_ResetCounters(t *testing.T) {
	s := newSim(t, baseParams(), nil, 1)
	step(t, s, 20)
	s.Enqueue(ResetCounters)
	step(t, s, 1)

	src := s.World.Sources[agents.Hole]
	if src.Attempts() != 1 {
		t.Errorf("source attempts after reset = %d, want 1", src.Attempts())
	}
	// A second reset without ticking is idempotent.
	ResetCounters(s.World)
	ResetCounters(s.World)
	if src.Attempts() != 0 || src.SuccessRate() != 0 {
		t.Errorf("counters not zero after reset")
	}
}

type countingSink struct {
	ticks     int
	frames    int
	withSites int
}

func (c *countingSink) RecordTick(*TickReport) error {
	c.ticks++
	return errors.New("sink errors are logged, not fatal")
}

func (c *countingSink) RecordFrame(f *Frame) error {
	c.frames++
	if len(f.Traps) > 0 {
		c.withSites++
	}
	return nil
}

func TestStep_Sinks(t *testing.T) {
	s := newSim(t, baseParams(), nil, 1)
	sink := &countingSink{}
	s.Sinks = append(s.Sinks, sink)
	s.FrameSinks = append(s.FrameSinks, sink)
	s.FrameEvery = 5

	step(t, s, 20)
	if sink.ticks != 20 || sink.frames != 4 || sink.withSites != 1 {
		t.Errorf("sink saw %d ticks %d frames %d with sites", sink.ticks, sink.frames, sink.withSites)
	}
}

func TestEngine_RunMaxTicks(t *testing.T) {
	s := newSim(t, baseParams(), nil, 2)
	e := NewEngine(s)
	e.MaxTicks = 25
	e.ReportEvery = 10
	var ticks, reports atomic.Int32
	e.OnTick = func(*TickReport) { ticks.Add(1) }
	e.OnReport = func(*TickReport) { reports.Add(1) }

	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.LastTick != 25 || ticks.Load() != 25 || reports.Load() != 2 {
		t.Errorf("last tick %d, OnTick %d, OnReport %d", s.LastTick, ticks.Load(), reports.Load())
	}
	if e.Running() {
		t.Errorf("engine still running")
	}
}

func TestEngine_RunCancelled(t *testing.T) {
	s := newSim(t, baseParams(), nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewEngine(s).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if s.LastTick != 0 {
		t.Errorf("ran %d ticks after cancel", s.LastTick)
	}
}

func TestEngine_StopBeforeRun(t *testing.T) {
	s := newSim(t, baseParams(), nil, 1)
	e := NewEngine(s)
	e.MaxTicks = 3

	e.Stop()
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.LastTick != 0 {
		t.Fatalf("ran %d ticks after an early Stop", s.LastTick)
	}

	// The stop is consumed; the next Run proceeds.
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.LastTick != 3 {
		t.Errorf("second run reached tick %d, want 3", s.LastTick)
	}
}

func TestEngine_RunStopsOnTickError(t *testing.T) {
	boom := errors.New("boom")
	p := baseParams()
	p.SourcePotential, p.DrainPotential = 0, -3
	oracle := energy.OracleFunc(func(_ lattice.SiteID, snap *energy.Snapshot, _ lattice.CarrierID) (float64, error) {
		if snap.Tick() >= 10 {
			return 0, boom
		}
		return 0, nil
	})
	s := newSim(t, p, oracle, 1)
	e := NewEngine(s)
	e.MaxTicks = 100
	if err := e.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want boom", err)
	}
	if s.LastTick < 9 || s.LastTick >= e.MaxTicks {
		t.Errorf("last tick = %d, want the run cut short after tick 9", s.LastTick)
	}
}

func TestPool_Map(t *testing.T) {
	for _, workers := range []int{1, 3, 8} {
		p := NewPool(workers)
		seen := make([]atomic.Int32, 17)
		if err := p.Map(len(seen), func(i int) error {
			seen[i].Add(1)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		for i := range seen {
			if seen[i].Load() != 1 {
				t.Errorf("workers=%d index %d visited %d times", workers, i, seen[i].Load())
			}
		}
	}

	boom := errors.New("boom")
	err := NewPool(4).Map(40, func(i int) error {
		if i == 13 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("Map err = %v, want boom", err)
	}
	if NewPool(0).Workers() < 1 {
		t.Errorf("default pool has no workers")
	}
}
