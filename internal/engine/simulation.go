// Simulation ties the world, the energy oracle, and the worker pool together
// and runs the per-tick protocol:
//
//	Idle -> Attempt (parallel) -> Commit (serial) -> Injection (serial) -> Idle
//
// Attempt-phase workers only read the lattices and a tick-start snapshot.
// Commit and injection are the only writers.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/talgya/langmuir/internal/agents"
	"github.com/talgya/langmuir/internal/energy"
	"github.com/talgya/langmuir/internal/entropy"
	"github.com/talgya/langmuir/internal/lattice"
	"github.com/talgya/langmuir/internal/world"
)

// Phase is the orchestrator's position within a tick.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseAttempt
	PhaseCommit
	PhaseInjection
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAttempt:
		return "attempt"
	case PhaseCommit:
		return "commit"
	case PhaseInjection:
		return "injection"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Sink receives the report of every completed tick.
type Sink interface {
	RecordTick(r *TickReport) error
}

// FrameSink receives periodic positional frames.
type FrameSink interface {
	RecordFrame(f *Frame) error
}

// Simulation holds the complete run state and advances it one tick at a time.
type Simulation struct {
	World  *world.World
	Oracle energy.Oracle
	Pool   *Pool

	Sinks      []Sink
	FrameSinks []FrameSink
	FrameEvery uint64 // 0 disables frames

	// CheckInvariants verifies occupancy after every commit; a violation aborts the run.
	CheckInvariants bool

	LastTick uint64 // Most recent completed tick

	phase atomic.Int32

	// Requests from outside the tick loop, applied at the next tick start.
	queueMu sync.Mutex
	queue   []func(*world.World)

	reportMu sync.RWMutex
	report   TickReport

	// Held for writing for the whole of Step; readers of live world state take it for reading.
	stateMu sync.RWMutex

	// Reused across ticks.
	jobs      []job
	proposals [agents.NumCarrierTypes][]agents.Proposal
}

type job struct {
	ct  agents.CarrierType
	idx int
}

// NewSimulation creates a simulation over w. A nil oracle means no Coulomb term.
func NewSimulation(w *world.World, oracle energy.Oracle, pool *Pool) *Simulation {
	if oracle == nil {
		oracle = energy.Zero{}
	}
	if pool == nil {
		pool = NewPool(0)
	}
	s := &Simulation{
		World:  w,
		Oracle: oracle,
		Pool:   pool,
	}
	s.report = buildReport(w, 0, HopStats{}, tickCounts{}, nil)
	return s
}

// CurrentTick returns the most recently completed tick.
func (s *Simulation) CurrentTick() uint64 {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.report.Tick
}

// Phase returns the phase currently executing.
func (s *Simulation) Phase() Phase {
	return Phase(s.phase.Load())
}

// Report returns the statistics of the last completed tick.
func (s *Simulation) Report() TickReport {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.report
}

// Enqueue schedules fn to run against the world before the next tick. It is
// the only safe way to change the world while the engine runs.
func (s *Simulation) Enqueue(fn func(*world.World)) {
	s.queueMu.Lock()
	s.queue = append(s.queue, fn)
	s.queueMu.Unlock()
}

// Frame returns the current positions of every carrier, plus trap and
// defect sites when withSites is set. Safe to call while the engine runs.
func (s *Simulation) Frame(withSites bool) *Frame {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return buildFrame(s.World, s.LastTick, withSites)
}

// Params returns the world parameters as of the last completed tick.
func (s *Simulation) Params() world.Params {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.World.Params
}

// ResetCounters zeroes every flux agent's attempts and successes.
func ResetCounters(w *world.World) {
	for _, a := range w.Fluxes() {
		a.ResetCounters()
	}
}

func (s *Simulation) drainQueue() {
	s.queueMu.Lock()
	q := s.queue
	s.queue = nil
	s.queueMu.Unlock()
	for _, fn := range q {
		fn(s.World)
	}
}

// Step runs one full tick. An error means the tick did not complete and the
// run must stop; a failed attempt phase leaves the world untouched.
func (s *Simulation) Step() (TickReport, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.drainQueue()
	w := s.World
	tick := s.LastTick + 1

	s.phase.Store(int32(PhaseAttempt))
	hops, err := s.attemptPhase(tick)
	if err != nil {
		s.phase.Store(int32(PhaseIdle))
		return TickReport{}, fmt.Errorf("tick %d attempt phase: %w", tick, err)
	}

	s.phase.Store(int32(PhaseCommit))
	var counts tickCounts
	exits, err := s.commitPhase(tick, &hops, &counts)
	if err != nil {
		s.phase.Store(int32(PhaseIdle))
		return TickReport{}, fmt.Errorf("tick %d commit phase: %w", tick, err)
	}

	s.phase.Store(int32(PhaseInjection))
	if err := s.injectionPhase(tick, &counts); err != nil {
		s.phase.Store(int32(PhaseIdle))
		return TickReport{}, fmt.Errorf("tick %d injection phase: %w", tick, err)
	}

	if s.CheckInvariants {
		if err := w.CheckInvariants(); err != nil {
			s.phase.Store(int32(PhaseIdle))
			return TickReport{}, fmt.Errorf("tick %d: %w", tick, err)
		}
	}

	s.LastTick = tick
	report := buildReport(w, tick, hops, counts, exits)
	s.reportMu.Lock()
	s.report = report
	s.reportMu.Unlock()
	s.phase.Store(int32(PhaseIdle))

	for _, sink := range s.Sinks {
		if err := sink.RecordTick(&report); err != nil {
			slog.Error("tick sink failed", "tick", tick, "error", err)
		}
	}
	if s.FrameEvery > 0 && tick%s.FrameEvery == 0 && len(s.FrameSinks) > 0 {
		frame := buildFrame(w, tick, tick == s.FrameEvery)
		for _, fs := range s.FrameSinks {
			if err := fs.RecordFrame(frame); err != nil {
				slog.Error("frame sink failed", "tick", tick, "error", err)
			}
		}
	}
	return report, nil
}

// attemptPhase evaluates one hop per live carrier in parallel. Each carrier
// draws from its own stream keyed by (seed, tick, carrier id), so results do
// not depend on the worker count.
func (s *Simulation) attemptPhase(tick uint64) (HopStats, error) {
	w := s.World
	snap := w.Snapshot(tick)

	var contexts [agents.NumCarrierTypes]*agents.HopContext
	s.jobs = s.jobs[:0]
	for _, ct := range agents.CarrierTypes {
		n := len(w.Carriers[ct])
		contexts[ct] = &agents.HopContext{
			Lattice:  w.Grid(ct),
			Snapshot: snap,
			Oracle:   s.Oracle,
			Coupling: &w.Coupling,
			KT:       w.Params.KT,
		}
		if cap(s.proposals[ct]) < n {
			s.proposals[ct] = make([]agents.Proposal, n)
		}
		s.proposals[ct] = s.proposals[ct][:n]
		for i := 0; i < n; i++ {
			s.jobs = append(s.jobs, job{ct: ct, idx: i})
		}
	}

	err := s.Pool.Map(len(s.jobs), func(j int) error {
		jb := s.jobs[j]
		c := w.Carriers[jb.ct][jb.idx]
		rng := entropy.Stream(w.Seed, tick, uint64(c.ID))
		p, err := agents.Attempt(c, contexts[jb.ct], rng)
		if err != nil {
			return fmt.Errorf("%s %d: %w", jb.ct, c.ID, err)
		}
		p.Index = jb.idx
		s.proposals[jb.ct][jb.idx] = p
		return nil
	})

	var hops HopStats
	if err != nil {
		return hops, err
	}
	hops.Attempts = len(s.jobs)
	return hops, nil
}

// errInvariant marks a commit that found the world in a state no proposal
// could produce.
var errInvariant = errors.New("occupancy invariant violated")

// commitPhase applies proposals in carrier-list order. The first carrier to
// claim a destination wins; later claimants stay put.
func (s *Simulation) commitPhase(tick uint64, hops *HopStats, counts *tickCounts) ([]Exit, error) {
	w := s.World
	var exits []Exit

	for _, ct := range agents.CarrierTypes {
		g := w.Grid(ct)
		carriers := w.Carriers[ct]
		for i, p := range s.proposals[ct] {
			c := carriers[i]
			c.Attempts++
			c.Lifetime++

			switch p.Outcome {
			case agents.Move:
				if g.Occupied(p.To) {
					hops.Conflicts++
					continue
				}
				if g.Occupant(c.Site) != c.ID {
					return nil, fmt.Errorf("%s %d not on its site %d: %w", ct, c.ID, c.Site, errInvariant)
				}
				g.ClearOccupant(c.Site)
				if err := g.SetOccupant(p.To, c.ID); err != nil {
					return nil, fmt.Errorf("%s %d: %w", ct, c.ID, err)
				}
				c.MoveTo(p.To)
				hops.Moves++

			case agents.Absorb:
				drain := w.Drains[ct]
				if drain == nil || !drain.ShouldTransport(p.To) {
					return nil, fmt.Errorf("%s %d absorbed at non-drain site %d: %w", ct, c.ID, p.To, errInvariant)
				}
				pos := g.Coords(c.Site)
				g.ClearOccupant(c.Site)
				c.Remove()
				drain.RecordAbsorption()
				w.Reached[ct]++
				counts.absorbed[ct]++
				exits = append(exits, Exit{
					Tick: tick, CarrierID: c.ID, CarrierType: ct.String(),
					X: pos.X, Y: pos.Y, Z: pos.Z,
					Lifetime: c.Lifetime, PathLength: c.PathLength,
				})

			default:
				switch p.Reason {
				case agents.ReasonRejected:
					hops.Rejected++
				case agents.ReasonBlocked:
					hops.Blocked++
				}
			}
		}

		// Compact out absorbed carriers.
		live := carriers[:0]
		for _, c := range carriers {
			if !c.Removed() {
				live = append(live, c)
			}
		}
		for i := len(live); i < len(carriers); i++ {
			carriers[i] = nil
		}
		w.Carriers[ct] = live
	}
	return exits, nil
}

// injectionPhase gives every source one chance to inject, holes first.
func (s *Simulation) injectionPhase(tick uint64, counts *tickCounts) error {
	w := s.World
	snap := w.Snapshot(tick)
	for _, ct := range agents.CarrierTypes {
		src := w.Sources[ct]
		if src == nil {
			continue
		}
		hc := &agents.HopContext{
			Lattice:  w.Grid(ct),
			Snapshot: snap,
			Oracle:   s.Oracle,
			Coupling: &w.Coupling,
			KT:       w.Params.KT,
		}
		site, err := src.Transport(hc, w.Rand, w.Population(ct))
		if err != nil {
			return err
		}
		if site == lattice.NoSite {
			continue
		}
		if _, err := w.AddCarrier(ct, site, tick); err != nil {
			return err
		}
		counts.injected[ct]++
	}
	return nil
}
