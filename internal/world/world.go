// Package world holds the complete simulation state: the electron and hole
// lattices, the live carriers, the electrodes, and the coupling matrix.
package world

import (
	"fmt"
	"math/rand/v2"

	"github.com/talgya/langmuir/internal/agents"
	"github.com/talgya/langmuir/internal/energy"
	"github.com/talgya/langmuir/internal/entropy"
	"github.com/talgya/langmuir/internal/lattice"
)

// Params holds world construction parameters.
type Params struct {
	Geometry lattice.Geometry

	SourcePotential float64 // volts at the x- electrode
	DrainPotential  float64 // volts at the x+ electrode
	KT              float64 // thermal energy, eV

	TrapFraction float64
	TrapDepth    float64 // eV gained entering a trap
	Clustering   Clustering

	DefectFraction float64
	DefectCharge   float64 // units of e

	SourceRate  float64
	SourceTries int
	MaxCarriers int // per carrier type; 0 = unlimited

	Holes     bool
	Electrons bool

	Seed uint64 // 0 = random
}

// DefaultParams returns a small hole-only device at room temperature.
func DefaultParams() Params {
	return Params{
		Geometry:        lattice.Geometry{Width: 32, Height: 32, Depth: 1},
		SourcePotential: 0,
		DrainPotential:  -1,
		KT:              0.025852,
		TrapFraction:    0.05,
		TrapDepth:       0.1,
		Clustering:      Clustering{Frequency: 0.15},
		SourceRate:      0.9,
		SourceTries:     1,
		Holes:           true,
	}
}

// World owns the mutable simulation state. It is not safe for concurrent
// mutation; the engine serializes every write.
type World struct {
	Params Params

	Grids    [agents.NumCarrierTypes]*lattice.Lattice
	Carriers [agents.NumCarrierTypes][]*agents.Carrier
	Sources  [agents.NumCarrierTypes]*agents.FluxAgent // nil when the type is disabled
	Drains   [agents.NumCarrierTypes]*agents.FluxAgent

	Coupling energy.Coupling
	Traps    []lattice.SiteID
	Defects  []lattice.SiteID

	Seed    uint64
	Rand    *rand.Rand
	Spawner *agents.Spawner

	// Cumulative per-type totals since construction.
	Injected [agents.NumCarrierTypes]uint64
	Reached  [agents.NumCarrierTypes]uint64
}

// New builds a world: lattices, site types, electrodes, and the potential ramp.
func New(p Params) (*World, error) {
	if err := p.Geometry.Validate(); err != nil {
		return nil, err
	}
	if !p.Holes && !p.Electrons {
		return nil, fmt.Errorf("world: at least one carrier type must be enabled")
	}
	if p.TrapFraction < 0 || p.DefectFraction < 0 || p.TrapFraction+p.DefectFraction > 1 {
		return nil, fmt.Errorf("world: trap fraction %v and defect fraction %v must be non-negative and sum to at most 1",
			p.TrapFraction, p.DefectFraction)
	}

	seed := entropy.Seed(p.Seed)
	w := &World{
		Params:   p,
		Coupling: energy.DefaultCoupling(p.TrapDepth),
		Seed:     seed,
		Rand:     entropy.New(seed),
		Spawner:  agents.NewSpawner(),
	}
	for _, ct := range agents.CarrierTypes {
		l, err := lattice.New(p.Geometry)
		if err != nil {
			return nil, err
		}
		w.Grids[ct] = l
	}

	w.assignSiteTypes()
	w.placeElectrodes()
	w.UpdatePotentials()
	return w, nil
}

// Grid returns the lattice for a carrier type.
func (w *World) Grid(ct agents.CarrierType) *lattice.Lattice {
	return w.Grids[ct]
}

// Enabled reports whether carriers of type ct take part in the run.
func (w *World) Enabled(ct agents.CarrierType) bool {
	return w.Sources[ct] != nil
}

// Fluxes returns every electrode in reporting order: hole source, hole
// drain, electron source, electron drain, skipping disabled types.
func (w *World) Fluxes() []*agents.FluxAgent {
	var out []*agents.FluxAgent
	for _, ct := range agents.CarrierTypes {
		if w.Sources[ct] != nil {
			out = append(out, w.Sources[ct], w.Drains[ct])
		}
	}
	return out
}

// Population returns the live carrier count for a type.
func (w *World) Population(ct agents.CarrierType) int {
	return len(w.Carriers[ct])
}

// AddCarrier spawns a carrier on a free real site of its grid.
func (w *World) AddCarrier(ct agents.CarrierType, site lattice.SiteID, tick uint64) (*agents.Carrier, error) {
	g := w.Grids[ct]
	if g.SiteType(site) == lattice.SiteDefect {
		return nil, fmt.Errorf("world: site %d is a defect", site)
	}
	c := w.Spawner.Spawn(ct, site, tick)
	if err := g.SetOccupant(site, c.ID); err != nil {
		return nil, fmt.Errorf("world: place %s %d: %w", ct, c.ID, err)
	}
	w.Carriers[ct] = append(w.Carriers[ct], c)
	w.Injected[ct]++
	return c, nil
}

// PercentReached returns the share of injected carriers of type ct that
// reached the drain, in percent.
func (w *World) PercentReached(ct agents.CarrierType) float64 {
	if w.Injected[ct] == 0 {
		return 0
	}
	return 100 * float64(w.Reached[ct]) / float64(w.Injected[ct])
}

// Snapshot freezes the positions of every live carrier and defect.
func (w *World) Snapshot(tick uint64) *energy.Snapshot {
	n := len(w.Defects)
	for _, ct := range agents.CarrierTypes {
		n += len(w.Carriers[ct])
	}
	charges := make([]energy.Charge, 0, n)
	for _, ct := range agents.CarrierTypes {
		g := w.Grids[ct]
		q := ct.Charge()
		for _, c := range w.Carriers[ct] {
			charges = append(charges, energy.Charge{ID: c.ID, Pos: g.Coords(c.Site), Q: q})
		}
	}
	if w.Params.DefectCharge != 0 {
		g := w.Grids[agents.Hole]
		for _, s := range w.Defects {
			charges = append(charges, energy.Charge{Pos: g.Coords(s), Q: w.Params.DefectCharge})
		}
	}
	return energy.NewSnapshot(tick, charges)
}

// CheckInvariants verifies that lattice occupancy and the carrier lists agree:
// every live carrier sits alone on its site and every occupied site belongs to
// a live carrier of that grid.
func (w *World) CheckInvariants() error {
	for _, ct := range agents.CarrierTypes {
		g := w.Grids[ct]
		seen := make(map[lattice.SiteID]lattice.CarrierID, len(w.Carriers[ct]))
		for _, c := range w.Carriers[ct] {
			if c.Removed() {
				return fmt.Errorf("%s %d is removed but still listed", ct, c.ID)
			}
			if g.IsSynthetic(c.Site) {
				return fmt.Errorf("%s %d sits on electrode site %d", ct, c.ID, c.Site)
			}
			if other, dup := seen[c.Site]; dup {
				return fmt.Errorf("%s %d and %d share site %d", ct, other, c.ID, c.Site)
			}
			seen[c.Site] = c.ID
			if occ := g.Occupant(c.Site); occ != c.ID {
				return fmt.Errorf("%s %d on site %d but lattice holds %d", ct, c.ID, c.Site, occ)
			}
		}
		for s := 0; s < g.RealSites(); s++ {
			occ := g.Occupant(lattice.SiteID(s))
			if occ != lattice.NoCarrier && seen[lattice.SiteID(s)] != occ {
				return fmt.Errorf("%s grid site %d holds unknown carrier %d", ct, s, occ)
			}
		}
	}
	return nil
}
