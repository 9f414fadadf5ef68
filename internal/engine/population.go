// Per-tick statistics: flux agent counters, carrier populations, and carrier
// exit records. These are what sinks persist and the API serves.
package engine

import (
	"github.com/talgya/langmuir/internal/agents"
	"github.com/talgya/langmuir/internal/lattice"
	"github.com/talgya/langmuir/internal/world"
)

// FluxStat is one electrode's counters after a tick.
type FluxStat struct {
	Name        string  `json:"name" db:"name"`
	Kind        string  `json:"kind" db:"kind"`
	CarrierType string  `json:"carrier_type" db:"carrier_type"`
	Attempts    uint64  `json:"attempts" db:"attempts"`
	Successes   uint64  `json:"successes" db:"successes"`
	Rate        float64 `json:"rate" db:"rate"`
}

// PopulationStat describes one carrier type after a tick.
type PopulationStat struct {
	CarrierType    string  `json:"carrier_type" db:"carrier_type"`
	Count          int     `json:"count" db:"count"`
	PercentReached float64 `json:"percent_reached" db:"percent_reached"`
	Injected       uint64  `json:"injected" db:"injected"`
	Reached        uint64  `json:"reached" db:"reached"`
	InjectedTick   int     `json:"injected_tick" db:"injected_tick"`
	AbsorbedTick   int     `json:"absorbed_tick" db:"absorbed_tick"`
}

// Exit records a carrier absorbed by a drain.
type Exit struct {
	Tick        uint64            `json:"tick" db:"tick"`
	CarrierID   lattice.CarrierID `json:"carrier_id" db:"carrier_id"`
	CarrierType string            `json:"carrier_type" db:"carrier_type"`
	X           int               `json:"x" db:"x"`
	Y           int               `json:"y" db:"y"`
	Z           int               `json:"z" db:"z"`
	Lifetime    uint64            `json:"lifetime" db:"lifetime"`
	PathLength  uint64            `json:"path_length" db:"path_length"`
}

// HopStats counts the attempt-phase outcomes of one tick.
type HopStats struct {
	Attempts  int `json:"attempts"`
	Moves     int `json:"moves"`     // committed hops
	Conflicts int `json:"conflicts"` // accepted but lost the destination at commit
	Rejected  int `json:"rejected"`
	Blocked   int `json:"blocked"`
}

// TickReport is everything a completed tick makes available for query.
type TickReport struct {
	Tick       uint64           `json:"tick"`
	Flux       []FluxStat       `json:"flux"`
	Population []PopulationStat `json:"population"`
	Hops       HopStats         `json:"hops"`
	Exits      []Exit           `json:"exits,omitempty"`
}

// FluxByName returns the stat for a named electrode.
func (r TickReport) FluxByName(name string) (FluxStat, bool) {
	for _, f := range r.Flux {
		if f.Name == name {
			return f, true
		}
	}
	return FluxStat{}, false
}

// PopulationOf returns the stat for a carrier type.
func (r TickReport) PopulationOf(ct agents.CarrierType) (PopulationStat, bool) {
	for _, p := range r.Population {
		if p.CarrierType == ct.String() {
			return p, true
		}
	}
	return PopulationStat{}, false
}

// tickCounts carries per-type injection/absorption totals for one tick.
type tickCounts struct {
	injected [agents.NumCarrierTypes]int
	absorbed [agents.NumCarrierTypes]int
}

func buildReport(w *world.World, tick uint64, hops HopStats, counts tickCounts, exits []Exit) TickReport {
	r := TickReport{Tick: tick, Hops: hops, Exits: exits}
	for _, a := range w.Fluxes() {
		r.Flux = append(r.Flux, FluxStat{
			Name:        a.Name,
			Kind:        a.Kind.String(),
			CarrierType: a.CarrierType.String(),
			Attempts:    a.Attempts(),
			Successes:   a.Successes(),
			Rate:        a.SuccessRate(),
		})
	}
	for _, ct := range agents.CarrierTypes {
		if !w.Enabled(ct) {
			continue
		}
		r.Population = append(r.Population, PopulationStat{
			CarrierType:    ct.String(),
			Count:          w.Population(ct),
			PercentReached: w.PercentReached(ct),
			Injected:       w.Injected[ct],
			Reached:        w.Reached[ct],
			InjectedTick:   counts.injected[ct],
			AbsorbedTick:   counts.absorbed[ct],
		})
	}
	return r
}

// CarrierFrame is one carrier's position in a trajectory frame.
type CarrierFrame struct {
	ID         lattice.CarrierID `json:"id"`
	Type       string            `json:"type"`
	Site       lattice.SiteID    `json:"site"`
	X          int               `json:"x"`
	Y          int               `json:"y"`
	Z          int               `json:"z"`
	Lifetime   uint64            `json:"lifetime"`
	PathLength uint64            `json:"path_length"`
}

// Frame is a full positional dump of the system at one tick.
type Frame struct {
	Tick     uint64          `json:"tick"`
	Carriers []CarrierFrame  `json:"carriers"`
	Traps    []lattice.Coord `json:"traps,omitempty"`
	Defects  []lattice.Coord `json:"defects,omitempty"`
}

func buildFrame(w *world.World, tick uint64, withSites bool) *Frame {
	f := &Frame{Tick: tick}
	for _, ct := range agents.CarrierTypes {
		g := w.Grid(ct)
		for _, c := range w.Carriers[ct] {
			pos := g.Coords(c.Site)
			f.Carriers = append(f.Carriers, CarrierFrame{
				ID: c.ID, Type: ct.String(), Site: c.Site,
				X: pos.X, Y: pos.Y, Z: pos.Z,
				Lifetime: c.Lifetime, PathLength: c.PathLength,
			})
		}
	}
	if withSites {
		g := w.Grid(agents.Hole)
		for _, s := range w.Traps {
			f.Traps = append(f.Traps, g.Coords(s))
		}
		for _, s := range w.Defects {
			f.Defects = append(f.Defects, g.Coords(s))
		}
	}
	return f
}
