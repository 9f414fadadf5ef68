package world

import (
	"github.com/talgya/langmuir/internal/agents"
	"github.com/talgya/langmuir/internal/lattice"
)

// Holes enter at the x- electrode and leave at x+; electrons run the other
// way, so each type's source sits where its drift starts.
func (w *World) placeElectrodes() {
	p := w.Params
	if p.Holes {
		g := w.Grids[agents.Hole]
		w.Sources[agents.Hole] = w.newSource(agents.Hole, g, lattice.FaceXMin, p.SourcePotential)
		w.Drains[agents.Hole] = agents.NewDrain(agents.Hole, g, lattice.FaceXMax, p.DrainPotential)
	}
	if p.Electrons {
		g := w.Grids[agents.Electron]
		w.Sources[agents.Electron] = w.newSource(agents.Electron, g, lattice.FaceXMax, p.DrainPotential)
		w.Drains[agents.Electron] = agents.NewDrain(agents.Electron, g, lattice.FaceXMin, p.SourcePotential)
	}
}

func (w *World) newSource(ct agents.CarrierType, g *lattice.Lattice, f lattice.Face, v float64) *agents.FluxAgent {
	p := w.Params
	src := agents.NewSource(ct, g, f, v, p.SourceRate, p.SourceTries)
	src.MaxCarriers = p.MaxCarriers
	return src
}

// ColumnPotential returns the linear electrode ramp evaluated at column x:
// Vs + (Vd-Vs)*(x+0.5)/W.
func ColumnPotential(x, width int, vs, vd float64) float64 {
	return vs + (vd-vs)*(float64(x)+0.5)/float64(width)
}

// UpdatePotentials recomputes the external potential on both grids from the
// electrode potentials. Electrode sites take the potential of their face.
func (w *World) UpdatePotentials() {
	p := w.Params
	width := p.Geometry.Width
	for _, g := range w.Grids {
		for x := 0; x < width; x++ {
			v := ColumnPotential(x, width, p.SourcePotential, p.DrainPotential)
			for _, s := range g.Column(x) {
				g.SetPotential(s, v)
			}
		}
	}
	for _, a := range w.Fluxes() {
		g := w.Grids[a.CarrierType]
		switch a.Face {
		case lattice.FaceXMin:
			a.Potential = p.SourcePotential
		case lattice.FaceXMax:
			a.Potential = p.DrainPotential
		}
		g.SetPotential(a.Site, a.Potential)
	}
}

// SetElectrodePotentials changes the electrode potentials and recomputes the field.
func (w *World) SetElectrodePotentials(vs, vd float64) {
	w.Params.SourcePotential = vs
	w.Params.DrainPotential = vd
	w.UpdatePotentials()
}
