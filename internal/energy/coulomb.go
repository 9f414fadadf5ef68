package energy

import (
	"fmt"
	"math"

	"github.com/talgya/langmuir/internal/lattice"
)

// Coulomb is the CPU fallback oracle: a direct pairwise sum of
// Prefactor*q/r over every charge within Cutoff lattice units.
type Coulomb struct {
	Geometry  lattice.Geometry
	Prefactor float64 // e^2/(4*pi*eps0*epsr*a) in eV
	Cutoff    float64 // lattice units; <= 0 sums every charge
}

// NewCoulomb creates a CPU Coulomb oracle for a grid geometry.
func NewCoulomb(g lattice.Geometry, prefactor, cutoff float64) *Coulomb {
	return &Coulomb{Geometry: g, Prefactor: prefactor, Cutoff: cutoff}
}

// EnergyAt sums the interaction of a unit probe at site with every charge in
// snap except carrier exclude. Electrode sites have no coordinates and see
// no interaction.
func (c *Coulomb) EnergyAt(site lattice.SiteID, snap *Snapshot, exclude lattice.CarrierID) (float64, error) {
	n := c.Geometry.Sites()
	if site < 0 || int(site) >= n+2 {
		return 0, fmt.Errorf("coulomb: site %d out of range", site)
	}
	if int(site) >= n || snap == nil {
		return 0, nil
	}

	p := c.coords(site)
	cut2 := c.Cutoff * c.Cutoff
	sum := 0.0
	for _, q := range snap.charges {
		if exclude != lattice.NoCarrier && q.ID == exclude {
			continue
		}
		dx := float64(p.X - q.Pos.X)
		dy := float64(c.wrap(p.Y-q.Pos.Y, c.Geometry.Height))
		dz := float64(c.wrap(p.Z-q.Pos.Z, c.Geometry.Depth))
		r2 := dx*dx + dy*dy + dz*dz
		if r2 == 0 {
			// Same coordinate on the other carrier grid.
			continue
		}
		if c.Cutoff > 0 && r2 > cut2 {
			continue
		}
		sum += q.Q / math.Sqrt(r2)
	}
	return c.Prefactor * sum, nil
}

func (c *Coulomb) coords(site lattice.SiteID) lattice.Coord {
	w, h := c.Geometry.Width, c.Geometry.Height
	s := int(site)
	return lattice.Coord{X: s % w, Y: (s / w) % h, Z: s / (w * h)}
}

// wrap applies the minimum image convention on periodic axes.
func (c *Coulomb) wrap(d, size int) int {
	if !c.Geometry.Periodic {
		return d
	}
	if d > size/2 {
		d -= size
	} else if d < -size/2 {
		d += size
	}
	return d
}
