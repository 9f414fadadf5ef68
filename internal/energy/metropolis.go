package energy

import (
	"math"

	"github.com/talgya/langmuir/internal/lattice"
)

// Metropolis returns the acceptance probability for an energy change dE (eV)
// at thermal energy kT (eV): 1 when dE <= 0, exp(-dE/kT) otherwise. With
// kT <= 0 every uphill move is rejected.
func Metropolis(dE, kT float64) float64 {
	if dE <= 0 {
		return 1
	}
	if kT <= 0 {
		return 0
	}
	return math.Exp(-dE / kT)
}

// Coupling holds the energy offset for a hop from one site type to another.
type Coupling [lattice.NumSiteTypes][lattice.NumSiteTypes]float64

// DefaultCoupling returns a matrix where entering a trap lowers the energy by
// trapDepth and leaving one raises it by the same amount.
func DefaultCoupling(trapDepth float64) Coupling {
	var c Coupling
	for _, from := range []lattice.SiteType{lattice.SiteNormal, lattice.SiteSource} {
		c[from][lattice.SiteTrap] = -trapDepth
	}
	c[lattice.SiteTrap][lattice.SiteNormal] = trapDepth
	c[lattice.SiteTrap][lattice.SiteDrain] = trapDepth
	return c
}

// Between returns the coupling for a hop from a to b.
func (c *Coupling) Between(a, b lattice.SiteType) float64 {
	return c[a][b]
}
