// Package energy provides the hop energetics: the Coulomb oracle contract,
// immutable charge snapshots, the site-type coupling matrix, and the
// Metropolis acceptance rule.
package energy

import (
	"github.com/talgya/langmuir/internal/lattice"
)

// Oracle returns the electrostatic interaction energy seen by a unit
// positive probe at site, given the charges in snap and ignoring the charge
// owned by carrier exclude. Implementations must be pure and safe for
// concurrent use; a GPU-backed oracle presents the same synchronous contract.
type Oracle interface {
	EnergyAt(site lattice.SiteID, snap *Snapshot, exclude lattice.CarrierID) (float64, error)
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(site lattice.SiteID, snap *Snapshot, exclude lattice.CarrierID) (float64, error)

// EnergyAt calls f.
func (f OracleFunc) EnergyAt(site lattice.SiteID, snap *Snapshot, exclude lattice.CarrierID) (float64, error) {
	return f(site, snap, exclude)
}

// Zero is an oracle with no Coulomb interaction.
type Zero struct{}

// EnergyAt always returns 0.
func (Zero) EnergyAt(lattice.SiteID, *Snapshot, lattice.CarrierID) (float64, error) {
	return 0, nil
}
