package energy

import "github.com/talgya/langmuir/internal/lattice"

// Charge is a point charge frozen into a snapshot. Defects carry ID NoCarrier.
type Charge struct {
	ID  lattice.CarrierID
	Pos lattice.Coord
	Q   float64
}

// Snapshot is the tick-start view of every charge in the system. It is never
// modified after construction, so attempt-phase workers may share it.
type Snapshot struct {
	tick    uint64
	charges []Charge
}

// NewSnapshot freezes charges. The slice is owned by the snapshot afterwards.
func NewSnapshot(tick uint64, charges []Charge) *Snapshot {
	return &Snapshot{tick: tick, charges: charges}
}

// Tick returns the tick the snapshot was taken at.
func (s *Snapshot) Tick() uint64 { return s.tick }

// Len returns the number of charges.
func (s *Snapshot) Len() int { return len(s.charges) }

// Charges returns the frozen charges. Callers must not modify the result.
func (s *Snapshot) Charges() []Charge { return s.charges }
