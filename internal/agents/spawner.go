package agents

import (
	"github.com/talgya/langmuir/internal/lattice"
)

// Spawner issues carrier IDs and creates carriers on injection.
type Spawner struct {
	nextID lattice.CarrierID
}

// NewSpawner creates a spawner whose first ID is 1 (0 is NoCarrier).
func NewSpawner() *Spawner {
	return &Spawner{nextID: 1}
}

// SetNextID sets the next carrier ID to be issued.
func (s *Spawner) SetNextID(id lattice.CarrierID) {
	if id == lattice.NoCarrier {
		id = 1
	}
	s.nextID = id
}

// NextID returns the ID the next carrier will receive.
func (s *Spawner) NextID() lattice.CarrierID {
	return s.nextID
}

// Spawn creates an active carrier on site.
func (s *Spawner) Spawn(t CarrierType, site lattice.SiteID, tick uint64) *Carrier {
	id := s.nextID
	s.nextID++
	return &Carrier{
		ID:       id,
		Type:     t,
		Site:     site,
		BornTick: tick,
		State:    Active,
	}
}
