// Package agents provides the mobile charge carriers, the boundary flux
// agents (sources and drains), and the hop acceptance algorithm they share.
package agents

import (
	"fmt"

	"github.com/talgya/langmuir/internal/lattice"
)

// CarrierType distinguishes holes from electrons.
type CarrierType uint8

const (
	Hole     CarrierType = iota // Positive carrier, drifts down the potential ramp
	Electron                    // Negative carrier, drifts up the potential ramp

	NumCarrierTypes = 2
)

// CarrierTypes lists every carrier type in processing order.
var CarrierTypes = [NumCarrierTypes]CarrierType{Hole, Electron}

// Charge returns the carrier charge in units of e.
func (t CarrierType) Charge() float64 {
	if t == Electron {
		return -1
	}
	return 1
}

func (t CarrierType) String() string {
	switch t {
	case Hole:
		return "hole"
	case Electron:
		return "electron"
	default:
		return fmt.Sprintf("CarrierType(%d)", uint8(t))
	}
}

// State is a carrier's lifecycle state. Active is the only state that moves.
type State uint8

const (
	Active  State = iota
	Removed       // Absorbed by a drain; terminal
)

// Carrier is a mobile charge bound to exactly one lattice site.
type Carrier struct {
	ID       lattice.CarrierID `json:"id"`
	Type     CarrierType       `json:"type"`
	Site     lattice.SiteID    `json:"site"`
	BornTick uint64            `json:"born_tick"`

	Lifetime   uint64 `json:"lifetime"`    // Completed ticks alive
	Attempts   uint64 `json:"attempts"`    // Hop attempts evaluated
	PathLength uint64 `json:"path_length"` // Committed hops

	State State `json:"state"`
}

// Removed reports whether the carrier has been absorbed.
func (c *Carrier) Removed() bool {
	return c.State == Removed
}

// Remove moves the carrier to its terminal state.
func (c *Carrier) Remove() {
	if c.State == Removed {
		panic(fmt.Sprintf("agents: carrier %d removed twice", c.ID))
	}
	c.State = Removed
}

// MoveTo commits an accepted hop.
func (c *Carrier) MoveTo(site lattice.SiteID) {
	c.Site = site
	c.PathLength++
}
