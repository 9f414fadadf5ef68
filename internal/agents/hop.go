package agents

import (
	"fmt"
	"math/rand/v2"

	"github.com/talgya/langmuir/internal/energy"
	"github.com/talgya/langmuir/internal/lattice"
)

// Kind selects the acceptance rule. Carriers hop with KindGeneric; flux
// agents are KindSource or KindDrain.
type Kind uint8

const (
	KindGeneric Kind = iota
	KindSource
	KindDrain
)

func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindSource:
		return "source"
	case KindDrain:
		return "drain"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Rule carries the variant-specific acceptance coefficients.
type Rule struct {
	Kind Kind
	KT   float64 // thermal energy, eV
	Rate float64 // source attempt rate in [0,1]; ignored by other kinds
}

// Accept evaluates an energy change under rule and the uniform draw r in
// [0,1). It returns the acceptance probability and whether r falls under it.
func Accept(rule Rule, dE, r float64) (float64, bool) {
	var p float64
	switch rule.Kind {
	case KindDrain:
		p = 1
	case KindSource:
		p = rule.Rate * energy.Metropolis(dE, rule.KT)
	default:
		p = energy.Metropolis(dE, rule.KT)
	}
	if p > 1 {
		p = 1
	} else if p < 0 {
		p = 0
	}
	return p, r < p
}

// Outcome is the proposed transition for one carrier in one tick.
type Outcome uint8

const (
	Stay   Outcome = iota // No-op: blocked, rejected, or nowhere to go
	Move                  // Hop to Proposal.To during commit
	Absorb                // Accepted into a drain; remove during commit
)

func (o Outcome) String() string {
	switch o {
	case Stay:
		return "stay"
	case Move:
		return "move"
	case Absorb:
		return "absorb"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Reason explains a Stay outcome.
type Reason uint8

const (
	ReasonNone     Reason = iota
	ReasonNoSite          // No neighbors to try
	ReasonBlocked         // Destination occupied, a defect, or a source electrode
	ReasonRejected        // Metropolis draw failed
)

// Proposal is what the attempt phase hands to the commit phase.
type Proposal struct {
	Index   int // position in the carrier list
	Carrier lattice.CarrierID
	From    lattice.SiteID
	To      lattice.SiteID
	Outcome Outcome
	Reason  Reason
	DeltaE  float64
	Prob    float64
}

// HopContext is the read-only state a hop attempt consults. Nothing reachable
// from it may be mutated while attempts are in flight.
type HopContext struct {
	Lattice  *lattice.Lattice
	Snapshot *energy.Snapshot
	Oracle   energy.Oracle
	Coupling *energy.Coupling
	KT       float64
}

// Attempt evaluates one hop for c without touching shared state.
func Attempt(c *Carrier, hc *HopContext, rng *rand.Rand) (Proposal, error) {
	p := Proposal{Carrier: c.ID, From: c.Site, To: c.Site}
	if c.Removed() {
		return p, nil
	}

	l := hc.Lattice
	ns := l.Neighbors(c.Site)
	if len(ns) == 0 {
		p.Reason = ReasonNoSite
		return p, nil
	}
	dest := ns[rng.IntN(len(ns))]
	p.To = dest

	destType := l.SiteType(dest)
	switch destType {
	case lattice.SiteSource, lattice.SiteDefect:
		p.Reason = ReasonBlocked
		return p, nil
	}
	// The drain site is never occupied; any number of carriers may enter it.
	if destType != lattice.SiteDrain && l.Occupied(dest) {
		p.Reason = ReasonBlocked
		return p, nil
	}

	dE, err := HopEnergy(c, dest, hc)
	if err != nil {
		return p, err
	}
	p.DeltaE = dE
	prob, ok := Accept(Rule{Kind: KindGeneric, KT: hc.KT}, dE, rng.Float64())
	p.Prob = prob
	switch {
	case !ok:
		p.Reason = ReasonRejected
	case destType == lattice.SiteDrain:
		p.Outcome = Absorb
	default:
		p.Outcome = Move
	}
	return p, nil
}

// HopEnergy returns the energy change for carrier c hopping to dest:
// q*[(V(dest)-V(cur)) + (C(dest)-C(cur))] + Coupling[type(cur)][type(dest)].
func HopEnergy(c *Carrier, dest lattice.SiteID, hc *HopContext) (float64, error) {
	l := hc.Lattice
	q := c.Type.Charge()

	cDest, err := hc.Oracle.EnergyAt(dest, hc.Snapshot, c.ID)
	if err != nil {
		return 0, fmt.Errorf("coulomb at site %d: %w", dest, err)
	}
	cCur, err := hc.Oracle.EnergyAt(c.Site, hc.Snapshot, c.ID)
	if err != nil {
		return 0, fmt.Errorf("coulomb at site %d: %w", c.Site, err)
	}

	dV := l.Potential(dest) - l.Potential(c.Site)
	dE := q * (dV + cDest - cCur)
	if hc.Coupling != nil {
		dE += hc.Coupling.Between(l.SiteType(c.Site), l.SiteType(dest))
	}
	return dE, nil
}
