package agents

import (
	"fmt"
	"math/rand/v2"

	"github.com/talgya/langmuir/internal/lattice"
)

// FluxAgent is an electrode attached to one face of a carrier lattice.
// Sources inject carriers, drains absorb them; both count attempts and
// successes for rate estimation.
type FluxAgent struct {
	Name        string
	Kind        Kind // KindSource or KindDrain
	CarrierType CarrierType
	Face        lattice.Face
	Site        lattice.SiteID // synthetic electrode site

	Potential   float64
	Rate        float64
	Tries       int
	MaxCarriers int // sources only; 0 = unlimited

	attempts  uint64
	successes uint64
	neighbors []lattice.SiteID
}

// NewSource attaches the lattice's source site to face and returns the agent
// that injects carriers through it.
func NewSource(ct CarrierType, l *lattice.Lattice, face lattice.Face, potential, rate float64, tries int) *FluxAgent {
	if tries < 1 {
		tries = 1
	}
	a := &FluxAgent{
		Name:        ct.String() + "-source",
		Kind:        KindSource,
		CarrierType: ct,
		Face:        face,
		Site:        l.SourceSite(),
		Potential:   potential,
		Rate:        rate,
		Tries:       tries,
	}
	l.Attach(face, a.Site)
	l.SetPotential(a.Site, potential)
	a.neighbors = l.FaceSites(face)
	return a
}

// NewDrain attaches the lattice's drain site to face and returns the agent
// that absorbs carriers reaching it.
func NewDrain(ct CarrierType, l *lattice.Lattice, face lattice.Face, potential float64) *FluxAgent {
	a := &FluxAgent{
		Name:        ct.String() + "-drain",
		Kind:        KindDrain,
		CarrierType: ct,
		Face:        face,
		Site:        l.DrainSite(),
		Potential:   potential,
		Rate:        1,
		Tries:       1,
	}
	l.Attach(face, a.Site)
	l.SetPotential(a.Site, potential)
	a.neighbors = l.FaceSites(face)
	return a
}

// Neighbors returns the ordered face sites adjoining the electrode.
func (a *FluxAgent) Neighbors() []lattice.SiteID {
	return a.neighbors
}

// Attempts returns the number of attempts since the last reset.
func (a *FluxAgent) Attempts() uint64 { return a.attempts }

// Successes returns the number of successful attempts since the last reset.
func (a *FluxAgent) Successes() uint64 { return a.successes }

// SuccessRate returns successes/attempts, or 0 before any attempt.
func (a *FluxAgent) SuccessRate() float64 {
	if a.attempts == 0 {
		return 0
	}
	return float64(a.successes) / float64(a.attempts)
}

// ResetCounters zeroes attempts and successes.
func (a *FluxAgent) ResetCounters() {
	a.attempts = 0
	a.successes = 0
}

// Rule returns the acceptance rule for this agent at thermal energy kT.
func (a *FluxAgent) Rule(kT float64) Rule {
	return Rule{Kind: a.Kind, KT: kT, Rate: a.Rate}
}

// ShouldTransport reports whether the drain takes a carrier whose accepted
// destination is site. Drains accept everything that reaches them.
func (a *FluxAgent) ShouldTransport(site lattice.SiteID) bool {
	return a.Kind == KindDrain && site == a.Site
}

// RecordAbsorption counts a carrier taken by a drain.
func (a *FluxAgent) RecordAbsorption() {
	a.mustKind(KindDrain)
	a.attempts++
	a.successes++
}

// Transport runs up to Tries injection attempts. It returns the face site a
// new carrier should be placed on, or lattice.NoSite when every try failed.
// population is the live carrier count of this agent's type; at MaxCarriers
// the source does not try at all.
func (a *FluxAgent) Transport(hc *HopContext, rng *rand.Rand, population int) (lattice.SiteID, error) {
	a.mustKind(KindSource)
	if a.MaxCarriers > 0 && population >= a.MaxCarriers {
		return lattice.NoSite, nil
	}
	if len(a.neighbors) == 0 {
		return lattice.NoSite, nil
	}

	l := hc.Lattice
	rule := a.Rule(hc.KT)
	for i := 0; i < a.Tries; i++ {
		a.attempts++
		site := a.neighbors[rng.IntN(len(a.neighbors))]
		if l.Occupied(site) || l.SiteType(site) == lattice.SiteDefect {
			continue
		}
		dE, err := a.energyChange(site, hc)
		if err != nil {
			return lattice.NoSite, err
		}
		if _, ok := Accept(rule, dE, rng.Float64()); ok {
			a.successes++
			return site, nil
		}
	}
	return lattice.NoSite, nil
}

// energyChange is the cost of moving a carrier from the electrode onto site.
func (a *FluxAgent) energyChange(site lattice.SiteID, hc *HopContext) (float64, error) {
	l := hc.Lattice
	coul, err := hc.Oracle.EnergyAt(site, hc.Snapshot, lattice.NoCarrier)
	if err != nil {
		return 0, fmt.Errorf("%s: coulomb at site %d: %w", a.Name, site, err)
	}
	dE := a.CarrierType.Charge() * (l.Potential(site) + coul - a.Potential)
	if hc.Coupling != nil {
		dE += hc.Coupling.Between(lattice.SiteSource, l.SiteType(site))
	}
	return dE, nil
}

func (a *FluxAgent) mustKind(k Kind) {
	if a.Kind != k {
		panic(fmt.Sprintf("agents: %s is a %s agent, not %s", a.Name, a.Kind, k))
	}
}
