// Site type assignment. Traps are either scattered uniformly or, with
// clustering enabled, placed where 3-D simplex noise is highest so they form
// spatially correlated pockets. Defects are scattered over the remaining
// normal sites. Both carrier grids receive identical site types.
package world

import (
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/langmuir/internal/agents"
	"github.com/talgya/langmuir/internal/lattice"
)

// Clustering controls correlated trap placement.
type Clustering struct {
	Enabled   bool
	Frequency float64 // noise frequency per lattice unit
	Octaves   int
}

func (w *World) assignSiteTypes() {
	p := w.Params
	ref := w.Grids[agents.Hole]
	n := ref.RealSites()
	types := make([]lattice.SiteType, n)

	if p.TrapFraction > 0 {
		if p.Clustering.Enabled {
			w.clusteredTraps(ref, types)
		} else {
			for i := range types {
				if w.Rand.Float64() < p.TrapFraction {
					types[i] = lattice.SiteTrap
				}
			}
		}
	}

	if p.DefectFraction > 0 {
		for i := range types {
			if types[i] == lattice.SiteNormal && w.Rand.Float64() < p.DefectFraction {
				types[i] = lattice.SiteDefect
			}
		}
	}

	w.Traps, w.Defects = nil, nil
	for i, t := range types {
		site := lattice.SiteID(i)
		for _, g := range w.Grids {
			g.SetSiteType(site, t)
		}
		switch t {
		case lattice.SiteTrap:
			w.Traps = append(w.Traps, site)
		case lattice.SiteDefect:
			w.Defects = append(w.Defects, site)
		}
	}
}

// clusteredTraps marks the round(TrapFraction*N) sites with the highest
// noise value as traps.
func (w *World) clusteredTraps(ref *lattice.Lattice, types []lattice.SiteType) {
	p := w.Params
	noise := opensimplex.NewNormalized(int64(w.Rand.Uint64() >> 1))
	freq := p.Clustering.Frequency
	if freq <= 0 {
		freq = 0.15
	}
	octaves := p.Clustering.Octaves
	if octaves <= 0 {
		octaves = 2
	}

	type scored struct {
		site  int
		value float64
	}
	all := make([]scored, len(types))
	for i := range types {
		c := ref.Coords(lattice.SiteID(i))
		all[i] = scored{site: i, value: octaveNoise(noise, float64(c.X), float64(c.Y), float64(c.Z), octaves, freq, 0.5)}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].value > all[b].value })

	count := int(p.TrapFraction*float64(len(types)) + 0.5)
	for _, s := range all[:count] {
		types[s.site] = lattice.SiteTrap
	}
}

// octaveNoise layers several noise frequencies into fractal noise in [0,1].
func octaveNoise(noise opensimplex.Noise, x, y, z float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval3(x*frequency, y*frequency, z*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// SiteCounts returns how many real sites of each type a lattice holds.
func SiteCounts(l *lattice.Lattice) map[lattice.SiteType]int {
	counts := make(map[lattice.SiteType]int)
	for s := 0; s < l.RealSites(); s++ {
		counts[l.SiteType(lattice.SiteID(s))]++
	}
	return counts
}
