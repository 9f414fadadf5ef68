package lattice

import (
	"errors"
	"fmt"
)

// ErrOccupied is returned by SetOccupant when the site already holds a carrier.
var ErrOccupied = errors.New("site already occupied")

// Geometry describes the grid dimensions and boundary conditions.
// X is the transport axis and never wraps.
type Geometry struct {
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	Depth    int  `json:"depth"`
	Periodic bool `json:"periodic"` // wrap y and z
}

// Validate reports whether the geometry can back a lattice.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 || g.Depth <= 0 {
		return fmt.Errorf("lattice dimensions must be positive, got %dx%dx%d", g.Width, g.Height, g.Depth)
	}
	return nil
}

// Sites returns the number of real sites.
func (g Geometry) Sites() int {
	return g.Width * g.Height * g.Depth
}

// Lattice is a cubic grid of sites plus two synthetic electrode sites.
// It is the single owner of site state; everything else refers to sites by SiteID.
type Lattice struct {
	geom  Geometry
	sites int // real sites

	types     []SiteType
	potential []float64
	occupant  []CarrierID

	// Flattened adjacency: neighbors of site s are adj[off[s]:off[s+1]].
	adj []SiteID
	off []int

	faces [numFaces]SiteID // synthetic site attached to each face, or NoSite

	// Strict turns a double-occupancy attempt into a panic instead of ErrOccupied.
	Strict bool
}

// New creates a lattice with every real site Normal, zero potential, and no
// occupants. The synthetic sites are typed Source and Drain but attached to
// no face until Attach is called.
func New(g Geometry) (*Lattice, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	n := g.Sites()
	l := &Lattice{
		geom:      g,
		sites:     n,
		types:     make([]SiteType, n+2),
		potential: make([]float64, n+2),
		occupant:  make([]CarrierID, n+2),
	}
	for i := range l.faces {
		l.faces[i] = NoSite
	}
	l.types[n] = SiteSource
	l.types[n+1] = SiteDrain
	l.rebuildAdjacency()
	return l, nil
}

// Geometry returns the lattice dimensions.
func (l *Lattice) Geometry() Geometry { return l.geom }

// Width, Height and Depth return the grid dimensions.
func (l *Lattice) Width() int  { return l.geom.Width }
func (l *Lattice) Height() int { return l.geom.Height }
func (l *Lattice) Depth() int  { return l.geom.Depth }

// RealSites returns the number of non-synthetic sites.
func (l *Lattice) RealSites() int { return l.sites }

// Len returns the total number of addressable sites, synthetic ones included.
func (l *Lattice) Len() int { return l.sites + 2 }

// SourceSite returns the synthetic injection site.
func (l *Lattice) SourceSite() SiteID { return SiteID(l.sites) }

// DrainSite returns the synthetic absorbing site.
func (l *Lattice) DrainSite() SiteID { return SiteID(l.sites + 1) }

// IsSynthetic reports whether site is one of the electrode sites.
func (l *Lattice) IsSynthetic(site SiteID) bool {
	l.mustSite(site)
	return int(site) >= l.sites
}

// Index converts grid coordinates to a SiteID.
func (l *Lattice) Index(x, y, z int) SiteID {
	g := l.geom
	if x < 0 || x >= g.Width || y < 0 || y >= g.Height || z < 0 || z >= g.Depth {
		panic(fmt.Sprintf("lattice: coordinate (%d,%d,%d) outside %dx%dx%d", x, y, z, g.Width, g.Height, g.Depth))
	}
	return SiteID(x + y*g.Width + z*g.Width*g.Height)
}

// Coords converts a real SiteID to grid coordinates.
func (l *Lattice) Coords(site SiteID) Coord {
	l.mustReal(site)
	w, h := l.geom.Width, l.geom.Height
	s := int(site)
	return Coord{X: s % w, Y: (s / w) % h, Z: s / (w * h)}
}

// SiteType returns the type of site.
func (l *Lattice) SiteType(site SiteID) SiteType {
	l.mustSite(site)
	return l.types[site]
}

// SetSiteType changes the type of a real site.
func (l *Lattice) SetSiteType(site SiteID, t SiteType) {
	l.mustReal(site)
	if t == SiteSource || t == SiteDrain {
		panic(fmt.Sprintf("lattice: site %d cannot take electrode type %s", site, t))
	}
	l.types[site] = t
}

// Potential returns the external potential at site.
func (l *Lattice) Potential(site SiteID) float64 {
	l.mustSite(site)
	return l.potential[site]
}

// SetPotential sets the external potential at site.
func (l *Lattice) SetPotential(site SiteID, v float64) {
	l.mustSite(site)
	l.potential[site] = v
}

// Occupant returns the carrier on site, or NoCarrier.
func (l *Lattice) Occupant(site SiteID) CarrierID {
	l.mustSite(site)
	return l.occupant[site]
}

// Occupied reports whether a carrier sits on site.
func (l *Lattice) Occupied(site SiteID) bool {
	return l.Occupant(site) != NoCarrier
}

// SetOccupant places carrier id on a real site. Placing a carrier on an
// occupied site returns ErrOccupied, or panics on a Strict lattice.
func (l *Lattice) SetOccupant(site SiteID, id CarrierID) error {
	l.mustReal(site)
	if id == NoCarrier {
		l.occupant[site] = NoCarrier
		return nil
	}
	if cur := l.occupant[site]; cur != NoCarrier {
		if l.Strict {
			panic(fmt.Sprintf("lattice: site %d already holds carrier %d, cannot place %d", site, cur, id))
		}
		return fmt.Errorf("site %d holds carrier %d: %w", site, cur, ErrOccupied)
	}
	l.occupant[site] = id
	return nil
}

// ClearOccupant empties a real site.
func (l *Lattice) ClearOccupant(site SiteID) {
	l.mustReal(site)
	l.occupant[site] = NoCarrier
}

// Neighbors returns the ordered 6-connected neighbors of site: -x, +x, -y,
// +y, -z, +z, skipping edges without a neighbor. The returned slice is shared
// and must not be modified.
func (l *Lattice) Neighbors(site SiteID) []SiteID {
	l.mustSite(site)
	return l.adj[l.off[site]:l.off[site+1]]
}

// Column returns every real site with the given x index, ordered by z then y.
func (l *Lattice) Column(x int) []SiteID {
	g := l.geom
	if x < 0 || x >= g.Width {
		panic(fmt.Sprintf("lattice: column %d outside width %d", x, g.Width))
	}
	out := make([]SiteID, 0, g.Height*g.Depth)
	for z := 0; z < g.Depth; z++ {
		for y := 0; y < g.Height; y++ {
			out = append(out, l.Index(x, y, z))
		}
	}
	return out
}

// FaceSites returns the real sites lying on a face of the grid.
func (l *Lattice) FaceSites(f Face) []SiteID {
	g := l.geom
	var out []SiteID
	switch f {
	case FaceXMin:
		return l.Column(0)
	case FaceXMax:
		return l.Column(g.Width - 1)
	case FaceYMin, FaceYMax:
		y := 0
		if f == FaceYMax {
			y = g.Height - 1
		}
		for z := 0; z < g.Depth; z++ {
			for x := 0; x < g.Width; x++ {
				out = append(out, l.Index(x, y, z))
			}
		}
	case FaceZMin, FaceZMax:
		z := 0
		if f == FaceZMax {
			z = g.Depth - 1
		}
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				out = append(out, l.Index(x, y, z))
			}
		}
	default:
		panic(fmt.Sprintf("lattice: unknown face %d", f))
	}
	return out
}

// Attach connects a synthetic electrode site to a face. Face sites gain the
// electrode as a neighbor and the electrode's neighbors become the face sites.
func (l *Lattice) Attach(f Face, electrode SiteID) {
	if int(f) >= numFaces {
		panic(fmt.Sprintf("lattice: unknown face %d", f))
	}
	if !l.IsSynthetic(electrode) {
		panic(fmt.Sprintf("lattice: site %d is not an electrode site", electrode))
	}
	if l.periodicFace(f) {
		panic(fmt.Sprintf("lattice: face %s wraps and cannot hold an electrode", f))
	}
	l.faces[f] = electrode
	l.rebuildAdjacency()
}

// AttachedFace returns the face an electrode site is attached to.
func (l *Lattice) AttachedFace(electrode SiteID) (Face, bool) {
	for f, s := range l.faces {
		if s == electrode {
			return Face(f), true
		}
	}
	return 0, false
}

func (l *Lattice) periodicFace(f Face) bool {
	return l.geom.Periodic && f >= FaceYMin
}

func (l *Lattice) rebuildAdjacency() {
	g := l.geom
	total := l.sites + 2
	l.adj = make([]SiteID, 0, 7*l.sites)
	l.off = make([]int, total+1)

	for s := 0; s < l.sites; s++ {
		l.off[s] = len(l.adj)
		c := l.Coords(SiteID(s))
		start := len(l.adj)
		add := func(n SiteID) {
			if n == SiteID(s) {
				return
			}
			for _, have := range l.adj[start:] {
				if have == n {
					return
				}
			}
			l.adj = append(l.adj, n)
		}

		// Transport axis: no wrap, electrodes stand in for missing neighbors.
		if c.X > 0 {
			add(l.Index(c.X-1, c.Y, c.Z))
		} else if e := l.faces[FaceXMin]; e != NoSite {
			add(e)
		}
		if c.X < g.Width-1 {
			add(l.Index(c.X+1, c.Y, c.Z))
		} else if e := l.faces[FaceXMax]; e != NoSite {
			add(e)
		}

		l.axisNeighbors(c.Y, g.Height, FaceYMin, FaceYMax, func(y int) SiteID { return l.Index(c.X, y, c.Z) }, add)
		l.axisNeighbors(c.Z, g.Depth, FaceZMin, FaceZMax, func(z int) SiteID { return l.Index(c.X, c.Y, z) }, add)
	}

	for s := l.sites; s < total; s++ {
		l.off[s] = len(l.adj)
		if f, ok := l.AttachedFace(SiteID(s)); ok {
			l.adj = append(l.adj, l.FaceSites(f)...)
		}
	}
	l.off[total] = len(l.adj)
}

func (l *Lattice) axisNeighbors(v, size int, lo, hi Face, at func(int) SiteID, add func(SiteID)) {
	switch {
	case v > 0:
		add(at(v - 1))
	case l.geom.Periodic:
		add(at(size - 1))
	case l.faces[lo] != NoSite:
		add(l.faces[lo])
	}
	switch {
	case v < size-1:
		add(at(v + 1))
	case l.geom.Periodic:
		add(at(0))
	case l.faces[hi] != NoSite:
		add(l.faces[hi])
	}
}

func (l *Lattice) mustSite(site SiteID) {
	if site < 0 || int(site) >= l.sites+2 {
		panic(fmt.Sprintf("lattice: site %d out of range [0,%d)", site, l.sites+2))
	}
}

func (l *Lattice) mustReal(site SiteID) {
	if site < 0 || int(site) >= l.sites {
		panic(fmt.Sprintf("lattice: site %d is not a real site [0,%d)", site, l.sites))
	}
}

// String returns a summary of the lattice.
func (l *Lattice) String() string {
	g := l.geom
	return fmt.Sprintf("Lattice(%dx%dx%d, sites=%d, periodic=%t)", g.Width, g.Height, g.Depth, l.sites, g.Periodic)
}
