package lattice

import (
	"errors"
	"testing"
)

func newLattice(t *testing.T, g Geometry) *Lattice {
	t.Helper()
	l, err := New(g)
	if err != nil {
		t.Fatalf("New(%+v): %v", g, err)
	}
	return l
}

func TestNew_RejectsNonPositiveDimensions(t *testing.T) {
	for _, g := range []Geometry{
		{Width: 0, Height: 1, Depth: 1},
		{Width: 3, Height: -1, Depth: 1},
		{Width: 3, Height: 2, Depth: 0},
	} {
		if _, err := New(g); err == nil {
			t.Errorf("New(%+v) succeeded, want error", g)
		}
	}
}

func TestIndexCoordsRoundTrip(t *testing.T) {
	l := newLattice(t, Geometry{Width: 4, Height: 3, Depth: 2})
	for s := 0; s < l.RealSites(); s++ {
		c := l.Coords(SiteID(s))
		if got := l.Index(c.X, c.Y, c.Z); got != SiteID(s) {
			t.Fatalf("Index(Coords(%d)) = %d", s, got)
		}
	}
	if got := l.Index(1, 2, 1); got != 1+2*4+1*12 {
		t.Errorf("Index(1,2,1) = %d, want %d", got, 1+2*4+12)
	}
}

func TestOutOfRangeSitePanics(t *testing.T) {
	l := newLattice(t, Geometry{Width: 2, Height: 2, Depth: 1})
	cases := map[string]func(){
		"potential": func() { l.Potential(SiteID(l.Len())) },
		"negative":  func() { l.SiteType(-1) },
		"coords":    func() { l.Coords(l.DrainSite()) },
		"occupant":  func() { _ = l.SetOccupant(l.SourceSite(), 1) },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestNeighbors_OpenBoundaries(t *testing.T) {
	l := newLattice(t, Geometry{Width: 3, Height: 3, Depth: 3})

	center := l.Index(1, 1, 1)
	if got := len(l.Neighbors(center)); got != 6 {
		t.Errorf("center has %d neighbors, want 6", got)
	}
	corner := l.Index(0, 0, 0)
	if got := len(l.Neighbors(corner)); got != 3 {
		t.Errorf("corner has %d neighbors, want 3", got)
	}

	want := []SiteID{l.Index(0, 1, 1), l.Index(2, 1, 1), l.Index(1, 0, 1), l.Index(1, 2, 1), l.Index(1, 1, 0), l.Index(1, 1, 2)}
	got := l.Neighbors(center)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("neighbor order = %v, want %v", got, want)
		}
	}
}

func TestNeighbors_PeriodicWrapsOffTransportAxis(t *testing.T) {
	l := newLattice(t, Geometry{Width: 3, Height: 4, Depth: 1, Periodic: true})

	site := l.Index(0, 0, 0)
	ns := l.Neighbors(site)
	has := func(n SiteID) bool {
		for _, s := range ns {
			if s == n {
				return true
			}
		}
		return false
	}
	if !has(l.Index(0, 3, 0)) {
		t.Errorf("expected y wrap neighbor, got %v", ns)
	}
	if has(l.Index(2, 0, 0)) {
		t.Errorf("x must not wrap, got %v", ns)
	}
	// depth 1 wraps onto itself and is skipped
	for _, n := range ns {
		if n == site {
			t.Errorf("site lists itself as neighbor")
		}
	}
}

func TestNeighbors_PeriodicSizeTwoHasNoDuplicates(t *testing.T) {
	l := newLattice(t, Geometry{Width: 2, Height: 2, Depth: 1, Periodic: true})
	ns := l.Neighbors(l.Index(0, 0, 0))
	seen := map[SiteID]bool{}
	for _, n := range ns {
		if seen[n] {
			t.Fatalf("duplicate neighbor %d in %v", n, ns)
		}
		seen[n] = true
	}
}

func TestAttach_ElectrodesJoinTransportAxis(t *testing.T) {
	l := newLattice(t, Geometry{Width: 4, Height: 2, Depth: 1})
	l.Attach(FaceXMin, l.SourceSite())
	l.Attach(FaceXMax, l.DrainSite())

	left := l.Index(0, 1, 0)
	if ns := l.Neighbors(left); ns[0] != l.SourceSite() {
		t.Errorf("left face site neighbors = %v, want source first", ns)
	}
	right := l.Index(3, 0, 0)
	found := false
	for _, n := range l.Neighbors(right) {
		if n == l.DrainSite() {
			found = true
		}
	}
	if !found {
		t.Errorf("right face site missing drain neighbor")
	}

	drainNs := l.Neighbors(l.DrainSite())
	col := l.Column(3)
	if len(drainNs) != len(col) {
		t.Fatalf("drain has %d neighbors, want %d", len(drainNs), len(col))
	}
	for i := range col {
		if drainNs[i] != col[i] {
			t.Errorf("drain neighbors = %v, want %v", drainNs, col)
		}
	}
	if f, ok := l.AttachedFace(l.SourceSite()); !ok || f != FaceXMin {
		t.Errorf("AttachedFace(source) = %v,%v", f, ok)
	}
}

func TestColumnAndFaces(t *testing.T) {
	l := newLattice(t, Geometry{Width: 5, Height: 3, Depth: 2})
	col := l.Column(2)
	if len(col) != 6 {
		t.Fatalf("column has %d sites, want 6", len(col))
	}
	for _, s := range col {
		if l.Coords(s).X != 2 {
			t.Errorf("site %d in column 2 has x=%d", s, l.Coords(s).X)
		}
	}
	if got := len(l.FaceSites(FaceYMax)); got != 10 {
		t.Errorf("y+ face has %d sites, want 10", got)
	}
	for _, s := range l.FaceSites(FaceZMin) {
		if l.Coords(s).Z != 0 {
			t.Errorf("z- face site %d has z=%d", s, l.Coords(s).Z)
		}
	}
}

func TestOccupancyExclusivity(t *testing.T) {
	l := newLattice(t, Geometry{Width: 2, Height: 1, Depth: 1})
	site := l.Index(1, 0, 0)

	if err := l.SetOccupant(site, 7); err != nil {
		t.Fatalf("first SetOccupant: %v", err)
	}
	err := l.SetOccupant(site, 8)
	if !errors.Is(err, ErrOccupied) {
		t.Fatalf("second SetOccupant err = %v, want ErrOccupied", err)
	}
	if got := l.Occupant(site); got != 7 {
		t.Errorf("occupant = %d, want 7", got)
	}

	l.ClearOccupant(site)
	if l.Occupied(site) {
		t.Errorf("site still occupied after clear")
	}
}

func TestOccupancy_StrictPanics(t *testing.T) {
	l := newLattice(t, Geometry{Width: 2, Height: 1, Depth: 1})
	l.Strict = true
	_ = l.SetOccupant(0, 1)
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on strict double occupancy")
		}
	}()
	_ = l.SetOccupant(0, 2)
}

func TestSetSiteType_RejectsElectrodeTypes(t *testing.T) {
	l := newLattice(t, Geometry{Width: 2, Height: 1, Depth: 1})
	l.SetSiteType(0, SiteTrap)
	if l.SiteType(0) != SiteTrap {
		t.Errorf("site type = %v, want trap", l.SiteType(0))
	}
	if l.SiteType(l.DrainSite()) != SiteDrain || l.SiteType(l.SourceSite()) != SiteSource {
		t.Errorf("synthetic sites mistyped")
	}
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic assigning drain type to a real site")
		}
	}()
	l.SetSiteType(1, SiteDrain)
}
