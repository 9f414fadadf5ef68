// Package lattice provides the cubic site grid, site attributes, and
// neighbor topology that carriers hop across.
// Sites are addressed by a linear SiteID: id = x + y*W + z*W*H.
package lattice

import "fmt"

// SiteID addresses a site in a Lattice. Real sites occupy [0, W*H*D);
// the two synthetic electrode sites follow directly after them.
type SiteID int

// NoSite is returned when no site applies (e.g. a source that injected nothing).
const NoSite SiteID = -1

// CarrierID identifies the carrier occupying a site.
type CarrierID uint64

// NoCarrier marks an unoccupied site.
const NoCarrier CarrierID = 0

// SiteType classifies a site. Values index the coupling matrix.
type SiteType uint8

const (
	SiteNormal SiteType = iota // Regular transport site
	SiteTrap                   // Energetically favored site
	SiteSource                 // Synthetic injection electrode
	SiteDrain                  // Synthetic absorbing electrode
	SiteDefect                 // Fixed charge, never occupied by a carrier

	NumSiteTypes = 5
)

func (t SiteType) String() string {
	switch t {
	case SiteNormal:
		return "normal"
	case SiteTrap:
		return "trap"
	case SiteSource:
		return "source"
	case SiteDrain:
		return "drain"
	case SiteDefect:
		return "defect"
	default:
		return fmt.Sprintf("SiteType(%d)", uint8(t))
	}
}

// Face is one of the six faces of the cubic grid.
type Face uint8

const (
	FaceXMin Face = iota // Left electrode plane (x = 0)
	FaceXMax             // Right electrode plane (x = W-1)
	FaceYMin
	FaceYMax
	FaceZMin
	FaceZMax

	numFaces = 6
)

func (f Face) String() string {
	switch f {
	case FaceXMin:
		return "x-"
	case FaceXMax:
		return "x+"
	case FaceYMin:
		return "y-"
	case FaceYMax:
		return "y+"
	case FaceZMin:
		return "z-"
	case FaceZMax:
		return "z+"
	default:
		return fmt.Sprintf("Face(%d)", uint8(f))
	}
}

// Coord is a real site's position in grid units.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}
