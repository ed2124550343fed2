package world

import (
	"fmt"
	"math/rand"
)

// Map holds the study-area raster. Implements the household geography.
type Map struct {
	Hexes   map[HexCoord]*Hex `json:"-"` // All hexes keyed by coordinate
	Radius  int               `json:"radius"`
	Spacing float64           `json:"spacing"` // Metres between adjacent hex centres
}

// NewMap creates an empty map with the given radius and cell spacing.
// A hex grid of radius R contains hexes where max(|q|, |r|, |s|) <= R.
func NewMap(radius int, spacing float64) *Map {
	return &Map{
		Hexes:   make(map[HexCoord]*Hex),
		Radius:  radius,
		Spacing: spacing,
	}
}

// Get returns the hex at the given coordinate, or nil if out of bounds.
func (m *Map) Get(coord HexCoord) *Hex {
	return m.Hexes[coord]
}

// Set places a hex at the given coordinate.
func (m *Map) Set(hex *Hex) {
	m.Hexes[hex.Coord] = hex
}

// At returns the hex under a point, or nil outside the study area.
func (m *Map) At(p Point) *Hex {
	return m.Hexes[PointToHex(p, m.Spacing)]
}

// InBounds returns true if the coordinate is within the map radius.
func (m *Map) InBounds(coord HexCoord) bool {
	return max(abs(coord.Q), abs(coord.R), abs(coord.S())) <= m.Radius
}

// HexCount returns the total number of hexes in the map.
func (m *Map) HexCount() int {
	return len(m.Hexes)
}

// SampleLocation draws a point uniformly inside the study-area polygon by
// rejection from its bounding box. Always consumes an even number of draws.
func (m *Map) SampleLocation(rng *rand.Rand) Point {
	half := m.Spacing * (float64(m.Radius) + 1)
	for {
		p := Point{
			X: (rng.Float64()*2 - 1) * half,
			Y: (rng.Float64()*2 - 1) * half,
		}
		if m.At(p) != nil {
			return p
		}
	}
}

// InFloodplain reports whether p lies inside the floodplain overlay.
func (m *Map) InFloodplain(p Point) bool {
	h := m.At(p)
	return h != nil && h.Floodplain
}

// FloodDepth reads the design-flood depth raster at p. May be negative.
// Points outside the study area read as dry high ground.
func (m *Map) FloodDepth(p Point) float64 {
	h := m.At(p)
	if h == nil {
		return -1
	}
	return h.FloodDepth
}

// ShockDepth returns the depth of an actual flood at p: the design depth
// scaled by the cell's shock factor and a small per-draw jitter.
func (m *Map) ShockDepth(p Point, rng *rand.Rand) float64 {
	jitter := 0.9 + rng.Float64()*0.2
	h := m.At(p)
	if h == nil {
		return -1
	}
	return h.FloodDepth * h.ShockFactor * jitter
}

// FloodplainShare returns the fraction of hexes inside the floodplain.
func (m *Map) FloodplainShare() float64 {
	if len(m.Hexes) == 0 {
		return 0
	}
	n := 0
	for _, h := range m.Hexes {
		if h.Floodplain {
			n++
		}
	}
	return float64(n) / float64(len(m.Hexes))
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(radius=%d, hexes=%d, spacing=%.0fm)", m.Radius, m.HexCount(), m.Spacing)
}
