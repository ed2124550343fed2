// Package world provides the study area: a hex-grid raster of elevation and
// flood depth with a floodplain overlay, and the geospatial queries households
// are created from.
// Uses axial coordinates (q, r) for the hex grid.
package world

import "math"

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// Point is a continuous location in study-area metres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between two points.
func (p Point) Dist(o Point) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Hex represents a single raster cell of the study area.
type Hex struct {
	Coord HexCoord `json:"coord"`

	// Elevation above the reference datum, 0.0 (lowest) to 1.0 (highest).
	Elevation float64 `json:"elevation"`

	// FloodDepth is the design-flood depth in metres. Negative on high ground.
	FloodDepth float64 `json:"flood_depth"`

	// ShockFactor scales FloodDepth when an actual flood strikes (0.5–1.5).
	ShockFactor float64 `json:"shock_factor"`

	River      bool `json:"river"`
	Floodplain bool `json:"floodplain"`
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	// Max of the three absolute differences in cube coordinates.
	return max(dq, dr, ds)
}

// Center returns the centre point of a hex for cells of the given spacing.
// Hex axial → cartesian: x = q + r*0.5, y = r * sqrt(3)/2.
func (h HexCoord) Center(spacing float64) Point {
	return Point{
		X: spacing * (float64(h.Q) + float64(h.R)*0.5),
		Y: spacing * float64(h.R) * math.Sqrt(3.0) / 2.0,
	}
}

// PointToHex returns the hex containing p for cells of the given spacing.
func PointToHex(p Point, spacing float64) HexCoord {
	r := p.Y / (spacing * math.Sqrt(3.0) / 2.0)
	q := p.X/spacing - r*0.5
	return cubeRound(q, r)
}

func cubeRound(fq, fr float64) HexCoord {
	fs := -fq - fr
	q := math.Round(fq)
	r := math.Round(fr)
	s := math.Round(fs)

	dq := math.Abs(q - fq)
	dr := math.Abs(r - fr)
	ds := math.Abs(s - fs)

	if dq > dr && dq > ds {
		q = -r - s
	} else if dr > ds {
		r = -q - s
	}
	return HexCoord{Q: int(q), R: int(r)}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
