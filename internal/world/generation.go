// Study-area generation using layered simplex noise.
// Generates an elevation surface, traces rivers down it, then derives the
// design-flood depth raster and the floodplain overlay.
package world

import (
	"math"
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds study-area generation parameters.
type GenConfig struct {
	Radius              int     // Hex grid radius
	Spacing             float64 // Metres between hex centres
	Seed                int64   // Random seed
	FloodLevel          float64 // Elevation reached by the design flood (0.0–1.0)
	DepthScale          float64 // Metres of water per unit of elevation below FloodLevel
	FloodplainElevation float64 // Hexes at or below this elevation are floodplain
	Rivers              int     // Number of river channels to trace
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Radius:              20,
		Spacing:             250,
		Seed:                42,
		FloodLevel:          0.45,
		DepthScale:          8,
		FloodplainElevation: 0.4,
		Rivers:              3,
	}
}

// SmallTestConfig returns a tiny area for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Radius:              5,
		Spacing:             100,
		Seed:                42,
		FloodLevel:          0.45,
		DepthScale:          8,
		FloodplainElevation: 0.4,
		Rivers:              1,
	}
}

// Generate creates a complete study-area raster.
func Generate(cfg GenConfig) *Map {
	seed := cfg.Seed

	elevNoise := opensimplex.NewNormalized(seed)
	shockNoise := opensimplex.NewNormalized(seed + 1)

	m := NewMap(cfg.Radius, cfg.Spacing)

	for q := -cfg.Radius; q <= cfg.Radius; q++ {
		for r := -cfg.Radius; r <= cfg.Radius; r++ {
			coord := HexCoord{Q: q, R: r}
			if !m.InBounds(coord) {
				continue
			}

			// Noise is sampled in unit hex space so the surface shape does not
			// depend on the metre spacing.
			c := coord.Center(1)

			elev := octaveNoise(elevNoise, c.X, c.Y, 4, 0.08, 0.5)
			// Valley shaping: lower ground towards the centre line y=0.
			valley := math.Abs(c.Y) / float64(cfg.Radius+1)
			elev = elev*0.7 + valley*0.3

			shock := 0.5 + octaveNoise(shockNoise, c.X, c.Y, 2, 0.1, 0.5)

			m.Set(&Hex{
				Coord:       coord,
				Elevation:   elev,
				ShockFactor: shock,
			})
		}
	}

	placeRivers(m, cfg)
	deriveFloodRaster(m, cfg)

	return m
}

// deriveFloodRaster sets design-flood depth and floodplain membership.
func deriveFloodRaster(m *Map, cfg GenConfig) {
	for _, hex := range m.Hexes {
		hex.FloodDepth = (cfg.FloodLevel - hex.Elevation) * cfg.DepthScale
		if hex.River {
			// Channels carry at least a metre more than the surrounding surface.
			hex.FloodDepth += 1
		}
		hex.Floodplain = hex.River || hex.Elevation <= cfg.FloodplainElevation
	}

	// Banks of the river are floodplain too.
	for coord, hex := range m.Hexes {
		if !hex.River {
			continue
		}
		for _, nc := range coord.Neighbors() {
			if nh := m.Get(nc); nh != nil {
				nh.Floodplain = true
			}
		}
	}
}

// placeRivers traces paths from high elevation downhill, marking hexes as river.
func placeRivers(m *Map, cfg GenConfig) {
	if cfg.Rivers <= 0 {
		return
	}
	rng := rand.New(rand.NewSource(cfg.Seed + 100))

	var sources []HexCoord
	for coord, hex := range m.Hexes {
		if hex.Elevation > 0.55 {
			sources = append(sources, coord)
		}
	}
	// Map iteration is random; sort before the seeded shuffle.
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Q != sources[j].Q {
			return sources[i].Q < sources[j].Q
		}
		return sources[i].R < sources[j].R
	})

	rng.Shuffle(len(sources), func(i, j int) {
		sources[i], sources[j] = sources[j], sources[i]
	})
	if len(sources) > cfg.Rivers {
		sources = sources[:cfg.Rivers]
	}

	for _, start := range sources {
		traceRiver(m, start)
	}
}

// traceRiver follows the steepest descent from a source hex until running
// out of downhill path or leaving the area.
func traceRiver(m *Map, start HexCoord) {
	current := start
	visited := make(map[HexCoord]bool)
	maxSteps := 4 * m.Radius

	for step := 0; step < maxSteps; step++ {
		visited[current] = true
		hex := m.Get(current)
		if hex == nil {
			break
		}
		hex.River = true

		var bestNeighbor *HexCoord
		bestElev := hex.Elevation

		for _, nc := range current.Neighbors() {
			if visited[nc] {
				continue
			}
			nh := m.Get(nc)
			if nh == nil {
				continue
			}
			if nh.Elevation < bestElev {
				bestElev = nh.Elevation
				c := nc
				bestNeighbor = &c
			}
		}

		if bestNeighbor == nil {
			break // No downhill path; the channel ends in a basin
		}
		current = *bestNeighbor
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
