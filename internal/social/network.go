// Package social provides the collaboration network: an undirected, sparse
// neighbour relation among households, held outside the households.
package social

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/talgya/floodsim/internal/agents"
	"github.com/talgya/floodsim/internal/world"
)

// Network is an undirected neighbour relation keyed by household id.
// Edges are established during initialization and not mutated while stepping.
type Network struct {
	g     *simple.UndirectedGraph
	edges int

	// Sorted neighbour lists, rebuilt lazily after Add.
	mu     sync.Mutex
	sorted map[agents.HouseholdID][]agents.HouseholdID
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		g:      simple.NewUndirectedGraph(),
		sorted: make(map[agents.HouseholdID][]agents.HouseholdID),
	}
}

// Add links a and b. Adding an existing edge or a self-loop is a no-op.
// Returns true if a new edge was created.
func (n *Network) Add(a, b agents.HouseholdID) bool {
	if a == b || n.Has(a, b) {
		return false
	}
	n.g.SetEdge(n.g.NewEdge(simple.Node(int64(a)), simple.Node(int64(b))))
	n.edges++
	n.mu.Lock()
	delete(n.sorted, a)
	delete(n.sorted, b)
	n.mu.Unlock()
	return true
}

// Has reports whether a and b are neighbours.
func (n *Network) Has(a, b agents.HouseholdID) bool {
	return n.g.HasEdgeBetween(int64(a), int64(b))
}

// Neighbors returns the neighbours of id in ascending id order.
// The returned slice is shared; callers must not modify it. Safe for
// concurrent readers once initialization is done.
func (n *Network) Neighbors(id agents.HouseholdID) []agents.HouseholdID {
	n.mu.Lock()
	defer n.mu.Unlock()
	if list, ok := n.sorted[id]; ok {
		return list
	}
	nodes := graph.NodesOf(n.g.From(int64(id)))
	if len(nodes) == 0 {
		return nil
	}
	list := make([]agents.HouseholdID, len(nodes))
	for i, nb := range nodes {
		list[i] = agents.HouseholdID(nb.ID())
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	n.sorted[id] = list
	return list
}

// Degree returns the number of neighbours of id.
func (n *Network) Degree(id agents.HouseholdID) int {
	return n.g.From(int64(id)).Len()
}

// EdgeCount returns the number of undirected edges.
func (n *Network) EdgeCount() int {
	return n.edges
}

// Within counts households reachable from id in at most hops edges, id
// itself excluded. This is a social distance, not a spatial one.
func (n *Network) Within(id agents.HouseholdID, hops int) int {
	if hops <= 0 || n.g.Node(int64(id)) == nil {
		return 0
	}
	count := 0
	var bf traverse.BreadthFirst
	bf.Walk(n.g, simple.Node(int64(id)), func(nd graph.Node, depth int) bool {
		if depth > hops {
			return true
		}
		if depth > 0 {
			count++
		}
		return false
	})
	return count
}

// Edge is an explicit neighbour pair.
type Edge struct {
	A agents.HouseholdID `json:"a"`
	B agents.HouseholdID `json:"b"`
}

// FromEdges builds a network from an explicit edge list.
func FromEdges(edges []Edge) *Network {
	n := NewNetwork()
	for _, e := range edges {
		n.Add(e.A, e.B)
	}
	return n
}

// BuildProximity links every pair of households whose locations lie within
// radius of each other. Points are bucketed on a square grid of cell size
// radius so only adjacent cells are compared.
func BuildProximity(households []*agents.Household, radius float64) *Network {
	n := NewNetwork()
	if radius <= 0 {
		return n
	}

	type cell struct{ x, y int }
	cellOf := func(p world.Point) cell {
		return cell{int(math.Floor(p.X / radius)), int(math.Floor(p.Y / radius))}
	}

	grid := make(map[cell][]*agents.Household)
	for _, h := range households {
		c := cellOf(h.Location)
		grid[c] = append(grid[c], h)
	}

	for _, h := range households {
		c := cellOf(h.Location)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for _, o := range grid[cell{c.x + dx, c.y + dy}] {
					if o.ID <= h.ID {
						continue
					}
					if h.Location.Dist(o.Location) <= radius {
						n.Add(h.ID, o.ID)
					}
				}
			}
		}
	}
	return n
}
