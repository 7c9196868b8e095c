package units

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Mapping is one org-defined conversion edge: one from_unit equals
// factor to_units.
type Mapping struct {
	FromUnit string          `db:"from_unit" json:"from_unit" validate:"required"`
	ToUnit   string          `db:"to_unit" json:"to_unit" validate:"required"`
	Factor   decimal.Decimal `db:"factor" json:"factor" validate:"required"`
}

type edge struct {
	to     string
	factor decimal.Decimal
}

// Graph is the custom-mapping search graph. Each mapping contributes a
// forward edge with its factor and a reverse edge with the reciprocal.
type Graph struct {
	edges map[string][]edge
}

// NewGraph builds a graph from the org's custom mappings. Mappings with
// a non-positive factor are skipped; a reciprocal of zero is undefined.
func NewGraph(mappings []Mapping) *Graph {
	g := &Graph{edges: make(map[string][]edge)}
	one := decimal.NewFromInt(1)

	for _, m := range mappings {
		if !m.Factor.IsPositive() {
			continue
		}
		g.edges[m.FromUnit] = append(g.edges[m.FromUnit], edge{to: m.ToUnit, factor: m.Factor})
		g.edges[m.ToUnit] = append(g.edges[m.ToUnit], edge{to: m.FromUnit, factor: one.DivRound(m.Factor, 12)})
	}

	// Deterministic traversal order so repeated searches resolve the
	// same path.
	for from := range g.edges {
		sort.Slice(g.edges[from], func(i, j int) bool {
			return g.edges[from][i].to < g.edges[from][j].to
		})
	}

	return g
}

// HasNode reports whether the unit appears in any mapping
func (g *Graph) HasNode(unit string) bool {
	_, ok := g.edges[unit]
	return ok
}

// FindPath searches depth-first for a conversion path and returns the
// product of edge factors along it, together with the hop count. A
// visited set guards against cycles.
func (g *Graph) FindPath(from, to string) (decimal.Decimal, int, bool) {
	if from == to {
		return decimal.Zero, 0, false
	}
	visited := map[string]bool{from: true}
	return g.search(from, to, decimal.NewFromInt(1), 0, visited)
}

func (g *Graph) search(current, target string, factor decimal.Decimal, hops int, visited map[string]bool) (decimal.Decimal, int, bool) {
	for _, e := range g.edges[current] {
		if visited[e.to] {
			continue
		}
		next := factor.Mul(e.factor)
		if e.to == target {
			return next, hops + 1, true
		}
		visited[e.to] = true
		if f, h, ok := g.search(e.to, target, next, hops+1, visited); ok {
			return f, h, true
		}
	}
	return decimal.Zero, 0, false
}
