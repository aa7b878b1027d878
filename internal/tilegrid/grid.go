// Package tilegrid answers which tile memories a core can reach.
package tilegrid

import (
	"gonum.org/v1/gonum/graph/simple"

	"fifolower/internal/ir"
)

// Grid is a directed graph over the design's tiles with an edge from a
// core's tile to every tile whose memory that core can address.
type Grid struct {
	g     *simple.DirectedGraph
	ids   map[ir.Coord]int64
	tiles []*ir.Tile
}

// New builds the memory-affinity graph for the tiles of design.
func New(design *ir.Design) *Grid {
	grid := &Grid{
		g:   simple.NewDirectedGraph(),
		ids: make(map[ir.Coord]int64),
	}
	for _, t := range design.Tiles {
		grid.add(t)
	}
	return grid
}

func (g *Grid) add(t *ir.Tile) int64 {
	if id, ok := g.ids[t.Coord]; ok {
		return id
	}
	id := int64(len(g.tiles))
	g.ids[t.Coord] = id
	g.tiles = append(g.tiles, t)
	g.g.AddNode(simple.Node(id))
	for other, otherID := range g.ids {
		if other == t.Coord {
			continue
		}
		if LegalMemAffinity(t.Coord, other) {
			g.g.SetEdge(g.g.NewEdge(simple.Node(id), simple.Node(otherID)))
		}
		if LegalMemAffinity(other, t.Coord) {
			g.g.SetEdge(g.g.NewEdge(simple.Node(otherID), simple.Node(id)))
		}
	}
	return id
}

// MemoryAdjacent reports whether the core on core can address the memory of
// mem. A tile always reaches its own memory.
func (g *Grid) MemoryAdjacent(core, mem *ir.Tile) bool {
	if core == nil || mem == nil {
		return false
	}
	if core.Coord == mem.Coord {
		return true
	}
	from := g.add(core)
	to := g.add(mem)
	return g.g.HasEdgeFromTo(from, to)
}

// Reachable returns the tiles whose memory the core on t can address,
// excluding t itself, in insertion order.
func (g *Grid) Reachable(t *ir.Tile) []*ir.Tile {
	id := g.add(t)
	var out []*ir.Tile
	for _, other := range g.tiles {
		if other.Coord == t.Coord {
			continue
		}
		if g.g.HasEdgeFromTo(id, g.ids[other.Coord]) {
			out = append(out, other)
		}
	}
	return out
}

// LegalMemAffinity implements the array's memory sharing rule: a core
// reaches the memories to its north and south, and the one to its east on
// even rows or to its west on odd rows.
func LegalMemAffinity(core, mem ir.Coord) bool {
	if core == mem {
		return true
	}
	evenRow := core.Row%2 == 0
	switch {
	case core.Col == mem.Col && (core.Row == mem.Row+1 || core.Row+1 == mem.Row):
		return true
	case core.Row == mem.Row && core.Col+1 == mem.Col:
		return evenRow
	case core.Row == mem.Row && core.Col == mem.Col+1:
		return !evenRow
	}
	return false
}
