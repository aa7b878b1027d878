package objectfifo

import (
	"fifolower/internal/ir"
	"fifolower/internal/tilegrid"
)

// MaxAcquire returns the largest element count a single acquire of fifo
// requests in any program running on tile.
func MaxAcquire(design *ir.Design, fifo *ir.ObjectFifo, tile *ir.Tile) int {
	maxAcquire := 0
	for _, core := range design.CoresOn(tile) {
		ir.Walk(core.Body, func(op ir.Operation) bool {
			if acq, ok := op.(*ir.AcquireOp); ok && acq.Fifo == fifo && acq.Count > maxAcquire {
				maxAcquire = acq.Count
			}
			return true
		})
	}
	return maxAcquire
}

// Depth returns how many slots fifo needs to serve the programs on tiles.
// One slot more than the largest acquire lets the other side make progress
// while a full window is held; an untouched fifo gets no slots at all.
func Depth(design *ir.Design, fifo *ir.ObjectFifo, tiles ...*ir.Tile) int {
	maxAcquire := 0
	for _, t := range tiles {
		maxAcquire = max(maxAcquire, MaxAcquire(design, fifo, t))
	}
	switch {
	case maxAcquire == 0:
		return 0
	case maxAcquire == 1 && fifo.Depth == 1:
		return 1
	}
	return maxAcquire + 1
}

// SizeEntry is the depth a fifo gets on one tile.
type SizeEntry struct {
	Fifo       string
	Tile       ir.Coord
	Role       string
	MaxAcquire int
	Depth      int
}

// Sizes reports, without modifying design, the depth every fifo would be
// materialized with on each tile that holds its elements.
func Sizes(design *ir.Design) []SizeEntry {
	grid := tilegrid.New(design)
	var entries []SizeEntry
	for _, fifo := range design.Fifos {
		if len(fifo.Consumers) == 1 && grid.MemoryAdjacent(fifo.Producer, fifo.Consumers[0]) {
			cons := fifo.Consumers[0]
			entries = append(entries, SizeEntry{
				Fifo:       fifo.Name,
				Tile:       fifo.Producer.Coord,
				Role:       "shared",
				MaxAcquire: max(MaxAcquire(design, fifo, fifo.Producer), MaxAcquire(design, fifo, cons)),
				Depth:      Depth(design, fifo, fifo.Producer, cons),
			})
			continue
		}
		entries = append(entries, SizeEntry{
			Fifo:       fifo.Name,
			Tile:       fifo.Producer.Coord,
			Role:       "producer",
			MaxAcquire: MaxAcquire(design, fifo, fifo.Producer),
			Depth:      Depth(design, fifo, fifo.Producer),
		})
		for _, cons := range fifo.Consumers {
			entries = append(entries, SizeEntry{
				Fifo:       fifo.Name,
				Tile:       cons.Coord,
				Role:       "consumer",
				MaxAcquire: MaxAcquire(design, fifo, cons),
				Depth:      Depth(design, fifo, cons),
			})
		}
	}
	return entries
}
