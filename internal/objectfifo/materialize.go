package objectfifo

import (
	"fmt"

	"k8s.io/klog/v2"

	"fifolower/internal/ir"
)

// Lock values. A slot's lock is lockEmpty while the slot may be written
// and lockFull while it holds data.
const (
	lockEmpty = 0
	lockFull  = 1
)

// acquireValue and releaseValue give the lock values a core uses through
// port: producers wait for empty slots and publish full ones, consumers
// the reverse.
func acquireValue(port ir.Port) int {
	if port == ir.Produce {
		return lockEmpty
	}
	return lockFull
}

func releaseValue(port ir.Port) int {
	if port == ir.Produce {
		return lockFull
	}
	return lockEmpty
}

// dmaSide selects the lock polarity of a descriptor chain. The sending
// side drains full slots out of the producer's memory; the receiving side
// fills empty slots of a consumer half.
type dmaSide int

const (
	sendSide dmaSide = iota
	receiveSide
)

func (s dmaSide) values() (acquire, release int) {
	if s == sendSide {
		return lockFull, lockEmpty
	}
	return lockEmpty, lockFull
}

func (l *lowering) materialize() {
	logical := append([]*ir.ObjectFifo(nil), l.design.Fifos...)
	for _, fifo := range logical {
		l.fifoTiles[fifo.Producer.Coord] = true
		for _, c := range fifo.Consumers {
			l.fifoTiles[c.Coord] = true
		}
		if len(fifo.Consumers) == 1 && l.grid.MemoryAdjacent(fifo.Producer, fifo.Consumers[0]) {
			depth := Depth(l.design, fifo, fifo.Producer, fifo.Consumers[0])
			klog.V(1).Infof("%s: shared between %s and %s, depth %d", fifo, fifo.Producer, fifo.Consumers[0], depth)
			l.createElements(fifo, fifo.Producer, depth, false)
			continue
		}
		l.split(fifo)
	}
}

// split gives every consumer its own half of fifo and connects the halves
// to the producer's memory with descriptor chains and one multicast.
func (l *lowering) split(fifo *ir.ObjectFifo) {
	rec := l.record(fifo)
	klog.V(1).Infof("%s: split across %d consumer(s)", fifo, len(fifo.Consumers))
	l.createElements(fifo, fifo.Producer, Depth(l.design, fifo, fifo.Producer), true)
	for i, cons := range fifo.Consumers {
		depth := Depth(l.design, fifo, cons)
		half := l.design.AddFifo(fmt.Sprintf("%s_cons%d", fifo.Name, i), cons, []*ir.Tile{cons}, depth, fifo.Elem)
		half.Parent = fifo
		half.Source = fifo.Source
		rec.halves = append(rec.halves, half)
		l.createElements(half, cons, depth, true)
	}

	mc := &ir.Multicast{Fifo: fifo.Name, Source: fifo.Producer}
	mc.Channel = l.allocateChannel(fifo, fifo.Producer, ir.Send)
	l.createChain(fifo, mc.Channel, sendSide)
	for _, half := range rec.halves {
		ch := l.allocateChannel(fifo, half.Producer, ir.Receive)
		l.createChain(half, ch, receiveSide)
		mc.Dests = append(mc.Dests, ir.MulticastDest{Tile: half.Producer, Channel: ch})
	}
	l.design.Multicasts = append(l.design.Multicasts, mc)
}

// createElements allocates depth buffers and locks for fifo on tile.
func (l *lowering) createElements(fifo *ir.ObjectFifo, tile *ir.Tile, depth int, split bool) {
	rec := l.record(fifo)
	rec.tile = tile
	rec.depth = depth
	entry := FifoReport{Name: fifo.Name, Tile: tile.Coord, Depth: depth, Split: split}
	if fifo.Parent != nil {
		entry.Parent = fifo.Parent.Name
	}
	for i := 0; i < depth; i++ {
		buf := l.design.AddBuffer(tile, fmt.Sprintf("buff%d", l.buffIndex), fifo.Elem)
		l.buffIndex++
		id, err := l.alloc.AllocateLock(tile)
		if err != nil {
			l.fail(fifo.Source, err)
		}
		lock := l.design.AddLock(tile, id, fmt.Sprintf("%s_lock%d", fifo.Name, i))
		rec.buffers = append(rec.buffers, buf)
		rec.locks = append(rec.locks, lock)
		entry.Buffers = append(entry.Buffers, buf.Name)
		entry.LockIDs = append(entry.LockIDs, id)
	}
	if depth > 0 {
		klog.V(2).Infof("%s: %d buffer(s) on %s, %d lock(s) now in use there", fifo, depth, tile, l.alloc.LocksInUse(tile))
	}
	l.report.Fifos = append(l.report.Fifos, entry)
}

func (l *lowering) allocateChannel(fifo *ir.ObjectFifo, tile *ir.Tile, dir ir.Direction) ir.Channel {
	ch, err := l.alloc.AllocateChannel(tile, dir)
	if err != nil {
		l.fail(fifo.Source, err)
	}
	return ch
}

// createChain builds the cyclic descriptor chain moving fifo's elements
// through ch. Each descriptor covers one whole buffer.
func (l *lowering) createChain(fifo *ir.ObjectFifo, ch ir.Channel, side dmaSide) {
	rec := l.record(fifo)
	if rec.depth == 0 {
		return
	}
	if rec.depth > l.target.MaxDescriptorsPerChain {
		l.fatalf(fifo.Source, "%s needs %d buffer descriptors on %s but a chain holds at most %d",
			fifo, rec.depth, rec.tile, l.target.MaxDescriptorsPerChain)
	}
	acquire, release := side.values()
	chain := &ir.DescriptorChain{Channel: ch, Fifo: fifo.Name}
	for i, buf := range rec.buffers {
		chain.Descriptors = append(chain.Descriptors, &ir.Descriptor{
			Buffer:       buf,
			Lock:         rec.locks[i],
			AcquireValue: acquire,
			ReleaseValue: release,
			Offset:       0,
			Len:          fifo.Elem.Len(),
		})
	}
	mem := l.design.Mem(rec.tile)
	mem.Chains = append(mem.Chains, chain)
}
