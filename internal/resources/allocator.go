// Package resources hands out the scarce per-tile resources: lock ids and
// DMA channels.
package resources

import (
	"github.com/pkg/errors"
	"golang.org/x/tools/container/intsets"
	"k8s.io/klog/v2"

	"fifolower/internal/config"
	"fifolower/internal/ir"
)

var (
	// ErrNoFreeLock is returned when every lock id of a tile is in use.
	ErrNoFreeLock = errors.New("no free lock")
	// ErrNoFreeChannel is returned when every DMA channel of a direction is
	// in use on a tile.
	ErrNoFreeChannel = errors.New("no free DMA channel")
)

// Allocator tracks lock ids and DMA channels per tile. Allocations are
// never freed.
type Allocator struct {
	maxLocks    int
	maxChannels int
	locks       map[ir.Coord]*intsets.Sparse
	channels    map[ir.Coord]*[2]int
}

// NewAllocator returns an allocator for target, seeded with the locks and
// DMA chains already present in design.
func NewAllocator(target config.Target, design *ir.Design) *Allocator {
	a := &Allocator{
		maxLocks:    target.LocksPerTile,
		maxChannels: target.ChannelsPerDirection,
		locks:       make(map[ir.Coord]*intsets.Sparse),
		channels:    make(map[ir.Coord]*[2]int),
	}
	if design == nil {
		return a
	}
	for _, l := range design.Locks {
		a.lockSet(l.Tile).Insert(l.ID)
	}
	for _, m := range design.Mems {
		used := a.channelCount(m.Tile)
		for _, chain := range m.Chains {
			if chain.Channel.Index+1 > used[chain.Channel.Dir] {
				used[chain.Channel.Dir] = chain.Channel.Index + 1
			}
		}
	}
	return a
}

func (a *Allocator) lockSet(t *ir.Tile) *intsets.Sparse {
	s, ok := a.locks[t.Coord]
	if !ok {
		s = &intsets.Sparse{}
		a.locks[t.Coord] = s
	}
	return s
}

func (a *Allocator) channelCount(t *ir.Tile) *[2]int {
	c, ok := a.channels[t.Coord]
	if !ok {
		c = &[2]int{}
		a.channels[t.Coord] = c
	}
	return c
}

// AllocateLock returns the lowest unused lock id of tile.
func (a *Allocator) AllocateLock(t *ir.Tile) (int, error) {
	used := a.lockSet(t)
	for id := 0; id < a.maxLocks; id++ {
		if used.Has(id) {
			continue
		}
		used.Insert(id)
		klog.V(2).Infof("lock %d allocated on %s", id, t)
		return id, nil
	}
	return -1, errors.Wrapf(ErrNoFreeLock, "%s has all %d locks in use", t, a.maxLocks)
}

// AllocateChannel returns the first unused channel of dir on tile.
func (a *Allocator) AllocateChannel(t *ir.Tile, dir ir.Direction) (ir.Channel, error) {
	used := a.channelCount(t)
	if used[dir] >= a.maxChannels {
		return ir.Channel{}, errors.Wrapf(ErrNoFreeChannel, "%s has all %d %s channels in use", t, a.maxChannels, dir)
	}
	ch := ir.Channel{Dir: dir, Index: used[dir]}
	used[dir]++
	klog.V(2).Infof("channel %s allocated on %s", ch, t)
	return ch, nil
}

// LocksInUse returns how many lock ids of tile are taken.
func (a *Allocator) LocksInUse(t *ir.Tile) int {
	if s, ok := a.locks[t.Coord]; ok {
		return s.Len()
	}
	return 0
}
