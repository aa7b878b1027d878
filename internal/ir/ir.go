package ir

import (
	"fmt"
	"strings"

	"fifolower/internal/diag"
)

// Design is the whole program handed between compiler stages: a grid of
// tiles, their logical fifos and, after lowering, the physical resources
// that implement them.
type Design struct {
	Tiles      []*Tile
	Fifos      []*ObjectFifo
	Buffers    []*Buffer
	Locks      []*Lock
	Mems       []*MemDMA
	Multicasts []*Multicast
	Cores      []*Core

	nextValue int
}

// Coord is a tile grid coordinate.
type Coord struct {
	Col int
	Row int
}

func (c Coord) String() string {
	return fmt.Sprintf("%d,%d", c.Col, c.Row)
}

// Tile is one grid location hosting a core, local memory and a DMA engine.
type Tile struct {
	Coord  Coord
	Source diag.Pos
}

func (t *Tile) String() string {
	if t == nil {
		return "tile(?)"
	}
	return fmt.Sprintf("tile(%s)", t.Coord)
}

// ElemType describes the memory region backing one fifo element.
type ElemType struct {
	Shape []int
	Elem  string
}

// Len returns the number of scalars in the element.
func (t *ElemType) Len() int {
	if t == nil {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t *ElemType) String() string {
	if t == nil {
		return "memref<?>"
	}
	var sb strings.Builder
	sb.WriteString("memref<")
	for _, d := range t.Shape {
		fmt.Fprintf(&sb, "%dx", d)
	}
	sb.WriteString(t.Elem)
	sb.WriteString(">")
	return sb.String()
}

// Port selects the side of a fifo a program uses.
type Port int

const (
	Produce Port = iota
	Consume
)

func (p Port) String() string {
	if p == Consume {
		return "consume"
	}
	return "produce"
}

// ObjectFifo is the logical producer/consumer queue. Depth is the declared
// depth before lowering; consumer halves created by a split carry their
// materialized depth and point back at the fifo they were split from.
type ObjectFifo struct {
	ID        int
	Name      string
	Producer  *Tile
	Consumers []*Tile
	Depth     int
	Elem      *ElemType
	Parent    *ObjectFifo
	Source    diag.Pos
}

func (f *ObjectFifo) String() string {
	if f == nil {
		return "@?"
	}
	return "@" + f.Name
}

// HasConsumer reports whether tile is one of the fifo's consumers.
func (f *ObjectFifo) HasConsumer(tile *Tile) bool {
	for _, c := range f.Consumers {
		if c == tile {
			return true
		}
	}
	return false
}

// Buffer is a memory region on a tile holding one fifo slot.
type Buffer struct {
	Name string
	Tile *Tile
	Type *ElemType
	Ref  *Value
}

// Lock is a counting semaphore on a tile.
type Lock struct {
	Name string
	Tile *Tile
	ID   int
}

func (l *Lock) String() string {
	if l == nil {
		return "lock(?)"
	}
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("lock(%s,%d)", l.Tile.Coord, l.ID)
}

// LockAction selects acquire or release.
type LockAction int

const (
	Acquire LockAction = iota
	Release
)

func (a LockAction) String() string {
	if a == Release {
		return "Release"
	}
	return "Acquire"
}

// Direction of a tile DMA channel. Send channels are the masters that
// read tile memory onto the stream network, Receive channels the slaves
// that write it.
type Direction int

const (
	Send Direction = iota
	Receive
)

func (d Direction) String() string {
	if d == Receive {
		return "S2MM"
	}
	return "MM2S"
}

// Channel is a tile DMA channel.
type Channel struct {
	Dir   Direction
	Index int
}

func (c Channel) String() string {
	return fmt.Sprintf("%s%d", c.Dir, c.Index)
}

// Descriptor moves one buffer while holding its lock.
type Descriptor struct {
	Buffer       *Buffer
	Lock         *Lock
	AcquireValue int
	ReleaseValue int
	Offset       int
	Len          int
}

// DescriptorChain is a cyclic list of descriptors driven by one channel:
// after descriptor i the engine continues with descriptor (i+1) mod len.
type DescriptorChain struct {
	Channel     Channel
	Fifo        string
	Descriptors []*Descriptor
}

// Next returns the successor index of descriptor i.
func (c *DescriptorChain) Next(i int) int {
	if len(c.Descriptors) == 0 {
		return 0
	}
	return (i + 1) % len(c.Descriptors)
}

// MemDMA holds the DMA program of a tile.
type MemDMA struct {
	Tile   *Tile
	Chains []*DescriptorChain
}

// Multicast fans one send channel out to several receive channels.
type Multicast struct {
	Fifo    string
	Source  *Tile
	Channel Channel
	Dests   []MulticastDest
}

// MulticastDest is one destination of a multicast.
type MulticastDest struct {
	Tile    *Tile
	Channel Channel
}

// Core is the program running on a tile.
type Core struct {
	Tile   *Tile
	Body   *Block
	Source diag.Pos
}

// Block is an ordered list of operations. Parent is the loop owning the
// block, nil for a core body.
type Block struct {
	Ops    []Operation
	Parent *ForOp
}

// Value is an SSA value. Exactly one of Def, Loop or Buffer is set: the
// operation producing it, the loop whose induction variable it is, or the
// buffer it refers to.
type Value struct {
	Name   string
	Def    Operation
	Loop   *ForOp
	Buffer *Buffer
}

func (v *Value) String() string {
	if v == nil {
		return "%?"
	}
	if v.Buffer != nil {
		return "%" + v.Buffer.Name
	}
	return "%" + v.Name
}

// ConstInt returns the integer held by v when it is defined by a constant.
func (v *Value) ConstInt() (int64, bool) {
	if v == nil {
		return 0, false
	}
	if c, ok := v.Def.(*ConstantOp); ok {
		return c.Value, true
	}
	return 0, false
}
