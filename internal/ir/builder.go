package ir

import (
	"fmt"

	"fifolower/internal/diag"
)

// NewDesign returns an empty design.
func NewDesign() *Design {
	return &Design{}
}

// NewValue allocates a fresh value named after prefix.
func (d *Design) NewValue(prefix string) *Value {
	if prefix == "" {
		prefix = "v"
	}
	name := fmt.Sprintf("%s%d", prefix, d.nextValue)
	d.nextValue++
	return &Value{Name: name}
}

// Tile returns the tile at (col, row), creating it on first use.
func (d *Design) Tile(col, row int) *Tile {
	if t := d.LookupTile(Coord{Col: col, Row: row}); t != nil {
		return t
	}
	t := &Tile{Coord: Coord{Col: col, Row: row}}
	d.Tiles = append(d.Tiles, t)
	return t
}

// LookupTile returns the tile at c or nil.
func (d *Design) LookupTile(c Coord) *Tile {
	for _, t := range d.Tiles {
		if t.Coord == c {
			return t
		}
	}
	return nil
}

// AddFifo declares a logical fifo and assigns it the next stable id.
func (d *Design) AddFifo(name string, producer *Tile, consumers []*Tile, depth int, elem *ElemType) *ObjectFifo {
	f := &ObjectFifo{
		ID:        len(d.Fifos),
		Name:      name,
		Producer:  producer,
		Consumers: append([]*Tile(nil), consumers...),
		Depth:     depth,
		Elem:      elem,
	}
	d.Fifos = append(d.Fifos, f)
	return f
}

// LookupFifo returns the fifo called name or nil.
func (d *Design) LookupFifo(name string) *ObjectFifo {
	for _, f := range d.Fifos {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// AddLock records a lock on tile.
func (d *Design) AddLock(tile *Tile, id int, name string) *Lock {
	l := &Lock{Name: name, Tile: tile, ID: id}
	d.Locks = append(d.Locks, l)
	return l
}

// AddBuffer records a buffer on tile together with the value other
// operations use to refer to it.
func (d *Design) AddBuffer(tile *Tile, name string, typ *ElemType) *Buffer {
	b := &Buffer{Name: name, Tile: tile, Type: typ}
	b.Ref = &Value{Name: name, Buffer: b}
	d.Buffers = append(d.Buffers, b)
	return b
}

// Mem returns the DMA program of tile, creating it on first use.
func (d *Design) Mem(tile *Tile) *MemDMA {
	for _, m := range d.Mems {
		if m.Tile == tile {
			return m
		}
	}
	m := &MemDMA{Tile: tile}
	d.Mems = append(d.Mems, m)
	return m
}

// AddCore creates the program of tile.
func (d *Design) AddCore(tile *Tile) *Core {
	c := &Core{Tile: tile, Body: &Block{}}
	d.Cores = append(d.Cores, c)
	return c
}

// CoresOn returns the programs running on tile.
func (d *Design) CoresOn(tile *Tile) []*Core {
	var cores []*Core
	for _, c := range d.Cores {
		if c.Tile == tile {
			cores = append(cores, c)
		}
	}
	return cores
}

// NewConstant creates a constant operation without inserting it.
func (d *Design) NewConstant(v int64, pos diag.Pos) *ConstantOp {
	op := &ConstantOp{opBase: opBase{Source: pos}, Value: v}
	op.Res = d.NewValue("c")
	op.Res.Def = op
	return op
}

// NewArith creates a binary arithmetic operation without inserting it.
func (d *Design) NewArith(kind ArithKind, lhs, rhs *Value, pos diag.Pos) *ArithOp {
	op := &ArithOp{opBase: opBase{Source: pos}, Kind: kind, Lhs: lhs, Rhs: rhs}
	op.Res = d.NewValue("v")
	op.Res.Def = op
	return op
}

// NewUseLock creates a lock operation without inserting it.
func NewUseLock(lock *Lock, value int, action LockAction, pos diag.Pos) *UseLockOp {
	return &UseLockOp{opBase: opBase{Source: pos}, Lock: lock, Value: value, Action: action}
}

// BlockBuilder appends operations to a block.
type BlockBuilder struct {
	design *Design
	block  *Block
	pos    diag.Pos
}

// At returns a builder appending to block.
func (d *Design) At(block *Block) *BlockBuilder {
	return &BlockBuilder{design: d, block: block}
}

// Block returns the block being built.
func (b *BlockBuilder) Block() *Block {
	return b.block
}

// SetPos sets the position attached to subsequently built operations.
func (b *BlockBuilder) SetPos(pos diag.Pos) *BlockBuilder {
	b.pos = pos
	return b
}

func (b *BlockBuilder) append(op Operation) {
	b.block.Ops = append(b.block.Ops, op)
}

// Const appends an integer constant.
func (b *BlockBuilder) Const(v int64) *Value {
	op := b.design.NewConstant(v, b.pos)
	b.append(op)
	return op.Res
}

// Arith appends a binary operation.
func (b *BlockBuilder) Arith(kind ArithKind, lhs, rhs *Value) *Value {
	op := b.design.NewArith(kind, lhs, rhs, b.pos)
	b.append(op)
	return op.Res
}

// Call appends a call. withResult selects whether the call defines a value.
func (b *BlockBuilder) Call(callee string, withResult bool, args ...*Value) *Value {
	op := &CallOp{opBase: opBase{Source: b.pos}, Callee: callee, Args: append([]*Value(nil), args...)}
	if withResult {
		op.Res = b.design.NewValue("r")
		op.Res.Def = op
	}
	b.append(op)
	return op.Res
}

// For appends a loop and builds its body with fn.
func (b *BlockBuilder) For(lower, upper, step *Value, fn func(body *BlockBuilder, iv *Value)) *ForOp {
	loop := &ForOp{
		opBase: opBase{Source: b.pos},
		Lower:  lower,
		Upper:  upper,
		Step:   step,
	}
	loop.Body = &Block{Parent: loop}
	loop.Induction = b.design.NewValue("i")
	loop.Induction.Loop = loop
	b.append(loop)
	if fn != nil {
		inner := &BlockBuilder{design: b.design, block: loop.Body, pos: b.pos}
		fn(inner, loop.Induction)
	}
	return loop
}

// ForConst appends a loop with constant bounds.
func (b *BlockBuilder) ForConst(lower, upper, step int64, fn func(body *BlockBuilder, iv *Value)) *ForOp {
	lo := b.Const(lower)
	hi := b.Const(upper)
	st := b.Const(step)
	return b.For(lo, hi, st, fn)
}

// Acquire appends a logical acquire and returns its subview.
func (b *BlockBuilder) Acquire(fifo *ObjectFifo, port Port, count int) *Value {
	op := &AcquireOp{opBase: opBase{Source: b.pos}, Fifo: fifo, Port: port, Count: count}
	op.Subview = b.design.NewValue("sv")
	op.Subview.Def = op
	b.append(op)
	return op.Subview
}

// Release appends a logical release.
func (b *BlockBuilder) Release(fifo *ObjectFifo, port Port, count int) {
	b.append(&ReleaseOp{opBase: opBase{Source: b.pos}, Fifo: fifo, Port: port, Count: count})
}

// Access appends a subview access and returns the element value.
func (b *BlockBuilder) Access(subview *Value, index int) *Value {
	op := &SubviewAccessOp{opBase: opBase{Source: b.pos}, Subview: subview, Index: index}
	op.Res = b.design.NewValue("e")
	op.Res.Def = op
	b.append(op)
	return op.Res
}

// UseLock appends a lock operation.
func (b *BlockBuilder) UseLock(lock *Lock, value int, action LockAction) {
	b.append(NewUseLock(lock, value, action, b.pos))
}
