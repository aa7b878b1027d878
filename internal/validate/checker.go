package validate

import (
	"fmt"

	"github.com/pkg/errors"

	"fifolower/internal/config"
	"fifolower/internal/diag"
	"fifolower/internal/ir"
)

// CheckDesign validates that the design only uses the subset of constructs
// the object fifo lowering can handle. Every violation is reported; the
// returned error only summarizes them.
func CheckDesign(design *ir.Design, target config.Target, reporter *diag.Reporter) error {
	if design == nil {
		return errors.New("no design provided for validation")
	}
	if reporter == nil {
		return errors.New("no reporter provided for validation")
	}

	c := &checker{
		reporter: reporter,
		target:   target,
		cores:    make(map[ir.Coord]*ir.Core),
		acquired: make(map[*ir.ObjectFifo]bool),
	}
	before := reporter.ErrorCount()
	c.run(design)
	if n := reporter.ErrorCount() - before; n > 0 {
		return errors.Errorf("validation failed with %d issue(s)", n)
	}
	return nil
}

type checker struct {
	reporter *diag.Reporter
	target   config.Target
	cores    map[ir.Coord]*ir.Core
	acquired map[*ir.ObjectFifo]bool
}

func (c *checker) run(design *ir.Design) {
	for _, tile := range design.Tiles {
		if !c.target.InGrid(tile.Coord.Col, tile.Coord.Row) {
			c.error(tile.Source, "%s lies outside the %dx%d %s grid", tile, c.target.Cols, c.target.Rows, c.target.Name)
		}
	}
	names := make(map[string]bool)
	for _, fifo := range design.Fifos {
		if names[fifo.Name] {
			c.error(fifo.Source, "object fifo %q is declared more than once", fifo.Name)
		}
		names[fifo.Name] = true
		c.checkFifo(fifo)
	}
	for _, lock := range design.Locks {
		if lock.ID < 0 || lock.ID >= c.target.LocksPerTile {
			c.error(diag.NoPos, "lock %s on %s has id %d outside [0,%d)", lock, lock.Tile, lock.ID, c.target.LocksPerTile)
		}
	}
	for _, core := range design.Cores {
		if prev, ok := c.cores[core.Tile.Coord]; ok && prev != core {
			c.error(core.Source, "%s already runs a core program", core.Tile)
			continue
		}
		c.cores[core.Tile.Coord] = core
		c.checkBlock(core, core.Body)
	}
	for _, fifo := range design.Fifos {
		if !c.acquired[fifo] {
			c.reporter.Warning(fifo.Source, fmt.Sprintf("object fifo %q is never acquired and gets no buffers", fifo.Name))
		}
	}
}

func (c *checker) checkFifo(fifo *ir.ObjectFifo) {
	if fifo.Producer == nil {
		c.error(fifo.Source, "object fifo %q has no producer tile", fifo.Name)
	}
	if len(fifo.Consumers) == 0 {
		c.error(fifo.Source, "object fifo %q has no consumer tiles", fifo.Name)
	}
	seen := make(map[ir.Coord]bool)
	for _, cons := range fifo.Consumers {
		if seen[cons.Coord] {
			c.error(fifo.Source, "object fifo %q lists consumer %s twice", fifo.Name, cons)
		}
		seen[cons.Coord] = true
		if fifo.Producer != nil && cons.Coord == fifo.Producer.Coord {
			c.error(fifo.Source, "object fifo %q cannot consume on its producer %s", fifo.Name, cons)
		}
	}
	if fifo.Depth < 1 {
		c.error(fifo.Source, "object fifo %q must declare a depth >= 1; got %d", fifo.Name, fifo.Depth)
	}
	if fifo.Elem == nil || fifo.Elem.Len() <= 0 {
		c.error(fifo.Source, "object fifo %q needs an element type with a positive size", fifo.Name)
	}
}

func (c *checker) checkBlock(core *ir.Core, block *ir.Block) {
	for _, op := range block.Ops {
		c.inspectOperation(core, op)
		if loop, ok := op.(*ir.ForOp); ok {
			c.checkBlock(core, loop.Body)
		}
	}
}

func (c *checker) inspectOperation(core *ir.Core, op ir.Operation) {
	switch o := op.(type) {
	case *ir.ForOp:
		c.checkLoop(o)
	case *ir.AcquireOp:
		if o.Count < 1 {
			c.error(o.Pos(), "acquire of %s must request at least one element; got %d", o.Fifo, o.Count)
		}
		c.checkPort(core, o.Pos(), "acquire", o.Fifo, o.Port)
		c.acquired[o.Fifo] = true
	case *ir.ReleaseOp:
		if o.Count < 1 {
			c.error(o.Pos(), "release of %s must release at least one element; got %d", o.Fifo, o.Count)
		}
		c.checkPort(core, o.Pos(), "release", o.Fifo, o.Port)
	case *ir.SubviewAccessOp:
		if o.Index < 0 {
			c.error(o.Pos(), "subview index must be non-negative; got %d", o.Index)
		}
		if _, ok := o.Subview.Def.(*ir.AcquireOp); !ok {
			c.error(o.Pos(), "subview access on %s which is not produced by an acquire", o.Subview)
		}
	case *ir.UseLockOp:
		if o.Lock == nil {
			c.error(o.Pos(), "lock operation without a lock")
		}
	}
}

func (c *checker) checkLoop(loop *ir.ForOp) {
	_, _, step, ok := loop.ConstBounds()
	if !ok {
		c.error(loop.Pos(), "for loops must have compile-time constant lower bound, upper bound, and step")
		return
	}
	if step <= 0 {
		c.error(loop.Pos(), "for loop step must be a positive constant; got %d", step)
	}
}

func (c *checker) checkPort(core *ir.Core, pos diag.Pos, what string, fifo *ir.ObjectFifo, port ir.Port) {
	if fifo == nil {
		c.error(pos, "%s without an object fifo", what)
		return
	}
	switch port {
	case ir.Produce:
		if core.Tile != fifo.Producer {
			c.error(pos, "producer port of object fifo %q accessed by core running on non-producer %s", fifo.Name, core.Tile)
		}
	case ir.Consume:
		if !fifo.HasConsumer(core.Tile) {
			c.error(pos, "consumer port of object fifo %q accessed by core running on non-consumer %s", fifo.Name, core.Tile)
		}
	default:
		c.error(pos, "%s of %s uses unknown port %d", what, fifo, port)
	}
}

func (c *checker) error(pos diag.Pos, format string, args ...any) {
	c.reporter.Error(pos, fmt.Sprintf(format, args...))
}
