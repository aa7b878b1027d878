package objectfifo

import (
	"github.com/oleiade/lane"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"

	"fifolower/internal/ir"
)

func gcd[T constraints.Integer](a, b T) T {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// lcm returns the least common multiple of the positive values, 1 when
// there are none.
func lcm[T constraints.Integer](values ...T) T {
	out := T(1)
	for _, v := range values {
		if v <= 0 {
			continue
		}
		out = out / gcd(out, v) * v
	}
	return out
}

// tripCount returns how many iterations a loop from lower while < upper
// by step runs.
func tripCount(lower, upper, step int64) int64 {
	if upper <= lower {
		return 0
	}
	return (upper - lower + step - 1) / step
}

// unrollLoops unrolls, innermost first, every loop on a fifo tile whose
// body acquires directly, until the rotation of each fifo it touches lines
// up with the loop's iterations.
func (l *lowering) unrollLoops() {
	for _, core := range l.design.Cores {
		if !l.fifoTiles[core.Tile.Coord] {
			continue
		}
		q := lane.NewQueue()
		ir.WalkLoopsPostOrder(core.Body, func(loop *ir.ForOp) {
			q.Enqueue(loop)
		})
		for !q.Empty() {
			l.unrollLoop(core, q.Dequeue().(*ir.ForOp))
		}
	}
}

// loopFactor returns the lcm of the depths of every fifo acquired directly
// in loop's body, 0 when there is none.
func (l *lowering) loopFactor(core *ir.Core, loop *ir.ForOp) int64 {
	var depths []int64
	for _, op := range loop.Body.Ops {
		acq, ok := op.(*ir.AcquireOp)
		if !ok {
			continue
		}
		fifo := l.resolve(acq.Fifo, acq.Port, core.Tile, acq.Pos())
		if d := l.record(fifo).depth; d > 0 {
			depths = append(depths, int64(d))
		}
	}
	if len(depths) == 0 {
		return 0
	}
	return lcm(depths...)
}

func (l *lowering) unrollLoop(core *ir.Core, loop *ir.ForOp) {
	factor := l.loopFactor(core, loop)
	if factor == 0 {
		return
	}
	lower, upper, step, ok := loop.ConstBounds()
	if !ok {
		l.fatalf(loop.Pos(), "cannot unroll loop on %s: bounds and step must be constants", core.Tile)
	}
	if step <= 0 {
		l.fatalf(loop.Pos(), "cannot unroll loop on %s: step %d is not positive", core.Tile, step)
	}
	parent := ir.EnclosingBlock(core.Body, loop)
	if parent == nil {
		l.fatalf(loop.Pos(), "loop on %s is detached from its program", core.Tile)
	}

	trips := tripCount(lower, upper, step)
	body := append([]ir.Operation(nil), loop.Body.Ops...)
	report := LoopReport{Tile: core.Tile.Coord, Factor: factor, TripCount: trips}

	if trips <= factor {
		klog.V(1).Infof("fully unrolling loop on %s: %d iteration(s)", core.Tile, trips)
		report.Full = true
		parent.Replace(loop, l.duplicate(loop, body, trips, loop.Lower, step, 0)...)
		l.report.Loops = append(l.report.Loops, report)
		return
	}

	kept := trips / factor * factor
	report.Remainder = trips - kept
	klog.V(1).Infof("unrolling loop on %s by %d: %d iteration(s), %d left over", core.Tile, factor, trips, report.Remainder)

	newStep := l.design.NewConstant(factor*step, loop.Pos())
	parent.InsertBefore(loop, newStep)
	loop.Step = newStep.Res
	if report.Remainder > 0 {
		newUpper := l.design.NewConstant(lower+kept*step, loop.Pos())
		parent.InsertBefore(loop, newUpper)
		loop.Upper = newUpper.Res
	}
	loop.Body.Ops = append(loop.Body.Ops, l.duplicate(loop, body, factor-1, loop.Induction, step, 1)...)
	if report.Remainder > 0 {
		parent.InsertAfter(loop, l.duplicate(loop, body, report.Remainder, loop.Upper, step, 0)...)
	}
	l.report.Loops = append(l.report.Loops, report)
}

// duplicate clones body n times. In copy i every use of loop's induction
// variable becomes base + (i+first)*step, materialized right before the
// first operation that needs it.
func (l *lowering) duplicate(loop *ir.ForOp, body []ir.Operation, n int64, base *ir.Value, step int64, first int64) []ir.Operation {
	var out []ir.Operation
	for i := int64(0); i < n; i++ {
		offset := (i + first) * step
		cloner := ir.NewCloner(l.design)
		var iv *ir.Value
		var prelude []ir.Operation
		cloner.Resolve = func(v *ir.Value) *ir.Value {
			if v != loop.Induction {
				return nil
			}
			if iv == nil {
				if offset == 0 {
					iv = base
				} else {
					c := l.design.NewConstant(offset, loop.Pos())
					add := l.design.NewArith(ir.AddI, base, c.Res, loop.Pos())
					prelude = append(prelude, c, add)
					iv = add.Res
				}
			}
			return iv
		}
		for _, op := range body {
			clone := cloner.Clone(op)
			out = append(out, prelude...)
			prelude = nil
			out = append(out, clone)
		}
	}
	return out
}
