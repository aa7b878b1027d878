package objectfifo

import (
	"github.com/gomlx/exceptions"
	"github.com/oleiade/lane"
	"k8s.io/klog/v2"

	"fifolower/internal/ir"
)

// rotation is the static state of one fifo seen from one program: the
// slot the next acquire and the next release will use, and the slots held
// right now in acquisition order.
type rotation struct {
	nextAcquire int
	nextRelease int
	held        []int
	// released counts slots already released but not yet dropped from held.
	released int
}

// pendingRelease is a release an upcoming acquire has not accounted for.
type pendingRelease struct {
	fifoID int
	count  int
	block  *ir.Block
	parent *ir.Block
}

// subview is what an acquire handed out: the buffers of the held window
// and how many of them the acquire asked for.
type subview struct {
	buffers   []*ir.Buffer
	requested int
}

type scope struct {
	block  *ir.Block
	parent *ir.Block
}

type coreRewriter struct {
	l         *lowering
	core      *ir.Core
	rotations map[int]*rotation
	releases  []pendingRelease
	subviews  map[*ir.Value]*subview
	replace   map[*ir.Value]*ir.Value
	scopes    *lane.Stack
}

func (l *lowering) rewriteCores() {
	for _, core := range l.design.Cores {
		r := &coreRewriter{
			l:         l,
			core:      core,
			rotations: make(map[int]*rotation),
			subviews:  make(map[*ir.Value]*subview),
			replace:   make(map[*ir.Value]*ir.Value),
			scopes:    lane.NewStack(),
		}
		r.scopes.Push(scope{block: core.Body})
		r.rewriteBlock(core.Body)
		r.scopes.Pop()
		klog.V(2).Infof("rewrote program on %s", core.Tile)
	}
}

func (r *coreRewriter) current() scope {
	return r.scopes.Head().(scope)
}

func (r *coreRewriter) rotation(fifo *ir.ObjectFifo) *rotation {
	rot, ok := r.rotations[fifo.ID]
	if !ok {
		rot = &rotation{}
		r.rotations[fifo.ID] = rot
	}
	return rot
}

func (r *coreRewriter) substitute(op ir.Operation) {
	for i, v := range op.Operands() {
		if nv, ok := r.replace[v]; ok {
			op.SetOperand(i, nv)
		}
	}
}

func (r *coreRewriter) rewriteBlock(block *ir.Block) {
	out := make([]ir.Operation, 0, len(block.Ops))
	for _, op := range block.Ops {
		r.substitute(op)
		switch o := op.(type) {
		case *ir.AcquireOp:
			out = append(out, r.acquire(o)...)
		case *ir.ReleaseOp:
			out = append(out, r.release(o)...)
		case *ir.SubviewAccessOp:
			r.access(o)
		case *ir.ForOp:
			out = append(out, o)
			r.scopes.Push(scope{block: o.Body, parent: block})
			r.rewriteBlock(o.Body)
			r.scopes.Pop()
		default:
			out = append(out, op)
		}
	}
	block.Ops = out
}

// claimReleases removes from the pending list every release of fifo an
// acquire in the current scope can see: one in the same block, in the
// enclosing block, in a block nested directly inside this one, or in a
// sibling block of the same parent.
func (r *coreRewriter) claimReleases(fifo *ir.ObjectFifo) int {
	here := r.current()
	n := 0
	kept := r.releases[:0]
	for _, rel := range r.releases {
		if rel.fifoID == fifo.ID && visible(rel, here) {
			n += rel.count
			continue
		}
		kept = append(kept, rel)
	}
	r.releases = kept
	return n
}

func visible(rel pendingRelease, here scope) bool {
	switch {
	case rel.block == here.block, rel.block == here.parent, rel.parent == here.block:
		return true
	}
	return rel.parent != nil && rel.parent == here.parent
}

func (r *coreRewriter) acquire(op *ir.AcquireOp) []ir.Operation {
	fifo := r.l.resolve(op.Fifo, op.Port, r.core.Tile, op.Pos())
	rec := r.l.record(fifo)
	rot := r.rotation(fifo)

	numRel := r.claimReleases(fifo)
	if numRel > len(rot.held) {
		r.l.fatalf(op.Pos(), "cannot release %d element(s) of %s: only %d held", numRel, op.Fifo, len(rot.held))
	}
	rot.held = append([]int(nil), rot.held[numRel:]...)
	rot.released -= numRel

	var ops []ir.Operation
	for len(rot.held) < op.Count {
		if len(rot.held) >= rec.depth {
			r.l.fatalf(op.Pos(), "cannot acquire %d element(s) of %s: depth is %d", op.Count, op.Fifo, rec.depth)
		}
		idx := rot.nextAcquire
		ops = append(ops, ir.NewUseLock(rec.locks[idx], acquireValue(op.Port), ir.Acquire, op.Pos()))
		rot.held = append(rot.held, idx)
		rot.nextAcquire = (idx + 1) % rec.depth
	}

	sv := &subview{requested: op.Count}
	for _, idx := range rot.held {
		sv.buffers = append(sv.buffers, rec.buffers[idx])
	}
	r.subviews[op.Subview] = sv
	return ops
}

func (r *coreRewriter) release(op *ir.ReleaseOp) []ir.Operation {
	fifo := r.l.resolve(op.Fifo, op.Port, r.core.Tile, op.Pos())
	rec := r.l.record(fifo)
	rot := r.rotation(fifo)

	if outstanding := len(rot.held) - rot.released; op.Count > outstanding {
		r.l.fatalf(op.Pos(), "cannot release %d element(s) of %s: only %d held", op.Count, op.Fifo, outstanding)
	}
	var ops []ir.Operation
	for i := 0; i < op.Count; i++ {
		idx := rot.nextRelease
		ops = append(ops, ir.NewUseLock(rec.locks[idx], releaseValue(op.Port), ir.Release, op.Pos()))
		rot.nextRelease = (idx + 1) % rec.depth
	}
	rot.released += op.Count

	here := r.current()
	r.releases = append(r.releases, pendingRelease{fifoID: fifo.ID, count: op.Count, block: here.block, parent: here.parent})
	return ops
}

func (r *coreRewriter) access(op *ir.SubviewAccessOp) {
	sv, ok := r.subviews[op.Subview]
	if !ok {
		exceptions.Panicf("subview %s accessed on %s before any acquire defined it", op.Subview, r.core.Tile)
	}
	if op.Index < 0 || op.Index >= sv.requested {
		r.l.fatalf(op.Pos(), "index %d out of bounds for subview %s of %d element(s)", op.Index, op.Subview, sv.requested)
	}
	r.replace[op.Res] = sv.buffers[op.Index].Ref
}
