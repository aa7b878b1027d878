package ir

// Walk visits every operation of block in program order, descending into
// loop bodies after visiting the loop itself. Returning false from fn skips
// the body of the visited loop.
func Walk(block *Block, fn func(op Operation) bool) {
	if block == nil {
		return
	}
	for _, op := range block.Ops {
		descend := fn(op)
		if loop, ok := op.(*ForOp); ok && descend {
			Walk(loop.Body, fn)
		}
	}
}

// WalkLoopsPostOrder calls fn for every loop nested in block, inner loops
// before the loops containing them.
func WalkLoopsPostOrder(block *Block, fn func(loop *ForOp)) {
	if block == nil {
		return
	}
	for _, op := range block.Ops {
		if loop, ok := op.(*ForOp); ok {
			WalkLoopsPostOrder(loop.Body, fn)
			fn(loop)
		}
	}
}

// EnclosingBlock returns the block containing loop, searching from root.
func EnclosingBlock(root *Block, loop *ForOp) *Block {
	var found *Block
	var visit func(b *Block) bool
	visit = func(b *Block) bool {
		for _, op := range b.Ops {
			if op == Operation(loop) {
				found = b
				return true
			}
			if inner, ok := op.(*ForOp); ok && visit(inner.Body) {
				return true
			}
		}
		return false
	}
	if root != nil {
		visit(root)
	}
	return found
}

// IndexOf returns the position of op in block or -1.
func (b *Block) IndexOf(op Operation) int {
	for i, o := range b.Ops {
		if o == op {
			return i
		}
	}
	return -1
}

// Replace substitutes op with ops in place.
func (b *Block) Replace(op Operation, ops ...Operation) bool {
	idx := b.IndexOf(op)
	if idx < 0 {
		return false
	}
	out := make([]Operation, 0, len(b.Ops)-1+len(ops))
	out = append(out, b.Ops[:idx]...)
	out = append(out, ops...)
	out = append(out, b.Ops[idx+1:]...)
	b.Ops = out
	return true
}

// InsertBefore inserts ops before op.
func (b *Block) InsertBefore(op Operation, ops ...Operation) bool {
	idx := b.IndexOf(op)
	if idx < 0 {
		return false
	}
	out := make([]Operation, 0, len(b.Ops)+len(ops))
	out = append(out, b.Ops[:idx]...)
	out = append(out, ops...)
	out = append(out, b.Ops[idx:]...)
	b.Ops = out
	return true
}

// InsertAfter inserts ops after op.
func (b *Block) InsertAfter(op Operation, ops ...Operation) bool {
	idx := b.IndexOf(op)
	if idx < 0 {
		return false
	}
	out := make([]Operation, 0, len(b.Ops)+len(ops))
	out = append(out, b.Ops[:idx+1]...)
	out = append(out, ops...)
	out = append(out, b.Ops[idx+1:]...)
	b.Ops = out
	return true
}
