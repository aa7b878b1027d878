package ir

// Cloner copies operations. Operands found in Map are rewired to their
// mapped value; otherwise Resolve (when set) may substitute them, and any
// remaining operand is shared with the original. Every result defined by a
// cloned operation is added to Map, so later clones see earlier ones.
type Cloner struct {
	Design  *Design
	Map     map[*Value]*Value
	Resolve func(v *Value) *Value
}

// NewCloner returns a cloner with an empty map.
func NewCloner(d *Design) *Cloner {
	return &Cloner{Design: d, Map: make(map[*Value]*Value)}
}

func (c *Cloner) operand(v *Value) *Value {
	if v == nil {
		return nil
	}
	if mapped, ok := c.Map[v]; ok {
		return mapped
	}
	if c.Resolve != nil {
		if r := c.Resolve(v); r != nil {
			return r
		}
	}
	return v
}

func (c *Cloner) result(old *Value, def Operation) *Value {
	if old == nil {
		return nil
	}
	nv := c.Design.NewValue(valuePrefix(old))
	nv.Def = def
	c.Map[old] = nv
	return nv
}

// Clone copies op, recursing into loop bodies.
func (c *Cloner) Clone(op Operation) Operation {
	switch o := op.(type) {
	case *ConstantOp:
		n := &ConstantOp{opBase: o.opBase, Value: o.Value}
		n.Res = c.result(o.Res, n)
		return n
	case *ArithOp:
		n := &ArithOp{opBase: o.opBase, Kind: o.Kind, Lhs: c.operand(o.Lhs), Rhs: c.operand(o.Rhs)}
		n.Res = c.result(o.Res, n)
		return n
	case *CallOp:
		n := &CallOp{opBase: o.opBase, Callee: o.Callee, Args: make([]*Value, len(o.Args))}
		for i, a := range o.Args {
			n.Args[i] = c.operand(a)
		}
		n.Res = c.result(o.Res, n)
		return n
	case *ForOp:
		n := &ForOp{
			opBase: o.opBase,
			Lower:  c.operand(o.Lower),
			Upper:  c.operand(o.Upper),
			Step:   c.operand(o.Step),
		}
		n.Induction = c.Design.NewValue("i")
		n.Induction.Loop = n
		c.Map[o.Induction] = n.Induction
		n.Body = &Block{Parent: n, Ops: make([]Operation, 0, len(o.Body.Ops))}
		for _, inner := range o.Body.Ops {
			n.Body.Ops = append(n.Body.Ops, c.Clone(inner))
		}
		return n
	case *AcquireOp:
		n := &AcquireOp{opBase: o.opBase, Fifo: o.Fifo, Port: o.Port, Count: o.Count}
		n.Subview = c.result(o.Subview, n)
		return n
	case *ReleaseOp:
		n := *o
		return &n
	case *SubviewAccessOp:
		n := &SubviewAccessOp{opBase: o.opBase, Subview: c.operand(o.Subview), Index: o.Index}
		n.Res = c.result(o.Res, n)
		return n
	case *UseLockOp:
		n := *o
		return &n
	default:
		panic("ir: clone of unknown operation")
	}
}

func valuePrefix(v *Value) string {
	switch v.Def.(type) {
	case *ConstantOp:
		return "c"
	case *AcquireOp:
		return "sv"
	case *SubviewAccessOp:
		return "e"
	case *CallOp:
		return "r"
	}
	return "v"
}
