package ir

import "fifolower/internal/diag"

// Operation is implemented by every IR operation node. The set is closed:
// only types in this package satisfy it.
type Operation interface {
	Operands() []*Value
	SetOperand(i int, v *Value)
	Result() *Value
	Pos() diag.Pos
	isOperation()
}

type opBase struct {
	Source diag.Pos
}

func (o *opBase) Pos() diag.Pos { return o.Source }

func (*opBase) isOperation() {}

// ConstantOp materializes an integer constant.
type ConstantOp struct {
	opBase
	Res   *Value
	Value int64
}

func (*ConstantOp) Operands() []*Value     { return nil }
func (*ConstantOp) SetOperand(int, *Value) {}
func (o *ConstantOp) Result() *Value       { return o.Res }

// ArithKind enumerates integer arithmetic.
type ArithKind int

const (
	AddI ArithKind = iota
	MulI
)

func (k ArithKind) String() string {
	if k == MulI {
		return "muli"
	}
	return "addi"
}

// ArithOp is a binary integer operation.
type ArithOp struct {
	opBase
	Kind ArithKind
	Res  *Value
	Lhs  *Value
	Rhs  *Value
}

func (o *ArithOp) Operands() []*Value { return []*Value{o.Lhs, o.Rhs} }

func (o *ArithOp) SetOperand(i int, v *Value) {
	switch i {
	case 0:
		o.Lhs = v
	case 1:
		o.Rhs = v
	}
}

func (o *ArithOp) Result() *Value { return o.Res }

// CallOp is an ordinary instruction, typically a kernel invocation that
// reads and writes fifo buffers. Res is nil for calls without a result.
type CallOp struct {
	opBase
	Callee string
	Args   []*Value
	Res    *Value
}

func (o *CallOp) Operands() []*Value { return o.Args }

func (o *CallOp) SetOperand(i int, v *Value) {
	if i >= 0 && i < len(o.Args) {
		o.Args[i] = v
	}
}

func (o *CallOp) Result() *Value { return o.Res }

// ForOp is a counted loop running Induction from Lower while < Upper.
type ForOp struct {
	opBase
	Induction *Value
	Lower     *Value
	Upper     *Value
	Step      *Value
	Body      *Block
}

func (o *ForOp) Operands() []*Value { return []*Value{o.Lower, o.Upper, o.Step} }

func (o *ForOp) SetOperand(i int, v *Value) {
	switch i {
	case 0:
		o.Lower = v
	case 1:
		o.Upper = v
	case 2:
		o.Step = v
	}
}

func (*ForOp) Result() *Value { return nil }

// ConstBounds returns the loop bounds when all three are constants.
func (o *ForOp) ConstBounds() (lower, upper, step int64, ok bool) {
	var okL, okU, okS bool
	lower, okL = o.Lower.ConstInt()
	upper, okU = o.Upper.ConstInt()
	step, okS = o.Step.ConstInt()
	return lower, upper, step, okL && okU && okS
}

// AcquireOp is a logical acquire of Count elements of Fifo. Subview is
// the window of held elements it returns.
type AcquireOp struct {
	opBase
	Fifo    *ObjectFifo
	Port    Port
	Count   int
	Subview *Value
}

func (*AcquireOp) Operands() []*Value     { return nil }
func (*AcquireOp) SetOperand(int, *Value) {}
func (o *AcquireOp) Result() *Value       { return o.Subview }

// ReleaseOp is a logical release of Count elements of Fifo.
type ReleaseOp struct {
	opBase
	Fifo  *ObjectFifo
	Port  Port
	Count int
}

func (*ReleaseOp) Operands() []*Value     { return nil }
func (*ReleaseOp) SetOperand(int, *Value) {}
func (*ReleaseOp) Result() *Value         { return nil }

// SubviewAccessOp reads element Index of a subview.
type SubviewAccessOp struct {
	opBase
	Subview *Value
	Index   int
	Res     *Value
}

func (o *SubviewAccessOp) Operands() []*Value { return []*Value{o.Subview} }

func (o *SubviewAccessOp) SetOperand(i int, v *Value) {
	if i == 0 {
		o.Subview = v
	}
}

func (o *SubviewAccessOp) Result() *Value { return o.Res }

// UseLockOp acquires or releases a lock with a value.
type UseLockOp struct {
	opBase
	Lock   *Lock
	Value  int
	Action LockAction
}

func (*UseLockOp) Operands() []*Value     { return nil }
func (*UseLockOp) SetOperand(int, *Value) {}
func (*UseLockOp) Result() *Value         { return nil }

// IsLogical reports whether op is a fifo construct that lowering removes.
func IsLogical(op Operation) bool {
	switch op.(type) {
	case *AcquireOp, *ReleaseOp, *SubviewAccessOp:
		return true
	}
	return false
}
