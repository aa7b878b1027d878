package objectfifo

import (
	"fmt"
	"strings"
	"testing"

	"fifolower/internal/ir"
)

// simulate runs a lowered core program and records every call and lock
// operation it performs. Call results evaluate to 0.
func simulate(t *testing.T, core *ir.Core) []string {
	t.Helper()
	s := &simulator{t: t, vals: make(map[*ir.Value]int64)}
	s.run(core.Body)
	return s.trace
}

type simulator struct {
	t     *testing.T
	vals  map[*ir.Value]int64
	trace []string
}

func (s *simulator) run(block *ir.Block) {
	for _, op := range block.Ops {
		switch o := op.(type) {
		case *ir.ConstantOp:
			s.vals[o.Res] = o.Value
		case *ir.ArithOp:
			if o.Kind == ir.MulI {
				s.vals[o.Res] = s.vals[o.Lhs] * s.vals[o.Rhs]
			} else {
				s.vals[o.Res] = s.vals[o.Lhs] + s.vals[o.Rhs]
			}
		case *ir.CallOp:
			args := make([]string, 0, len(o.Args))
			for _, a := range o.Args {
				if a.Buffer != nil {
					args = append(args, a.Buffer.Name)
					continue
				}
				args = append(args, fmt.Sprint(s.vals[a]))
			}
			s.trace = append(s.trace, fmt.Sprintf("%s(%s)", o.Callee, strings.Join(args, ", ")))
			if o.Res != nil {
				s.vals[o.Res] = 0
			}
		case *ir.ForOp:
			if s.vals[o.Step] <= 0 {
				s.t.Fatalf("loop with non-positive step %d", s.vals[o.Step])
			}
			for i := s.vals[o.Lower]; i < s.vals[o.Upper]; i += s.vals[o.Step] {
				s.vals[o.Induction] = i
				s.run(o.Body)
			}
		case *ir.UseLockOp:
			s.trace = append(s.trace, lockEvent(o.Action, o.Lock.Name, o.Value))
		default:
			s.t.Fatalf("logical operation survived lowering: %s", ir.RenderOp(op))
		}
	}
}

func lockEvent(action ir.LockAction, lock string, value int) string {
	return fmt.Sprintf("%s %s %d", strings.ToLower(action.String()), lock, value)
}

func countPrefix(trace []string, prefix string) int {
	n := 0
	for _, line := range trace {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}
