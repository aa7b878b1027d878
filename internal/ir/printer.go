package ir

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a simple human-readable representation of the design.
func Dump(design *Design, w io.Writer) {
	if design == nil {
		fmt.Fprintln(w, "<nil design>")
		return
	}
	dumpTiles(design, w)
	dumpFifos(design, w)
	dumpBuffers(design, w)
	dumpLocks(design, w)
	dumpMems(design, w)
	dumpMulticasts(design, w)
	dumpCores(design, w)
}

func dumpTiles(design *Design, w io.Writer) {
	if len(design.Tiles) == 0 {
		return
	}
	fmt.Fprintln(w, "tiles:")
	for _, t := range design.Tiles {
		fmt.Fprintf(w, "  %s\n", t)
	}
}

func dumpFifos(design *Design, w io.Writer) {
	if len(design.Fifos) == 0 {
		return
	}
	fmt.Fprintln(w, "fifos:")
	for _, f := range design.Fifos {
		consumers := make([]string, 0, len(f.Consumers))
		for _, c := range f.Consumers {
			consumers = append(consumers, c.String())
		}
		fmt.Fprintf(w, "  %-8s %s -> [%s] depth=%d type=%s\n",
			f, f.Producer, strings.Join(consumers, ", "), f.Depth, f.Elem)
	}
}

func dumpBuffers(design *Design, w io.Writer) {
	if len(design.Buffers) == 0 {
		return
	}
	fmt.Fprintln(w, "buffers:")
	for _, b := range design.Buffers {
		fmt.Fprintf(w, "  %-8s %s %s\n", b.Name, b.Tile, b.Type)
	}
}

func dumpLocks(design *Design, w io.Writer) {
	if len(design.Locks) == 0 {
		return
	}
	fmt.Fprintln(w, "locks:")
	for _, l := range design.Locks {
		fmt.Fprintf(w, "  %-12s %s id=%d\n", l, l.Tile, l.ID)
	}
}

func dumpMems(design *Design, w io.Writer) {
	for _, m := range design.Mems {
		fmt.Fprintf(w, "mem %s:\n", m.Tile)
		for _, chain := range m.Chains {
			fmt.Fprintf(w, "  dma %s @%s:\n", chain.Channel, chain.Fifo)
			for i, bd := range chain.Descriptors {
				fmt.Fprintf(w, "    bd%d: acquire(%s, %d) %s[%d:%d] release(%s, %d) next=bd%d\n",
					i, bd.Lock, bd.AcquireValue, bd.Buffer.Name, bd.Offset, bd.Offset+bd.Len,
					bd.Lock, bd.ReleaseValue, chain.Next(i))
			}
		}
	}
}

func dumpMulticasts(design *Design, w io.Writer) {
	for _, mc := range design.Multicasts {
		dests := make([]string, 0, len(mc.Dests))
		for _, d := range mc.Dests {
			dests = append(dests, fmt.Sprintf("%s:%s", d.Tile, d.Channel))
		}
		fmt.Fprintf(w, "multicast @%s %s:%s -> [%s]\n", mc.Fifo, mc.Source, mc.Channel, strings.Join(dests, ", "))
	}
}

func dumpCores(design *Design, w io.Writer) {
	for _, core := range design.Cores {
		fmt.Fprintf(w, "core %s {\n", core.Tile)
		dumpBlock(core.Body, w, 1)
		fmt.Fprintln(w, "}")
	}
}

func dumpBlock(block *Block, w io.Writer, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, op := range block.Ops {
		if loop, ok := op.(*ForOp); ok {
			fmt.Fprintf(w, "%sfor %s = %s to %s step %s {\n", indent, loop.Induction, loop.Lower, loop.Upper, loop.Step)
			dumpBlock(loop.Body, w, depth+1)
			fmt.Fprintf(w, "%s}\n", indent)
			continue
		}
		fmt.Fprintf(w, "%s%s\n", indent, RenderOp(op))
	}
}

// RenderOp formats a single non-loop operation.
func RenderOp(op Operation) string {
	switch o := op.(type) {
	case *ConstantOp:
		return fmt.Sprintf("%s = constant %d", o.Res, o.Value)
	case *ArithOp:
		return fmt.Sprintf("%s = %s %s, %s", o.Res, o.Kind, o.Lhs, o.Rhs)
	case *CallOp:
		args := make([]string, 0, len(o.Args))
		for _, a := range o.Args {
			args = append(args, a.String())
		}
		if o.Res != nil {
			return fmt.Sprintf("%s = call @%s(%s)", o.Res, o.Callee, strings.Join(args, ", "))
		}
		return fmt.Sprintf("call @%s(%s)", o.Callee, strings.Join(args, ", "))
	case *ForOp:
		return fmt.Sprintf("for %s = %s to %s step %s", o.Induction, o.Lower, o.Upper, o.Step)
	case *AcquireOp:
		return fmt.Sprintf("%s = objectfifo.acquire %s(%s, %d)", o.Subview, o.Fifo, o.Port, o.Count)
	case *ReleaseOp:
		return fmt.Sprintf("objectfifo.release %s(%s, %d)", o.Fifo, o.Port, o.Count)
	case *SubviewAccessOp:
		return fmt.Sprintf("%s = objectfifo.subview.access %s[%d]", o.Res, o.Subview, o.Index)
	case *UseLockOp:
		return fmt.Sprintf("use_lock(%s, %s, %d)", o.Lock, o.Action, o.Value)
	default:
		return fmt.Sprintf("<unknown op %T>", op)
	}
}
