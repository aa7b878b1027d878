package objectfifo

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"fifolower/internal/ir"
)

func TestDepth(t *testing.T) {
	cases := []struct {
		name     string
		declared int
		acquires []int
		want     int
	}{
		{"untouched", 2, nil, 0},
		{"single use keeps declared depth one", 1, []int{1}, 1},
		{"single element double buffers", 4, []int{1}, 2},
		{"largest acquire plus one", 1, []int{2, 3, 1}, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := ir.NewDesign()
			prod, cons := d.Tile(1, 2), d.Tile(1, 3)
			fifo := d.AddFifo("of", prod, []*ir.Tile{cons}, tc.declared, elem16())
			b := d.At(d.AddCore(prod).Body)
			for _, n := range tc.acquires {
				b.Acquire(fifo, ir.Produce, n)
			}
			if got := Depth(d, fifo, prod); got != tc.want {
				t.Fatalf("Depth = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestMaxAcquireLooksInsideLoops(t *testing.T) {
	d := ir.NewDesign()
	prod, cons := d.Tile(1, 2), d.Tile(1, 3)
	fifo := d.AddFifo("of", prod, []*ir.Tile{cons}, 2, elem16())
	d.At(d.AddCore(cons).Body).ForConst(0, 4, 1, func(body *ir.BlockBuilder, _ *ir.Value) {
		body.ForConst(0, 2, 1, func(inner *ir.BlockBuilder, _ *ir.Value) {
			inner.Acquire(fifo, ir.Consume, 3)
		})
	})
	if got := MaxAcquire(d, fifo, cons); got != 3 {
		t.Fatalf("MaxAcquire on consumer = %d, want 3", got)
	}
	if got := MaxAcquire(d, fifo, prod); got != 0 {
		t.Fatalf("MaxAcquire on producer = %d, want 0", got)
	}
}

func TestSizes(t *testing.T) {
	d := ir.NewDesign()
	prod := d.Tile(1, 2)
	near, far := d.Tile(1, 3), d.Tile(6, 6)
	shared := d.AddFifo("shared", prod, []*ir.Tile{near}, 2, elem16())
	wide := d.AddFifo("wide", prod, []*ir.Tile{near, far}, 1, elem16())
	pb := d.At(d.AddCore(prod).Body)
	pb.Acquire(shared, ir.Produce, 1)
	pb.Acquire(wide, ir.Produce, 2)
	nb := d.At(d.AddCore(near).Body)
	nb.Acquire(shared, ir.Consume, 2)
	nb.Acquire(wide, ir.Consume, 1)

	want := []SizeEntry{
		{Fifo: "shared", Tile: prod.Coord, Role: "shared", MaxAcquire: 2, Depth: 3},
		{Fifo: "wide", Tile: prod.Coord, Role: "producer", MaxAcquire: 2, Depth: 3},
		{Fifo: "wide", Tile: near.Coord, Role: "consumer", MaxAcquire: 1, Depth: 1},
		{Fifo: "wide", Tile: far.Coord, Role: "consumer", MaxAcquire: 0, Depth: 0},
	}
	if diff := cmp.Diff(want, Sizes(d)); diff != "" {
		t.Fatalf("Sizes mismatch (-want +got):\n%s", diff)
	}
	if d.Fifos[0] != shared || len(d.Buffers) != 0 {
		t.Fatalf("Sizes must not modify the design")
	}
}
