package objectfifo

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"fifolower/internal/config"
	"fifolower/internal/diag"
	"fifolower/internal/ir"
	"fifolower/internal/resources"
)

func elem16() *ir.ElemType {
	return &ir.ElemType{Shape: []int{16}, Elem: "i32"}
}

func lowerDesign(t *testing.T, d *ir.Design) *Report {
	t.Helper()
	var buf bytes.Buffer
	report, err := Lower(d, config.Default(), diag.NewReporter(&buf, "text"))
	if err != nil {
		t.Fatalf("Lower failed: %v\ndiagnostics:\n%s", err, buf.String())
	}
	return report
}

func lowerFails(t *testing.T, d *ir.Design, target config.Target) (error, string) {
	t.Helper()
	var buf bytes.Buffer
	report, err := Lower(d, target, diag.NewReporter(&buf, "text"))
	if err == nil {
		t.Fatalf("expected lowering to fail, got report %s", spew.Sdump(report))
	}
	return err, buf.String()
}

func countLockOps(core *ir.Core, action ir.LockAction) int {
	n := 0
	ir.Walk(core.Body, func(op ir.Operation) bool {
		if u, ok := op.(*ir.UseLockOp); ok && u.Action == action {
			n++
		}
		return true
	})
	return n
}

// pingPong builds a fifo whose producer fills one element per iteration
// and whose consumers drain one element per iteration.
func pingPong(d *ir.Design, prod *ir.Tile, cons []*ir.Tile, trips int64) (*ir.ObjectFifo, *ir.Core, []*ir.Core) {
	fifo := d.AddFifo("of", prod, cons, 2, elem16())
	prodCore := d.AddCore(prod)
	d.At(prodCore.Body).ForConst(0, trips, 1, func(body *ir.BlockBuilder, iv *ir.Value) {
		sv := body.Acquire(fifo, ir.Produce, 1)
		body.Call("fill", false, body.Access(sv, 0), iv)
		body.Release(fifo, ir.Produce, 1)
	})
	var consCores []*ir.Core
	for _, c := range cons {
		core := d.AddCore(c)
		d.At(core.Body).ForConst(0, trips, 1, func(body *ir.BlockBuilder, _ *ir.Value) {
			sv := body.Acquire(fifo, ir.Consume, 1)
			body.Call("drain", false, body.Access(sv, 0))
			body.Release(fifo, ir.Consume, 1)
		})
		consCores = append(consCores, core)
	}
	return fifo, prodCore, consCores
}

func TestSharedFifoDoubleBuffers(t *testing.T) {
	d := ir.NewDesign()
	_, prodCore, consCores := pingPong(d, d.Tile(1, 2), []*ir.Tile{d.Tile(1, 3)}, 10)

	report := lowerDesign(t, d)
	require.Nil(t, d.Fifos)
	require.Len(t, d.Buffers, 2)
	require.Len(t, d.Locks, 2)
	require.Empty(t, d.Mems)
	require.Empty(t, d.Multicasts)

	entry, ok := report.Fifo("of")
	require.True(t, ok)
	require.Equal(t, FifoReport{
		Name:    "of",
		Tile:    ir.Coord{Col: 1, Row: 2},
		Depth:   2,
		Buffers: []string{"buff0", "buff1"},
		LockIDs: []int{0, 1},
	}, entry)

	var wantProd, wantCons []string
	for k := 0; k < 10; k++ {
		lock := fmt.Sprintf("of_lock%d", k%2)
		wantProd = append(wantProd,
			lockEvent(ir.Acquire, lock, 0),
			fmt.Sprintf("fill(buff%d, %d)", k%2, k),
			lockEvent(ir.Release, lock, 1))
		wantCons = append(wantCons,
			lockEvent(ir.Acquire, lock, 1),
			fmt.Sprintf("drain(buff%d)", k%2),
			lockEvent(ir.Release, lock, 0))
	}
	if diff := cmp.Diff(wantProd, simulate(t, prodCore)); diff != "" {
		t.Fatalf("producer trace mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantCons, simulate(t, consCores[0])); diff != "" {
		t.Fatalf("consumer trace mismatch (-want +got):\n%s", diff)
	}

	// One rotation period per loop body.
	require.Equal(t, 2, countLockOps(prodCore, ir.Acquire))
	require.Equal(t, 2, countLockOps(prodCore, ir.Release))
	require.Len(t, report.Loops, 2)
	for _, loop := range report.Loops {
		require.Equal(t, LoopReport{Tile: loop.Tile, Factor: 2, TripCount: 10}, loop)
	}
}

func TestLookAheadAcquireKeepsHeldElements(t *testing.T) {
	d := ir.NewDesign()
	prod, cons := d.Tile(1, 2), d.Tile(1, 3)
	fifo := d.AddFifo("of", prod, []*ir.Tile{cons}, 2, elem16())
	core := d.AddCore(prod)
	b := d.At(core.Body)
	first := b.Acquire(fifo, ir.Produce, 2)
	b.Call("peek", false, b.Access(first, 0), b.Access(first, 1))
	second := b.Acquire(fifo, ir.Produce, 3)
	b.Call("use", false, b.Access(second, 0), b.Access(second, 1), b.Access(second, 2))
	b.Release(fifo, ir.Produce, 3)

	report := lowerDesign(t, d)
	entry, _ := report.Fifo("of")
	require.Equal(t, 4, entry.Depth)

	want := []string{
		lockEvent(ir.Acquire, "of_lock0", 0),
		lockEvent(ir.Acquire, "of_lock1", 0),
		"peek(buff0, buff1)",
		lockEvent(ir.Acquire, "of_lock2", 0),
		"use(buff0, buff1, buff2)",
		lockEvent(ir.Release, "of_lock0", 1),
		lockEvent(ir.Release, "of_lock1", 1),
		lockEvent(ir.Release, "of_lock2", 1),
	}
	if diff := cmp.Diff(want, simulate(t, core)); diff != "" {
		t.Fatalf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestSharedFifoSizedForLargerConsumerWindow(t *testing.T) {
	d := ir.NewDesign()
	prod, cons := d.Tile(1, 2), d.Tile(1, 3)
	fifo := d.AddFifo("of", prod, []*ir.Tile{cons}, 2, elem16())
	pb := d.At(d.AddCore(prod).Body)
	sv := pb.Acquire(fifo, ir.Produce, 1)
	pb.Call("fill", false, pb.Access(sv, 0))
	pb.Release(fifo, ir.Produce, 1)
	consCore := d.AddCore(cons)
	cb := d.At(consCore.Body)
	window := cb.Acquire(fifo, ir.Consume, 3)
	cb.Call("sum", false, cb.Access(window, 0), cb.Access(window, 1), cb.Access(window, 2))
	cb.Release(fifo, ir.Consume, 3)

	report := lowerDesign(t, d)
	entry, ok := report.Fifo("of")
	require.True(t, ok)
	require.Equal(t, 4, entry.Depth, "a shared fifo must fit the larger window of either side")
	require.Len(t, entry.Buffers, 4)
	require.Equal(t, ir.Coord{Col: 1, Row: 2}, entry.Tile)

	want := []string{
		lockEvent(ir.Acquire, "of_lock0", 1),
		lockEvent(ir.Acquire, "of_lock1", 1),
		lockEvent(ir.Acquire, "of_lock2", 1),
		"sum(buff0, buff1, buff2)",
		lockEvent(ir.Release, "of_lock0", 0),
		lockEvent(ir.Release, "of_lock1", 0),
		lockEvent(ir.Release, "of_lock2", 0),
	}
	if diff := cmp.Diff(want, simulate(t, consCore)); diff != "" {
		t.Fatalf("consumer trace mismatch (-want +got):\n%s", diff)
	}
}

func TestRotationRoundTrip(t *testing.T) {
	d := ir.NewDesign()
	prod, cons := d.Tile(1, 2), d.Tile(1, 3)
	fifo := d.AddFifo("of", prod, []*ir.Tile{cons}, 2, elem16())
	core := d.AddCore(prod)
	b := d.At(core.Body)
	for i := 0; i < 2; i++ {
		sv := b.Acquire(fifo, ir.Produce, 2)
		b.Call("fill", false, b.Access(sv, 0), b.Access(sv, 1))
		b.Release(fifo, ir.Produce, 2)
	}

	lowerDesign(t, d)
	want := []string{
		lockEvent(ir.Acquire, "of_lock0", 0),
		lockEvent(ir.Acquire, "of_lock1", 0),
		"fill(buff0, buff1)",
		lockEvent(ir.Release, "of_lock0", 1),
		lockEvent(ir.Release, "of_lock1", 1),
		lockEvent(ir.Acquire, "of_lock2", 0),
		lockEvent(ir.Acquire, "of_lock0", 0),
		"fill(buff2, buff0)",
		lockEvent(ir.Release, "of_lock2", 1),
		lockEvent(ir.Release, "of_lock0", 1),
	}
	if diff := cmp.Diff(want, simulate(t, core)); diff != "" {
		t.Fatalf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestLockExhaustionIsFatal(t *testing.T) {
	t.Run("one fifo", func(t *testing.T) {
		d := ir.NewDesign()
		prod, cons := d.Tile(1, 2), d.Tile(1, 3)
		fifo := d.AddFifo("wide", prod, []*ir.Tile{cons}, 1, elem16())
		d.At(d.AddCore(prod).Body).Acquire(fifo, ir.Produce, 16)

		err, diags := lowerFails(t, d, config.Default())
		require.True(t, errors.Is(err, resources.ErrNoFreeLock), "got %v", err)
		require.Contains(t, diags, "tile(1,2) has all 16 locks in use")
	})
	t.Run("preexisting locks", func(t *testing.T) {
		d := ir.NewDesign()
		prod := d.Tile(1, 2)
		for id := 0; id < 15; id++ {
			d.AddLock(prod, id, "")
		}
		pingPong(d, prod, []*ir.Tile{d.Tile(1, 3)}, 4)

		err, _ := lowerFails(t, d, config.Default())
		require.True(t, errors.Is(err, resources.ErrNoFreeLock), "got %v", err)
	})
}

func TestOverReleaseIsFatal(t *testing.T) {
	d := ir.NewDesign()
	prod, cons := d.Tile(1, 2), d.Tile(1, 3)
	fifo := d.AddFifo("of", prod, []*ir.Tile{cons}, 2, elem16())
	b := d.At(d.AddCore(prod).Body)
	b.Acquire(fifo, ir.Produce, 1)
	b.SetPos(diag.Pos{File: "design.yaml", Line: 7, Column: 9})
	b.Release(fifo, ir.Produce, 2)

	err, diags := lowerFails(t, d, config.Default())
	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, 7, lerr.Pos.Line)
	require.Equal(t, "design.yaml:7:9: error: cannot release 2 element(s) of @of: only 1 held\n", diags)
}

func TestSubviewIndexBeyondRequestIsFatal(t *testing.T) {
	d := ir.NewDesign()
	prod, cons := d.Tile(1, 2), d.Tile(1, 3)
	fifo := d.AddFifo("of", prod, []*ir.Tile{cons}, 2, elem16())
	b := d.At(d.AddCore(prod).Body)
	sv := b.Acquire(fifo, ir.Produce, 1)
	b.Access(sv, 1)

	_, diags := lowerFails(t, d, config.Default())
	require.Contains(t, diags, "index 1 out of bounds for subview")
}

func TestPortMismatchStopsBeforeRewriting(t *testing.T) {
	d := ir.NewDesign()
	fifo, prodCore, _ := pingPong(d, d.Tile(1, 2), []*ir.Tile{d.Tile(1, 3)}, 4)
	d.At(prodCore.Body).Release(fifo, ir.Consume, 1)

	_, diags := lowerFails(t, d, config.Default())
	require.Contains(t, diags, "consumer port of object fifo \"of\" accessed by core running on non-consumer tile(1,2)")
	require.Empty(t, d.Buffers, "nothing may be materialized once validation fails")
}

func TestSplitFifoMulticastsToConsumerHalves(t *testing.T) {
	d := ir.NewDesign()
	prod := d.Tile(1, 2)
	consA, consB := d.Tile(3, 4), d.Tile(5, 4)
	_, prodCore, consCores := pingPong(d, prod, []*ir.Tile{consA, consB}, 4)

	report := lowerDesign(t, d)
	require.Nil(t, d.Fifos)

	var names []string
	for _, f := range report.Fifos {
		names = append(names, fmt.Sprintf("%s@%s/%s:%v", f.Name, f.Tile, f.Parent, f.Buffers))
		require.True(t, f.Split)
	}
	require.Equal(t, []string{
		"of@1,2/:[buff0 buff1]",
		"of_cons0@3,4/of:[buff2 buff3]",
		"of_cons1@5,4/of:[buff4 buff5]",
	}, names)

	require.Len(t, d.Mems, 3)
	send := d.Mems[0]
	require.Equal(t, prod, send.Tile)
	require.Len(t, send.Chains, 1)
	chain := send.Chains[0]
	require.Equal(t, ir.Channel{Dir: ir.Send, Index: 0}, chain.Channel)
	require.Len(t, chain.Descriptors, 2)
	for i, bd := range chain.Descriptors {
		require.Equal(t, fmt.Sprintf("buff%d", i), bd.Buffer.Name)
		require.Equal(t, fmt.Sprintf("of_lock%d", i), bd.Lock.Name)
		require.Equal(t, 1, bd.AcquireValue)
		require.Equal(t, 0, bd.ReleaseValue)
		require.Equal(t, 0, bd.Offset)
		require.Equal(t, 16, bd.Len)
		require.Equal(t, (i+1)%2, chain.Next(i))
	}
	recv := d.Mems[1].Chains[0]
	require.Equal(t, consA, d.Mems[1].Tile)
	require.Equal(t, ir.Channel{Dir: ir.Receive, Index: 0}, recv.Channel)
	require.Equal(t, "of_cons0", recv.Fifo)
	require.Equal(t, 0, recv.Descriptors[0].AcquireValue)
	require.Equal(t, 1, recv.Descriptors[0].ReleaseValue)

	require.Len(t, d.Multicasts, 1)
	mc := d.Multicasts[0]
	require.Equal(t, "of", mc.Fifo)
	require.Equal(t, prod, mc.Source)
	require.Equal(t, ir.Channel{Dir: ir.Send, Index: 0}, mc.Channel)
	require.Equal(t, []ir.MulticastDest{
		{Tile: consA, Channel: ir.Channel{Dir: ir.Receive, Index: 0}},
		{Tile: consB, Channel: ir.Channel{Dir: ir.Receive, Index: 0}},
	}, mc.Dests)

	var wantCons []string
	for k := 0; k < 4; k++ {
		lock := fmt.Sprintf("of_cons1_lock%d", k%2)
		wantCons = append(wantCons,
			lockEvent(ir.Acquire, lock, 1),
			fmt.Sprintf("drain(buff%d)", 4+k%2),
			lockEvent(ir.Release, lock, 0))
	}
	if diff := cmp.Diff(wantCons, simulate(t, consCores[1])); diff != "" {
		t.Fatalf("consumer trace mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, lockEvent(ir.Acquire, "of_lock0", 0), simulate(t, prodCore)[0])
}

func TestDistantSingleConsumerIsSplit(t *testing.T) {
	d := ir.NewDesign()
	pingPong(d, d.Tile(1, 2), []*ir.Tile{d.Tile(1, 5)}, 2)

	report := lowerDesign(t, d)
	_, ok := report.Fifo("of_cons0")
	require.True(t, ok, "expected a consumer half, got %s", spew.Sdump(report.Fifos))
	require.Len(t, d.Multicasts, 1)
}

func TestUntouchedConsumerHalfGetsChannelOnly(t *testing.T) {
	d := ir.NewDesign()
	prod, cons := d.Tile(1, 2), d.Tile(4, 4)
	fifo := d.AddFifo("of", prod, []*ir.Tile{cons}, 2, elem16())
	b := d.At(d.AddCore(prod).Body)
	b.Acquire(fifo, ir.Produce, 1)
	b.Release(fifo, ir.Produce, 1)

	report := lowerDesign(t, d)
	half, ok := report.Fifo("of_cons0")
	require.True(t, ok)
	require.Equal(t, 0, half.Depth)
	require.Empty(t, half.Buffers)
	require.Len(t, d.Mems, 1, "only the producer side has descriptors")
	require.Equal(t, ir.Channel{Dir: ir.Receive, Index: 0}, d.Multicasts[0].Dests[0].Channel)
}

func TestDescriptorChainLimit(t *testing.T) {
	d := ir.NewDesign()
	prod, cons := d.Tile(1, 2), d.Tile(4, 4)
	fifo := d.AddFifo("of", prod, []*ir.Tile{cons}, 2, elem16())
	b := d.At(d.AddCore(prod).Body)
	b.Acquire(fifo, ir.Produce, 2)
	b.Release(fifo, ir.Produce, 2)

	target := must.M1(config.Parse("max_descriptors_per_chain = 2"))
	_, diags := lowerFails(t, d, target)
	require.Contains(t, diags, "@of needs 3 buffer descriptors on tile(1,2) but a chain holds at most 2")
}

func TestChannelExhaustionIsFatal(t *testing.T) {
	d := ir.NewDesign()
	prod := d.Tile(1, 2)
	for i, row := range []int{6, 7, 8} {
		d.AddFifo(fmt.Sprintf("of%d", i), prod, []*ir.Tile{d.Tile(1, row)}, 1, elem16())
	}

	err, diags := lowerFails(t, d, config.Default())
	require.True(t, errors.Is(err, resources.ErrNoFreeChannel), "got %v", err)
	require.Contains(t, diags, "tile(1,2) has all 2 MM2S channels in use")
}

func TestFailedLoweringReturnsNoReport(t *testing.T) {
	d := ir.NewDesign()
	prod, cons := d.Tile(1, 2), d.Tile(1, 3)
	fifo := d.AddFifo("of", prod, []*ir.Tile{cons}, 2, elem16())
	d.At(d.AddCore(prod).Body).Release(fifo, ir.Produce, 1)

	report, err := Lower(d, config.Default(), nil)
	require.Error(t, err)
	require.Nil(t, report)
}

func TestLowerRejectsNilDesign(t *testing.T) {
	_, err := Lower(nil, config.Default(), nil)
	require.Error(t, err)
}

func TestStatefulTransformPass(t *testing.T) {
	d := ir.NewDesign()
	pingPong(d, d.Tile(1, 2), []*ir.Tile{d.Tile(1, 3)}, 4)

	pass := NewStatefulTransform(config.Default(), nil)
	require.Equal(t, "objectfifo-stateful-transform", pass.Name())
	require.NoError(t, pass.Run(d))
	require.NotNil(t, pass.Report())
	require.Len(t, pass.Report().Fifos, 1)
}
