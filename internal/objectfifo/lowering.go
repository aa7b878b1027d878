// Package objectfifo lowers logical object fifos into buffers, locks,
// descriptor chains and lock operations.
//
// The lowering runs in a fixed order: every fifo is sized and materialized,
// loops touching fifos are unrolled until each fifo's rotation is static,
// and finally every core program has its acquire, release and subview
// accesses replaced by lock operations and buffer references.
package objectfifo

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"fifolower/internal/config"
	"fifolower/internal/diag"
	"fifolower/internal/ir"
	"fifolower/internal/resources"
	"fifolower/internal/tilegrid"
	"fifolower/internal/validate"
)

// Error is a fatal lowering diagnostic.
type Error struct {
	Pos diag.Pos
	Err error
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %v", e.Pos, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Report summarizes what a lowering produced.
type Report struct {
	Fifos []FifoReport
	Loops []LoopReport
}

// FifoReport describes one materialized fifo (or fifo half).
type FifoReport struct {
	Name    string
	Parent  string
	Tile    ir.Coord
	Depth   int
	Split   bool
	Buffers []string
	LockIDs []int
}

// LoopReport describes one unrolled loop.
type LoopReport struct {
	Tile      ir.Coord
	Factor    int64
	TripCount int64
	Full      bool
	Remainder int64
}

// Fifo returns the report entry called name.
func (r *Report) Fifo(name string) (FifoReport, bool) {
	for _, f := range r.Fifos {
		if f.Name == name {
			return f, true
		}
	}
	return FifoReport{}, false
}

// StatefulTransform is the object fifo lowering as a pass.
type StatefulTransform struct {
	target   config.Target
	reporter *diag.Reporter
	report   *Report
}

// NewStatefulTransform constructs the pass. reporter may be nil.
func NewStatefulTransform(target config.Target, reporter *diag.Reporter) *StatefulTransform {
	return &StatefulTransform{target: target, reporter: reporter}
}

// Name implements the Pass interface.
func (p *StatefulTransform) Name() string {
	return "objectfifo-stateful-transform"
}

// Run lowers design in place.
func (p *StatefulTransform) Run(design *ir.Design) error {
	report, err := Lower(design, p.target, p.reporter)
	p.report = report
	return err
}

// Report returns the summary of the last successful run.
func (p *StatefulTransform) Report() *Report {
	return p.report
}

// Lower rewrites every logical fifo construct of design into concrete
// resources. On error no report is returned and the design is unusable:
// validation failures leave it untouched, later failures may not.
func Lower(design *ir.Design, target config.Target, reporter *diag.Reporter) (*Report, error) {
	if design == nil {
		return nil, errors.New("object fifo lowering requires a non-nil design")
	}
	if reporter == nil {
		reporter = diag.NewReporter(nil, "text")
	}
	if err := validate.CheckDesign(design, target, reporter); err != nil {
		return nil, errors.Wrap(err, "object fifo lowering")
	}

	var report *Report
	err := exceptions.TryCatch[error](func() {
		l := newLowering(design, target)
		l.materialize()
		l.unrollLoops()
		l.rewriteCores()
		l.removeLogical()
		report = l.report
	})
	if err != nil {
		var lerr *Error
		if errors.As(err, &lerr) {
			reporter.Error(lerr.Pos, lerr.Err.Error())
		} else {
			reporter.Errorf("%v", err)
		}
		return nil, err
	}
	return report, nil
}

// fifoRecord holds everything the lowering knows about one fifo, indexed
// by the fifo's id.
type fifoRecord struct {
	fifo    *ir.ObjectFifo
	tile    *ir.Tile
	depth   int
	buffers []*ir.Buffer
	locks   []*ir.Lock
	halves  []*ir.ObjectFifo
}

type lowering struct {
	design    *ir.Design
	target    config.Target
	alloc     *resources.Allocator
	grid      *tilegrid.Grid
	records   []*fifoRecord
	fifoTiles map[ir.Coord]bool
	buffIndex int
	report    *Report
}

func newLowering(design *ir.Design, target config.Target) *lowering {
	return &lowering{
		design:    design,
		target:    target,
		alloc:     resources.NewAllocator(target, design),
		grid:      tilegrid.New(design),
		fifoTiles: make(map[ir.Coord]bool),
		report:    &Report{},
	}
}

func (l *lowering) record(fifo *ir.ObjectFifo) *fifoRecord {
	for len(l.records) <= fifo.ID {
		l.records = append(l.records, nil)
	}
	rec := l.records[fifo.ID]
	if rec == nil {
		rec = &fifoRecord{fifo: fifo}
		l.records[fifo.ID] = rec
	}
	return rec
}

// resolve maps a fifo used through port on tile to the fifo whose
// resources that tile owns: the consumer half when the fifo was split.
func (l *lowering) resolve(fifo *ir.ObjectFifo, port ir.Port, tile *ir.Tile, pos diag.Pos) *ir.ObjectFifo {
	rec := l.record(fifo)
	if port == ir.Produce || rec.halves == nil {
		return fifo
	}
	for _, half := range rec.halves {
		if half.Producer == tile {
			return half
		}
	}
	l.fatalf(pos, "object fifo %q has no consumer half on %s", fifo.Name, tile)
	return nil
}

func (l *lowering) removeLogical() {
	for _, core := range l.design.Cores {
		ir.Walk(core.Body, func(op ir.Operation) bool {
			if ir.IsLogical(op) {
				exceptions.Panicf("logical operation %q survived rewriting on %s", ir.RenderOp(op), core.Tile)
			}
			return true
		})
	}
	klog.V(1).Infof("removing %d logical object fifo(s)", len(l.design.Fifos))
	l.design.Fifos = nil
}

func (l *lowering) fatalf(pos diag.Pos, format string, args ...any) {
	panic(&Error{Pos: pos, Err: errors.Errorf(format, args...)})
}

func (l *lowering) fail(pos diag.Pos, err error) {
	panic(&Error{Pos: pos, Err: err})
}
