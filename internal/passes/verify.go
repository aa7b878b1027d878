package passes

import (
	"fmt"

	"github.com/pkg/errors"

	"fifolower/internal/config"
	"fifolower/internal/diag"
	"fifolower/internal/ir"
	"fifolower/internal/tilegrid"
)

// LoweredVerifier checks that a lowered design is self-consistent: no
// logical fifo construct is left, lock ids are unique and in range on every
// tile, descriptor chains are well formed, and cores only touch locks they
// can reach.
type LoweredVerifier struct {
	target   config.Target
	reporter *diag.Reporter
	errCount int
}

// NewLoweredVerifier constructs the pass. reporter is optional but
// recommended so the pass can surface precise diagnostics.
func NewLoweredVerifier(target config.Target, reporter *diag.Reporter) *LoweredVerifier {
	return &LoweredVerifier{target: target, reporter: reporter}
}

// Name implements the Pass interface.
func (v *LoweredVerifier) Name() string {
	return "verify-lowered"
}

// Run executes the pass over the entire design.
func (v *LoweredVerifier) Run(design *ir.Design) error {
	if design == nil {
		return errors.New("lowered verifier requires a non-nil design")
	}
	v.errCount = 0
	if len(design.Fifos) > 0 {
		v.report(design.Fifos[0].Source, "%d logical object fifo(s) remain after lowering", len(design.Fifos))
	}
	v.checkLocks(design)
	v.checkChains(design)
	grid := tilegrid.New(design)
	for _, core := range design.Cores {
		v.checkCore(grid, core)
	}
	if v.errCount > 0 {
		return errors.Errorf("lowered design failed verification with %d issue(s)", v.errCount)
	}
	return nil
}

func (v *LoweredVerifier) checkLocks(design *ir.Design) {
	seen := make(map[ir.Coord]map[int]*ir.Lock)
	for _, lock := range design.Locks {
		if lock.ID < 0 || lock.ID >= v.target.LocksPerTile {
			v.report(diag.NoPos, "%s on %s has id %d outside [0,%d)", lock, lock.Tile, lock.ID, v.target.LocksPerTile)
		}
		ids, ok := seen[lock.Tile.Coord]
		if !ok {
			ids = make(map[int]*ir.Lock)
			seen[lock.Tile.Coord] = ids
		}
		if prev, dup := ids[lock.ID]; dup {
			v.report(diag.NoPos, "%s and %s share lock id %d on %s", prev, lock, lock.ID, lock.Tile)
		}
		ids[lock.ID] = lock
	}
}

func (v *LoweredVerifier) checkChains(design *ir.Design) {
	for _, mem := range design.Mems {
		for _, chain := range mem.Chains {
			if len(chain.Descriptors) == 0 {
				v.report(diag.NoPos, "descriptor chain %s of @%s on %s is empty", chain.Channel, chain.Fifo, mem.Tile)
				continue
			}
			if len(chain.Descriptors) > v.target.MaxDescriptorsPerChain {
				v.report(diag.NoPos, "descriptor chain %s of @%s on %s has %d descriptors; at most %d allowed",
					chain.Channel, chain.Fifo, mem.Tile, len(chain.Descriptors), v.target.MaxDescriptorsPerChain)
			}
			if last := len(chain.Descriptors) - 1; chain.Next(last) != 0 {
				v.report(diag.NoPos, "descriptor chain %s of @%s on %s does not wrap around", chain.Channel, chain.Fifo, mem.Tile)
			}
			for i, bd := range chain.Descriptors {
				switch {
				case bd.Buffer == nil || bd.Lock == nil:
					v.report(diag.NoPos, "descriptor %d of chain %s on %s lacks a buffer or lock", i, chain.Channel, mem.Tile)
				case bd.Buffer.Tile != mem.Tile || bd.Lock.Tile != mem.Tile:
					v.report(diag.NoPos, "descriptor %d of chain %s on %s moves %s guarded by %s from another tile",
						i, chain.Channel, mem.Tile, bd.Buffer.Name, bd.Lock)
				case bd.Offset < 0 || bd.Offset+bd.Len > bd.Buffer.Type.Len():
					v.report(diag.NoPos, "descriptor %d of chain %s on %s covers [%d:%d] outside %s",
						i, chain.Channel, mem.Tile, bd.Offset, bd.Offset+bd.Len, bd.Buffer.Name)
				}
			}
		}
	}
}

func (v *LoweredVerifier) checkCore(grid *tilegrid.Grid, core *ir.Core) {
	reach := map[ir.Coord]bool{core.Tile.Coord: true}
	for _, t := range grid.Reachable(core.Tile) {
		reach[t.Coord] = true
	}
	ir.Walk(core.Body, func(op ir.Operation) bool {
		if ir.IsLogical(op) {
			v.report(op.Pos(), "logical operation %q remains on %s", ir.RenderOp(op), core.Tile)
			return true
		}
		if u, ok := op.(*ir.UseLockOp); ok && u.Lock != nil && !reach[u.Lock.Tile.Coord] {
			v.report(op.Pos(), "core on %s uses %s on unreachable %s", core.Tile, u.Lock, u.Lock.Tile)
		}
		return true
	})
}

func (v *LoweredVerifier) report(pos diag.Pos, format string, args ...any) {
	v.errCount++
	if v.reporter == nil {
		return
	}
	v.reporter.Error(pos, fmt.Sprintf(format, args...))
}
