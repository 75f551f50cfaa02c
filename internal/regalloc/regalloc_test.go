package regalloc

import (
	"testing"

	"github.com/openSVM/ovsmc/internal/ir"
)

// program builds a minimal ir.Program from a straight-line instruction
// list, enough for Allocate to compute live ranges over.
func program(instrs ...ir.Instr) *ir.Program {
	return &ir.Program{Instructions: instrs}
}

func TestAllocateSmallProgramNoInterferenceConflicts(t *testing.T) {
	// r8 and r9 are both live into the Add, so they interfere and must
	// receive distinct physical registers; r10 is unrelated and just
	// needs a valid assignment.
	prog := program(
		&ir.ConstI64{Dst: 8, Value: 1},
		&ir.ConstI64{Dst: 9, Value: 2},
		&ir.Add{Dst: 10, A: 8, B: 9},
		&ir.Return{Value: regPtr(10)},
	)

	result := New().Allocate(prog)

	p8, ok8 := result.Get(8)
	p9, ok9 := result.Get(9)
	if !ok8 || !ok9 {
		t.Fatalf("expected r8 and r9 to be allocated, not spilled: ok8=%v ok9=%v", ok8, ok9)
	}
	if p8 == p9 {
		t.Fatalf("r8 and r9 interfere but got the same physical register %v", p8)
	}
	if _, ok := result.Get(10); !ok && !result.IsSpilled(10) {
		t.Fatal("r10 neither allocated nor spilled")
	}
}

func TestAllocatePrecoloredRegistersKeepColor(t *testing.T) {
	prog := program(
		&ir.ConstI64{Dst: 1, Value: 0}, // collides with ABI R1
		&ir.ConstI64{Dst: 2, Value: 0}, // collides with ABI R2
		&ir.Add{Dst: 20, A: 1, B: 2},
		&ir.Return{Value: regPtr(20)},
	)

	result := New().Allocate(prog)

	if phys, ok := result.Get(1); !ok || phys != R1 {
		t.Fatalf("virtual register 1 (precolored) = %v, %v; want R1", phys, ok)
	}
	if phys, ok := result.Get(2); !ok || phys != R2 {
		t.Fatalf("virtual register 2 (precolored) = %v, %v; want R2", phys, ok)
	}
}

func TestAllocateInterferingRegistersGetDistinctColors(t *testing.T) {
	// Five independent values all live simultaneously at the final Add
	// chain exhausts the five available colors; a sixth live-at-once
	// value must spill rather than collide.
	prog := program(
		&ir.ConstI64{Dst: 10, Value: 1},
		&ir.ConstI64{Dst: 11, Value: 2},
		&ir.ConstI64{Dst: 12, Value: 3},
		&ir.ConstI64{Dst: 13, Value: 4},
		&ir.ConstI64{Dst: 14, Value: 5},
		&ir.ConstI64{Dst: 15, Value: 6},
		&ir.Add{Dst: 16, A: 10, B: 11},
		&ir.Add{Dst: 17, A: 12, B: 13},
		&ir.Add{Dst: 18, A: 14, B: 15},
		&ir.Add{Dst: 19, A: 16, B: 17},
		&ir.Add{Dst: 20, A: 19, B: 18},
		&ir.Return{Value: regPtr(20)},
	)

	result := New().Allocate(prog)

	live := []ir.IrReg{10, 11, 12, 13, 14, 15}
	colorOf := map[ir.IrReg]Reg{}
	spillOffsets := map[int16]ir.IrReg{}
	for _, r := range live {
		if result.IsSpilled(r) {
			off, _ := result.SpillOffset(r)
			if prior, dup := spillOffsets[off]; dup {
				t.Fatalf("registers %v and %v share spill offset %d", prior, r, off)
			}
			spillOffsets[off] = r
			continue
		}
		phys, ok := result.Get(r)
		if !ok {
			t.Fatalf("register %v neither allocated nor spilled", r)
		}
		colorOf[r] = phys
	}

	seen := map[Reg]bool{}
	for r, c := range colorOf {
		if seen[c] {
			t.Fatalf("two simultaneously-live registers (one is %v) share physical register %v", r, c)
		}
		seen[c] = true
	}
}

func TestAllocateIsDeterministic(t *testing.T) {
	build := func() *ir.Program {
		return program(
			&ir.ConstI64{Dst: 3, Value: 1},
			&ir.ConstI64{Dst: 4, Value: 2},
			&ir.ConstI64{Dst: 5, Value: 3},
			&ir.Add{Dst: 6, A: 3, B: 4},
			&ir.Add{Dst: 7, A: 6, B: 5},
			&ir.Return{Value: regPtr(7)},
		)
	}

	first := New().Allocate(build())
	second := New().Allocate(build())

	for _, r := range []ir.IrReg{3, 4, 5, 6, 7} {
		p1, ok1 := first.Get(r)
		p2, ok2 := second.Get(r)
		s1, sok1 := first.SpillOffset(r)
		s2, sok2 := second.SpillOffset(r)
		if ok1 != ok2 || p1 != p2 || sok1 != sok2 || s1 != s2 {
			t.Fatalf("register %v allocated differently across identical runs: (%v,%v,%v,%v) vs (%v,%v,%v,%v)",
				r, p1, ok1, s1, sok1, p2, ok2, s2, sok2)
		}
	}
}

func regPtr(r ir.IrReg) *ir.IrReg { return &r }
