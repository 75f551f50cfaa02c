// Package regalloc implements Chaitin-style graph-coloring register
// allocation over the IR, targeting sBPF's five general-purpose
// registers available outside the calling convention (R3, R4, R5, R8,
// R9).
package regalloc

import (
	"sort"

	"github.com/samber/lo"

	"github.com/openSVM/ovsmc/internal/ir"
)

// Reg is a physical sBPF register.
type Reg int

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
)

// LiveRange is the [def_point, last_use] instruction-index span during
// which a virtual register holds a live value.
type LiveRange struct {
	DefPoint     int
	LastUse      int
	IsLargeConst bool
}

// Edge is a normalized, deduplicated interference-graph edge.
type Edge struct{ A, B ir.IrReg }

func newEdge(a, b ir.IrReg) Edge {
	if a < b {
		return Edge{a, b}
	}
	return Edge{b, a}
}

// Allocator runs the simplify/spill/select graph-coloring algorithm.
type Allocator struct {
	availableRegs []Reg
	k             int

	liveRanges   map[ir.IrReg]LiveRange
	interference map[ir.IrReg]map[ir.IrReg]bool
	precolored   map[ir.IrReg]Reg

	allocation map[ir.IrReg]Reg
	spills     map[ir.IrReg]int16

	nextSpillOffset int16
}

// New creates an allocator with R1, R2, R6 and R7 pre-colored for the
// ABI, matching the calling convention sBPF programs run under.
func New() *Allocator {
	return &Allocator{
		// Callee-saved first (survive syscalls), then caller-saved.
		availableRegs: []Reg{R9, R8, R5, R4, R3},
		k:             5,
		liveRanges:    map[ir.IrReg]LiveRange{},
		interference:  map[ir.IrReg]map[ir.IrReg]bool{},
		precolored: map[ir.IrReg]Reg{
			1: R1,
			2: R2,
			6: R6,
			7: R7,
		},
		allocation:      map[ir.IrReg]Reg{},
		spills:          map[ir.IrReg]int16{},
		nextSpillOffset: -8,
	}
}

// Result is the outcome of Allocate: a virtual-to-physical register
// mapping, a set of spilled registers with their stack offsets, and the
// stack frame size those spills require.
type Result struct {
	Allocation map[ir.IrReg]Reg
	Spills     map[ir.IrReg]int16
	FrameSize  int16
}

func (r *Result) Get(reg ir.IrReg) (Reg, bool) {
	v, ok := r.Allocation[reg]
	return v, ok
}

func (r *Result) IsSpilled(reg ir.IrReg) bool {
	_, ok := r.Spills[reg]
	return ok
}

func (r *Result) SpillOffset(reg ir.IrReg) (int16, bool) {
	v, ok := r.Spills[reg]
	return v, ok
}

// Allocate runs the four-step pipeline: compute live ranges, build the
// interference graph, color it, then report the result.
func (a *Allocator) Allocate(prog *ir.Program) *Result {
	a.computeLiveRanges(prog)
	a.buildInterferenceGraph()
	a.colorGraph()

	frame := -a.nextSpillOffset
	if frame < 0 {
		frame = 0
	}
	return &Result{Allocation: a.allocation, Spills: a.spills, FrameSize: frame}
}

func (a *Allocator) computeLiveRanges(prog *ir.Program) {
	defs := map[ir.IrReg]int{}
	uses := map[ir.IrReg]int{}
	isLargeConst := map[ir.IrReg]bool{}

	for idx, instr := range prog.Instructions {
		d, u, large := ir.ExtractRegs(instr)
		for _, reg := range d {
			if _, ok := defs[reg]; !ok {
				defs[reg] = idx
			}
			if large {
				isLargeConst[reg] = true
			}
		}
		for _, reg := range u {
			uses[reg] = idx
		}
	}

	for reg, defIdx := range defs {
		lastUse, ok := uses[reg]
		if !ok {
			lastUse = defIdx
		}
		a.liveRanges[reg] = LiveRange{
			DefPoint:     defIdx,
			LastUse:      lastUse,
			IsLargeConst: isLargeConst[reg],
		}
	}
}

func (a *Allocator) buildInterferenceGraph() {
	regs := lo.Keys(a.liveRanges)

	for _, r := range regs {
		if a.interference[r] == nil {
			a.interference[r] = map[ir.IrReg]bool{}
		}
	}

	addEdge := func(x, y ir.IrReg) {
		if a.interference[x] == nil {
			a.interference[x] = map[ir.IrReg]bool{}
		}
		if a.interference[y] == nil {
			a.interference[y] = map[ir.IrReg]bool{}
		}
		a.interference[x][y] = true
		a.interference[y][x] = true
	}

	for i := 0; i < len(regs); i++ {
		for j := i + 1; j < len(regs); j++ {
			ra, rb := regs[i], regs[j]
			rangeA, rangeB := a.liveRanges[ra], a.liveRanges[rb]
			overlaps := rangeA.DefPoint <= rangeB.LastUse && rangeB.DefPoint <= rangeA.LastUse
			if overlaps {
				addEdge(newEdge(ra, rb).A, newEdge(ra, rb).B)
			}
		}
	}

	for r := range a.precolored {
		if a.interference[r] == nil {
			a.interference[r] = map[ir.IrReg]bool{}
		}
	}
}

func (a *Allocator) degree(reg ir.IrReg, remaining map[ir.IrReg]bool) int {
	n := 0
	for neighbor := range a.interference[reg] {
		if remaining[neighbor] {
			n++
		}
	}
	return n
}

func (a *Allocator) colorGraph() {
	for virt, phys := range a.precolored {
		a.allocation[virt] = phys
	}

	var simplifyWorklist []ir.IrReg
	var spillWorklist []ir.IrReg
	var selectStack []ir.IrReg

	remaining := map[ir.IrReg]bool{}
	for reg := range a.liveRanges {
		if _, pre := a.precolored[reg]; !pre {
			remaining[reg] = true
		}
	}

	// Worklists are seeded in virtual-register order, not map iteration
	// order, so the allocator's spill/color choices are a pure function
	// of the program (§8 "code-generation determinism").
	ordered := lo.Keys(remaining)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, reg := range ordered {
		if a.degree(reg, remaining) < a.k {
			simplifyWorklist = append(simplifyWorklist, reg)
		} else {
			spillWorklist = append(spillWorklist, reg)
		}
	}

	for {
		if len(simplifyWorklist) > 0 {
			reg := simplifyWorklist[0]
			simplifyWorklist = simplifyWorklist[1:]

			delete(remaining, reg)
			selectStack = append(selectStack, reg)

			neighbors := lo.Keys(a.interference[reg])
			sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
			for _, neighbor := range neighbors {
				if !remaining[neighbor] {
					continue
				}
				newDegree := a.degree(neighbor, remaining)
				if newDegree < a.k && !lo.Contains(simplifyWorklist, neighbor) {
					spillWorklist = lo.Reject(spillWorklist, func(r ir.IrReg, _ int) bool { return r == neighbor })
					simplifyWorklist = append(simplifyWorklist, neighbor)
				}
			}
		} else if len(spillWorklist) > 0 {
			idx := a.pickSpill(spillWorklist, remaining)
			spillReg := spillWorklist[idx]
			spillWorklist = append(spillWorklist[:idx], spillWorklist[idx+1:]...)
			delete(remaining, spillReg)
			selectStack = append(selectStack, spillReg)
		} else {
			break
		}
	}

	for i := len(selectStack) - 1; i >= 0; i-- {
		reg := selectStack[i]
		usedColors := map[Reg]bool{}
		for neighbor := range a.interference[reg] {
			if color, ok := a.allocation[neighbor]; ok {
				usedColors[color] = true
			}
		}

		assigned := false
		for _, color := range a.availableRegs {
			if !usedColors[color] {
				a.allocation[reg] = color
				assigned = true
				break
			}
		}

		if !assigned {
			a.spills[reg] = a.nextSpillOffset
			a.nextSpillOffset -= 8
			a.allocation[reg] = R0
		}
	}
}

// pickSpill scores candidates the same way the original allocator does:
// prefer spilling large (rematerializable) constants, then high-degree
// nodes, then short live ranges.
func (a *Allocator) pickSpill(candidates []ir.IrReg, remaining map[ir.IrReg]bool) int {
	bestIdx := 0
	bestScore := int64(-1) << 62

	for idx, reg := range candidates {
		rng, ok := a.liveRanges[reg]
		isLarge := ok && rng.IsLargeConst
		liveLength := int64(0)
		if ok {
			liveLength = int64(rng.LastUse - rng.DefPoint)
		}
		degree := int64(a.degree(reg, remaining))

		score := degree*10 - liveLength
		if isLarge {
			score += 1000
		}
		if score > bestScore {
			bestScore = score
			bestIdx = idx
		}
	}
	return bestIdx
}
