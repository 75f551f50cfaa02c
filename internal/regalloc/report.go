package regalloc

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/openSVM/ovsmc/internal/ir"
)

// InstructionAnalysis describes register pressure at one IR instruction.
type InstructionAnalysis struct {
	Index       int
	Defs        []ir.IrReg
	Uses        []ir.IrReg
	LiveRegs    []ir.IrReg
	Pressure    int
	CausesSpill bool
	IsSyscall   bool
	Description string
}

// Issue is a detected register-allocation concern.
type Issue struct {
	Index       int
	Severity    string // "critical", "warning", "info"
	Message     string
	AffectedReg *ir.IrReg
}

// Report is the full per-instruction pressure trace plus any issues
// found, used to diagnose spilling and register-pressure bugs.
type Report struct {
	Instructions      []InstructionAnalysis
	Issues            []Issue
	PeakPressure      int
	PeakPressureIndex int
	TotalSpills       int
	AvailableRegs     int
}

// BuildReport walks prog's instructions in order, tracking which
// virtual registers are live at each point via the allocation result,
// and flags instructions whose pressure exceeds the five-register
// budget.
func BuildReport(prog *ir.Program, alloc *Result) *Report {
	rep := &Report{AvailableRegs: 5}

	live := map[ir.IrReg]bool{}
	for idx, instr := range prog.Instructions {
		defs, uses, _ := ir.ExtractRegs(instr)
		for _, u := range uses {
			live[u] = true
		}

		liveNow := lo.Keys(live)
		pressure := len(liveNow)
		_, isSyscall := instr.(*ir.Syscall)
		causesSpill := false
		for _, d := range defs {
			if alloc.IsSpilled(d) {
				causesSpill = true
			}
		}

		analysis := InstructionAnalysis{
			Index:       idx,
			Defs:        defs,
			Uses:        uses,
			LiveRegs:    liveNow,
			Pressure:    pressure,
			CausesSpill: causesSpill,
			IsSyscall:   isSyscall,
			Description: fmt.Sprintf("%T", instr),
		}
		rep.Instructions = append(rep.Instructions, analysis)

		if pressure > rep.PeakPressure {
			rep.PeakPressure = pressure
			rep.PeakPressureIndex = idx
		}
		if pressure > rep.AvailableRegs {
			reg := defs
			var affected *ir.IrReg
			if len(reg) > 0 {
				affected = &reg[0]
			}
			rep.Issues = append(rep.Issues, Issue{
				Index:       idx,
				Severity:    "warning",
				Message:     fmt.Sprintf("register pressure %d exceeds %d available registers", pressure, rep.AvailableRegs),
				AffectedReg: affected,
			})
		}
		if isSyscall {
			for _, reg := range liveNow {
				if reg >= 1 && reg <= 5 {
					r := reg
					rep.Issues = append(rep.Issues, Issue{
						Index:       idx,
						Severity:    "critical",
						Message:     "value live across syscall in a clobbered argument register",
						AffectedReg: &r,
					})
				}
			}
		}

		for _, d := range defs {
			if lastUse, ok := alloc.lastUseOf(prog, d); ok && lastUse <= idx {
				delete(live, d)
			}
		}
	}

	rep.TotalSpills = len(alloc.Spills)
	return rep
}

// lastUseOf is a small helper so BuildReport doesn't need its own
// live-range pass; it scans forward once per definition which is fine
// for the modest program sizes this compiler targets.
func (r *Result) lastUseOf(prog *ir.Program, reg ir.IrReg) (int, bool) {
	last := -1
	for idx, instr := range prog.Instructions {
		_, uses, _ := ir.ExtractRegs(instr)
		for _, u := range uses {
			if u == reg {
				last = idx
			}
		}
	}
	if last < 0 {
		return 0, false
	}
	return last, true
}

// String renders the report as human-readable box-drawing text, in the
// same style as the rest of this compiler's diagnostic output.
func (rep *Report) String() string {
	var b strings.Builder

	fmt.Fprintln(&b, "+----------------------------------------------------+")
	fmt.Fprintln(&b, "|          REGISTER ALLOCATION ANALYSIS REPORT        |")
	fmt.Fprintln(&b, "+----------------------------------------------------+")
	fmt.Fprintf(&b, "| Available registers : %d (R3-R5, R8-R9)\n", rep.AvailableRegs)
	fmt.Fprintf(&b, "| Peak pressure       : %d at instruction #%d\n", rep.PeakPressure, rep.PeakPressureIndex)
	fmt.Fprintf(&b, "| Total spills        : %d\n", rep.TotalSpills)
	fmt.Fprintf(&b, "| Issues found        : %d\n", len(rep.Issues))
	fmt.Fprintln(&b, "+----------------------------------------------------+")

	if len(rep.Issues) > 0 {
		fmt.Fprintln(&b, "\nISSUES:")
		for _, issue := range rep.Issues {
			fmt.Fprintf(&b, "[%s] IR #%d: %s\n", strings.ToUpper(issue.Severity), issue.Index, issue.Message)
		}
	}

	fmt.Fprintln(&b, "\nPRESSURE TIMELINE:")
	for _, instr := range rep.Instructions {
		marker := ""
		if instr.Pressure > rep.AvailableRegs {
			marker = " SPILL"
		}
		if instr.IsSyscall {
			marker += " SYSCALL"
		}
		fmt.Fprintf(&b, "%4d | pressure %d/%d%s\n", instr.Index, instr.Pressure, rep.AvailableRegs, marker)
	}

	return b.String()
}
