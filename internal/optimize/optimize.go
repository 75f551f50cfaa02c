// Package optimize runs opt-level-gated peephole passes over IR
// programs before register allocation: constant folding, copy
// propagation, dead-store elimination and unreachable-label pruning.
package optimize

import "github.com/openSVM/ovsmc/internal/ir"

// Optimizer runs the passes appropriate for Level (0 disables all
// passes; levels above 3 behave as 3).
type Optimizer struct {
	Level int
}

func New(level int) *Optimizer { return &Optimizer{Level: level} }

// Optimize mutates prog.Instructions in place. Passes run to a fixed
// point or three iterations, whichever comes first, since each pass can
// expose further opportunities for the others.
func (o *Optimizer) Optimize(prog *ir.Program) {
	if o.Level <= 0 {
		return
	}
	for i := 0; i < 3; i++ {
		changed := foldConstants(prog)
		changed = propagateCopies(prog) || changed
		if o.Level >= 2 {
			changed = eliminateDeadStores(prog) || changed
		}
		if o.Level >= 3 {
			changed = pruneUnreachable(prog) || changed
		}
		if !changed {
			break
		}
	}
}

// constOf reports the known int64 constant held in reg at the point it
// was last defined in a straight-line scan, used by constant folding.
// Folding and copy propagation are both intentionally local (no dataflow
// across labels) to stay conservative around branches.
func constOf(consts map[ir.IrReg]int64, r ir.IrReg) (int64, bool) {
	v, ok := consts[r]
	return v, ok
}

func foldConstants(prog *ir.Program) bool {
	changed := false
	consts := map[ir.IrReg]int64{}

	for idx, instr := range prog.Instructions {
		switch in := instr.(type) {
		case *ir.ConstI64:
			consts[in.Dst] = in.Value
		case *ir.Add:
			if a, ok := constOf(consts, in.A); ok {
				if b, ok := constOf(consts, in.B); ok {
					prog.Instructions[idx] = &ir.ConstI64{Dst: in.Dst, Value: a + b}
					consts[in.Dst] = a + b
					changed = true
					continue
				}
			}
			delete(consts, in.Dst)
		case *ir.Sub:
			if a, ok := constOf(consts, in.A); ok {
				if b, ok := constOf(consts, in.B); ok {
					prog.Instructions[idx] = &ir.ConstI64{Dst: in.Dst, Value: a - b}
					consts[in.Dst] = a - b
					changed = true
					continue
				}
			}
			delete(consts, in.Dst)
		case *ir.Mul:
			if a, ok := constOf(consts, in.A); ok {
				if b, ok := constOf(consts, in.B); ok {
					prog.Instructions[idx] = &ir.ConstI64{Dst: in.Dst, Value: a * b}
					consts[in.Dst] = a * b
					changed = true
					continue
				}
			}
			delete(consts, in.Dst)
		case *ir.Div:
			if a, ok := constOf(consts, in.A); ok {
				if b, ok := constOf(consts, in.B); ok && b != 0 {
					prog.Instructions[idx] = &ir.ConstI64{Dst: in.Dst, Value: a / b}
					consts[in.Dst] = a / b
					changed = true
					continue
				}
			}
			delete(consts, in.Dst)
		case *ir.Label:
			// Conservatively forget everything at a join point.
			consts = map[ir.IrReg]int64{}
		default:
			defs, _, _ := ir.ExtractRegs(instr)
			for _, d := range defs {
				delete(consts, d)
			}
		}
	}
	return changed
}

// propagateCopies replaces uses of a register defined by a bare Move
// with the move's source. The move itself stays; eliminateDeadStores
// drops it once nothing reads its destination.
func propagateCopies(prog *ir.Program) bool {
	copyOf := map[ir.IrReg]ir.IrReg{}

	resolve := func(r ir.IrReg) ir.IrReg {
		seen := map[ir.IrReg]bool{}
		for {
			src, ok := copyOf[r]
			if !ok || seen[r] {
				return r
			}
			seen[r] = true
			r = src
		}
	}

	changed := false
	for _, instr := range prog.Instructions {
		switch in := instr.(type) {
		case *ir.Move:
			resolved := resolve(in.Src)
			changed = changed || resolved != in.Src
			in.Src = resolved
			copyOf[in.Dst] = in.Src
		case *ir.Label:
			copyOf = map[ir.IrReg]ir.IrReg{}
		default:
			rewriteUses(instr, resolve)
		}
	}
	return changed
}

func rewriteUses(instr ir.Instr, resolve func(ir.IrReg) ir.IrReg) {
	switch in := instr.(type) {
	case *ir.Add:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Sub:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Mul:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Div:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Mod:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.And:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Or:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Eq:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Ne:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Lt:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Le:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Gt:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Ge:
		in.A, in.B = resolve(in.A), resolve(in.B)
	case *ir.Not:
		in.Src = resolve(in.Src)
	case *ir.Neg:
		in.Src = resolve(in.Src)
	case *ir.Load:
		in.Base = resolve(in.Base)
	case *ir.Load1:
		in.Base = resolve(in.Base)
	case *ir.Load2:
		in.Base = resolve(in.Base)
	case *ir.Load4:
		in.Base = resolve(in.Base)
	case *ir.Store:
		in.Base, in.Src = resolve(in.Base), resolve(in.Src)
	case *ir.Store1:
		in.Base, in.Src = resolve(in.Base), resolve(in.Src)
	case *ir.Store2:
		in.Base, in.Src = resolve(in.Base), resolve(in.Src)
	case *ir.Store4:
		in.Base, in.Src = resolve(in.Base), resolve(in.Src)
	case *ir.Alloc:
		in.Size = resolve(in.Size)
	case *ir.Call:
		for i := range in.Args {
			in.Args[i] = resolve(in.Args[i])
		}
	case *ir.Syscall:
		for i := range in.Args {
			in.Args[i] = resolve(in.Args[i])
		}
	case *ir.Return:
		if in.Value != nil {
			v := resolve(*in.Value)
			in.Value = &v
		}
	case *ir.JumpIf:
		in.Cond = resolve(in.Cond)
	case *ir.JumpIfNot:
		in.Cond = resolve(in.Cond)
	case *ir.Log:
		in.Ptr = resolve(in.Ptr)
	}
}

// eliminateDeadStores removes Move instructions that copy a register onto
// itself or whose destination no instruction anywhere in the program
// reads. Const* instructions are kept.
func eliminateDeadStores(prog *ir.Program) bool {
	used := map[ir.IrReg]bool{}
	for _, instr := range prog.Instructions {
		_, uses, _ := ir.ExtractRegs(instr)
		for _, u := range uses {
			used[u] = true
		}
	}

	changed := false
	kept := prog.Instructions[:0]
	for _, instr := range prog.Instructions {
		if mv, ok := instr.(*ir.Move); ok {
			if mv.Dst == mv.Src {
				changed = true
				continue
			}
			if !used[mv.Dst] {
				changed = true
				continue
			}
		}
		kept = append(kept, instr)
	}
	prog.Instructions = kept
	return changed
}

// pruneUnreachable drops instructions between an unconditional Jump (or
// Return) and the next Label, since control never reaches them.
func pruneUnreachable(prog *ir.Program) bool {
	changed := false
	kept := prog.Instructions[:0]
	dead := false
	for _, instr := range prog.Instructions {
		switch instr.(type) {
		case *ir.Label:
			dead = false
		}
		if dead {
			changed = true
			continue
		}
		kept = append(kept, instr)
		switch instr.(type) {
		case *ir.Jump, *ir.Return:
			dead = true
		}
	}
	prog.Instructions = kept
	return changed
}
