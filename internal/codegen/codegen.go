package codegen

import (
	"fmt"
	"math"

	"github.com/openSVM/ovsmc/internal/ir"
	"github.com/openSVM/ovsmc/internal/regalloc"
)

// reservedSize is the callee-saved-register save area sBPF functions
// reserve below the frame pointer: four 8-byte slots for R6-R9 plus one
// padding slot, matching the stack layout every sol_log_/heap-runtime
// helper call assumes is already in place.
const reservedSize = 40

// SyscallSite is a text-offset/name pair the ELF writer resolves into
// either a .dynsym/.rel.dyn entry (V1) or leaves as a baked-in hash
// immediate (V2).
type SyscallSite struct {
	TextOffset int
	Name       string
	Hash       uint32
}

// StringLoadSite marks an lddw whose immediate must be patched once the
// final .rodata virtual address is known.
type StringLoadSite struct {
	TextOffset   int
	RodataOffset int
}

// Result is the generated machine code plus everything the ELF writer
// needs to finish linking it.
type Result struct {
	Instructions    []Instruction
	Rodata          []byte
	SyscallSites    []SyscallSite
	StringLoadSites []StringLoadSite
	StackFrameSize  int16
}

type fixup struct {
	index int // index into out
	label string
}

// Generator lowers one allocated IR program into sBPF machine code.
type Generator struct {
	target Target
	alloc  *regalloc.Result

	out       []Instruction
	slotStart []int
	cur       int

	labelSlots map[string]int
	fixups     []fixup

	rodata       []byte
	rodataOffset map[string]int
	stringSites  []StringLoadSite
	syscallSites []SyscallSite
}

func New(target Target) *Generator {
	return &Generator{
		target:       target,
		labelSlots:   map[string]int{},
		rodataOffset: map[string]int{},
	}
}

func (g *Generator) emit(i Instruction) int {
	idx := len(g.out)
	g.out = append(g.out, i)
	g.slotStart = append(g.slotStart, g.cur)
	g.cur += i.Size() / 8
	return idx
}

// Generate lowers prog using alloc's register assignment into a flat
// sBPF instruction stream, resolving intra-function jumps and calls and
// recording syscall and string-literal relocation sites for the ELF
// writer.
func (g *Generator) Generate(prog *ir.Program, alloc *regalloc.Result) (*Result, error) {
	g.alloc = alloc

	g.genPrologue()
	for _, instr := range prog.Instructions {
		if err := g.lower(instr); err != nil {
			return nil, err
		}
	}
	// Safety net: a program whose last IR instruction is not a Return
	// still needs a valid exit path.
	if len(prog.Instructions) == 0 {
		g.genEpilogue(false)
	} else if _, ok := prog.Instructions[len(prog.Instructions)-1].(*ir.Return); !ok {
		g.genEpilogue(false)
	}

	for _, fx := range g.fixups {
		target, ok := g.labelSlots[fx.label]
		if !ok {
			return nil, fmt.Errorf("codegen: unresolved label %q", fx.label)
		}
		offset := target - (g.slotStart[fx.index] + 1)
		if g.out[fx.index].Opcode == opCall {
			g.out[fx.index].Imm = int32(offset)
		} else {
			g.out[fx.index].Offset = int16(offset)
		}
	}

	return &Result{
		Instructions:    g.out,
		Rodata:          g.rodata,
		SyscallSites:    g.syscallSites,
		StringLoadSites: g.stringSites,
		StackFrameSize:  reservedSize + alloc.FrameSize,
	}, nil
}

func (g *Generator) genPrologue() {
	r10 := uint8(regalloc.R10)
	g.emit(Stx(opStxDw, r10, uint8(regalloc.R6), -8))
	g.emit(Stx(opStxDw, r10, uint8(regalloc.R7), -16))
	g.emit(Stx(opStxDw, r10, uint8(regalloc.R8), -24))
	g.emit(Stx(opStxDw, r10, uint8(regalloc.R9), -32))
}

func (g *Generator) genEpilogue(alreadyHaveResult bool) {
	if !alreadyHaveResult {
		g.emit(AluImm(opMov64Imm, uint8(regalloc.R0), 0))
	}
	r10 := uint8(regalloc.R10)
	g.emit(Ldx(opLdxDw, uint8(regalloc.R6), r10, -8))
	g.emit(Ldx(opLdxDw, uint8(regalloc.R7), r10, -16))
	g.emit(Ldx(opLdxDw, uint8(regalloc.R8), r10, -24))
	g.emit(Ldx(opLdxDw, uint8(regalloc.R9), r10, -32))
	g.emit(Exit())
}

// physOf returns the always-safe physical register for a virtual
// register that is never spilled (ABI registers and colored temps).
func (g *Generator) physOf(reg ir.IrReg) uint8 {
	if p, ok := g.alloc.Get(reg); ok {
		return uint8(p)
	}
	return uint8(reg)
}

func (g *Generator) finalOffset(off int16) int16 { return off - reservedSize }

// load materializes reg's value into a physical register, emitting a
// reload from its spill slot through R0 when necessary.
func (g *Generator) load(reg ir.IrReg) (uint8, []Instruction) {
	if off, ok := g.alloc.SpillOffset(reg); ok {
		return uint8(regalloc.R0), []Instruction{Ldx(opLdxDw, uint8(regalloc.R0), uint8(regalloc.R10), g.finalOffset(off))}
	}
	return g.physOf(reg), nil
}

// dest picks the physical register a definition should be computed
// into: its colored register, or R0 as a write-back staging register
// when it is spilled.
func (g *Generator) dest(reg ir.IrReg) uint8 {
	if _, ok := g.alloc.SpillOffset(reg); ok {
		return uint8(regalloc.R0)
	}
	return g.physOf(reg)
}

func (g *Generator) writeback(reg ir.IrReg, srcReg uint8) []Instruction {
	if off, ok := g.alloc.SpillOffset(reg); ok {
		return []Instruction{Stx(opStxDw, uint8(regalloc.R10), srcReg, g.finalOffset(off))}
	}
	return nil
}

func (g *Generator) emitAll(instrs []Instruction) {
	for _, in := range instrs {
		g.emit(in)
	}
}

// binary lowers a two-operand arithmetic/logical/comparison op. A is
// always resolved and moved into the destination register first, then
// B is resolved and the op applied in place; loading B after moving A
// out of the shared spill-reload register (R0) is what lets both
// operands be spilled in the same instruction without clobbering each
// other, except when the destination is also spilled (tracked as a
// known limitation, see DESIGN.md).
func (g *Generator) binary(dst, a, b ir.IrReg, regOp uint8) {
	aReg, aPre := g.load(a)
	g.emitAll(aPre)

	dReg := g.dest(dst)
	if dReg != aReg {
		g.emit(AluReg(opMov64Reg, dReg, aReg))
	}

	bReg, bPre := g.load(b)
	g.emitAll(bPre)

	g.emit(AluReg(regOp, dReg, bReg))
	g.emitAll(g.writeback(dst, dReg))
}

var negatedCompare = map[string]uint8{
	"eq": opJneReg,
	"ne": opJeqReg,
	"lt": opJgeReg,
	"le": opJgtReg,
	"gt": opJleReg,
	"ge": opJltReg,
}

func (g *Generator) compare(dst, a, b ir.IrReg, kind string) {
	aReg, aPre := g.load(a)
	g.emitAll(aPre)
	bReg, bPre := g.load(b)
	g.emitAll(bPre)

	dReg := g.dest(dst)
	g.emit(AluImm(opMov64Imm, dReg, 0))
	g.emit(JumpReg(negatedCompare[kind], aReg, bReg, 1))
	g.emit(AluImm(opMov64Imm, dReg, 1))
	g.emitAll(g.writeback(dst, dReg))
}

func (g *Generator) internString(s string) int {
	if off, ok := g.rodataOffset[s]; ok {
		return off
	}
	off := len(g.rodata)
	g.rodata = append(g.rodata, []byte(s)...)
	g.rodata = append(g.rodata, 0)
	g.rodataOffset[s] = off
	return off
}

// emitSyscall emits a call to a Solana runtime syscall and records its
// relocation site. Per the SBPF v1/v2 ABI split: v1 targets leave the
// call immediate zero and rely on a R_BPF_64_32 relocation against a
// dynamic symbol to resolve it at load time; v2 targets bake the
// Murmur3 symbol hash directly into the immediate and need no
// relocation entry.
func (g *Generator) emitSyscall(name string) {
	hash := syscallHash(name)
	imm := hash
	if g.target.DynamicSyscalls {
		imm = 0
	}
	idx := g.emit(CallSyscall(imm))
	g.syscallSites = append(g.syscallSites, SyscallSite{TextOffset: g.slotStart[idx] * 8, Name: name, Hash: hash})
}

func (g *Generator) loadArgs(args []ir.IrReg) {
	argRegs := []ir.IrReg{1, 2, 3, 4, 5}
	for i, a := range args {
		if i >= len(argRegs) {
			break
		}
		reg, pre := g.load(a)
		g.emitAll(pre)
		target := uint8(argRegs[i])
		if reg != target {
			g.emit(AluReg(opMov64Reg, target, reg))
		}
	}
}

func (g *Generator) lower(instr ir.Instr) error {
	switch in := instr.(type) {
	case *ir.ConstI64:
		d := g.dest(in.Dst)
		g.emit(Lddw(d, in.Value))
		g.emitAll(g.writeback(in.Dst, d))
	case *ir.ConstF64:
		d := g.dest(in.Dst)
		bits := int64(floatBits(in.Value))
		g.emit(Lddw(d, bits))
		g.emitAll(g.writeback(in.Dst, d))
	case *ir.ConstBool:
		d := g.dest(in.Dst)
		v := int32(0)
		if in.Value {
			v = 1
		}
		g.emit(AluImm(opMov64Imm, d, v))
		g.emitAll(g.writeback(in.Dst, d))
	case *ir.ConstNull:
		d := g.dest(in.Dst)
		g.emit(AluImm(opMov64Imm, d, 0))
		g.emitAll(g.writeback(in.Dst, d))
	case *ir.ConstString:
		off := g.internString(in.Value)
		d := g.dest(in.Dst)
		idx := g.emit(Lddw(d, 0))
		g.stringSites = append(g.stringSites, StringLoadSite{TextOffset: g.slotStart[idx] * 8, RodataOffset: off})
		g.emitAll(g.writeback(in.Dst, d))

	case *ir.Add:
		g.binary(in.Dst, in.A, in.B, opAdd64Reg)
	case *ir.Sub:
		g.binary(in.Dst, in.A, in.B, opSub64Reg)
	case *ir.Mul:
		g.binary(in.Dst, in.A, in.B, opMul64Reg)
	case *ir.Div:
		g.binary(in.Dst, in.A, in.B, opDiv64Reg)
	case *ir.Mod:
		g.binary(in.Dst, in.A, in.B, opMod64Reg)
	case *ir.And:
		g.binary(in.Dst, in.A, in.B, opAnd64Reg)
	case *ir.Or:
		g.binary(in.Dst, in.A, in.B, opOr64Reg)

	case *ir.Eq:
		g.compare(in.Dst, in.A, in.B, "eq")
	case *ir.Ne:
		g.compare(in.Dst, in.A, in.B, "ne")
	case *ir.Lt:
		g.compare(in.Dst, in.A, in.B, "lt")
	case *ir.Le:
		g.compare(in.Dst, in.A, in.B, "le")
	case *ir.Gt:
		g.compare(in.Dst, in.A, in.B, "gt")
	case *ir.Ge:
		g.compare(in.Dst, in.A, in.B, "ge")

	case *ir.Not:
		sReg, pre := g.load(in.Src)
		g.emitAll(pre)
		d := g.dest(in.Dst)
		g.emit(AluImm(opMov64Imm, d, 0))
		g.emit(JumpImm(opJneImm, sReg, 0, 1))
		g.emit(AluImm(opMov64Imm, d, 1))
		g.emitAll(g.writeback(in.Dst, d))
	case *ir.Neg:
		sReg, pre := g.load(in.Src)
		g.emitAll(pre)
		d := g.dest(in.Dst)
		if d != sReg {
			g.emit(AluReg(opMov64Reg, d, sReg))
		}
		g.emit(Instruction{Opcode: opNeg64, Dst: d})
		g.emitAll(g.writeback(in.Dst, d))
	case *ir.Move:
		sReg, pre := g.load(in.Src)
		g.emitAll(pre)
		d := g.dest(in.Dst)
		if d != sReg {
			g.emit(AluReg(opMov64Reg, d, sReg))
		}
		g.emitAll(g.writeback(in.Dst, d))

	case *ir.Load:
		g.lowerLoad(in.Dst, in.Base, in.Offset, opLdxDw)
	case *ir.Load1:
		g.lowerLoad(in.Dst, in.Base, in.Offset, opLdxB)
	case *ir.Load2:
		g.lowerLoad(in.Dst, in.Base, in.Offset, opLdxH)
	case *ir.Load4:
		g.lowerLoad(in.Dst, in.Base, in.Offset, opLdxW)

	case *ir.Store:
		g.lowerStore(in.Base, in.Src, in.Offset, opStxDw)
	case *ir.Store1:
		g.lowerStore(in.Base, in.Src, in.Offset, opStxB)
	case *ir.Store2:
		g.lowerStore(in.Base, in.Src, in.Offset, opStxH)
	case *ir.Store4:
		g.lowerStore(in.Base, in.Src, in.Offset, opStxW)

	case *ir.Alloc:
		g.loadArgs([]ir.IrReg{in.Size})
		g.emitSyscall("sol_alloc_free_")
		d := g.dest(in.Dst)
		if d != uint8(regalloc.R0) {
			g.emit(AluReg(opMov64Reg, d, uint8(regalloc.R0)))
		}
		g.emitAll(g.writeback(in.Dst, d))

	case *ir.Param:
		argRegs := []uint8{uint8(regalloc.R1), uint8(regalloc.R2), uint8(regalloc.R3), uint8(regalloc.R4), uint8(regalloc.R5)}
		if in.Index < 0 || in.Index >= len(argRegs) {
			return fmt.Errorf("codegen: param index %d out of range", in.Index)
		}
		d := g.dest(in.Dst)
		src := argRegs[in.Index]
		if d != src {
			g.emit(AluReg(opMov64Reg, d, src))
		}
		g.emitAll(g.writeback(in.Dst, d))

	case *ir.Call:
		g.loadArgs(in.Args)
		fixIdx := g.emit(CallInternal(0))
		g.fixups = append(g.fixups, fixup{index: fixIdx, label: in.Name})
		if in.Dst != nil {
			d := g.dest(*in.Dst)
			if d != uint8(regalloc.R0) {
				g.emit(AluReg(opMov64Reg, d, uint8(regalloc.R0)))
			}
			g.emitAll(g.writeback(*in.Dst, d))
		}

	case *ir.Syscall:
		g.loadArgs(in.Args)
		g.emitSyscall(in.Name)
		if in.Dst != nil {
			d := g.dest(*in.Dst)
			if d != uint8(regalloc.R0) {
				g.emit(AluReg(opMov64Reg, d, uint8(regalloc.R0)))
			}
			g.emitAll(g.writeback(*in.Dst, d))
		}

	case *ir.Return:
		if in.Value != nil {
			vReg, pre := g.load(*in.Value)
			g.emitAll(pre)
			if vReg != uint8(regalloc.R0) {
				g.emit(AluReg(opMov64Reg, uint8(regalloc.R0), vReg))
			}
			g.genEpilogue(true)
		} else {
			g.genEpilogue(false)
		}

	case *ir.Jump:
		idx := g.emit(Ja(0))
		g.fixups = append(g.fixups, fixup{index: idx, label: in.Label})
	case *ir.JumpIf:
		cReg, pre := g.load(in.Cond)
		g.emitAll(pre)
		idx := g.emit(JumpImm(opJneImm, cReg, 0, 0))
		g.fixups = append(g.fixups, fixup{index: idx, label: in.Label})
	case *ir.JumpIfNot:
		cReg, pre := g.load(in.Cond)
		g.emitAll(pre)
		idx := g.emit(JumpImm(opJeqImm, cReg, 0, 0))
		g.fixups = append(g.fixups, fixup{index: idx, label: in.Label})
	case *ir.Label:
		g.labelSlots[in.Name] = g.cur
		if in.IsFunction {
			g.genPrologue()
		}

	case *ir.Log:
		ptrReg, pre := g.load(in.Ptr)
		g.emitAll(pre)
		g.emit(AluReg(opMov64Reg, uint8(regalloc.R1), ptrReg))
		if in.Len >= 0 {
			g.emit(AluImm(opMov64Imm, uint8(regalloc.R2), in.Len))
		} else {
			g.emit(Ldx(opLdxDw, uint8(regalloc.R2), uint8(regalloc.R1), 0))
			g.emit(AluImm(opAdd64Imm, uint8(regalloc.R1), 8))
		}
		g.emitSyscall("sol_log_")

	case *ir.Nop:
		// no-op

	default:
		return fmt.Errorf("codegen: unhandled IR instruction %T", instr)
	}
	return nil
}

func (g *Generator) lowerLoad(dst, base ir.IrReg, offset int32, op uint8) {
	bReg, pre := g.load(base)
	g.emitAll(pre)
	d := g.dest(dst)
	g.emit(Ldx(op, d, bReg, int16(offset)))
	g.emitAll(g.writeback(dst, d))
}

func (g *Generator) lowerStore(base, src ir.IrReg, offset int32, op uint8) {
	bReg, bPre := g.load(base)
	g.emitAll(bPre)
	sReg, sPre := g.load(src)
	g.emitAll(sPre)
	g.emit(Stx(op, bReg, sReg, int16(offset)))
}

func floatBits(f float64) uint64 { return math.Float64bits(f) }
