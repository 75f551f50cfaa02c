// Package codegen lowers allocated IR into sBPF machine instructions
// and tracks the syscall/string relocation sites the ELF writer needs.
package codegen

import "encoding/binary"

// Instruction is one sBPF instruction: a plain 8-byte encoding, or a
// 16-byte lddw pseudo-instruction when wide is set.
type Instruction struct {
	Opcode uint8
	Dst    uint8
	Src    uint8
	Offset int16
	Imm    int32

	wide  bool
	immHi int32
}

// Real eBPF/sBPF opcode bytes (class in bits 0-2, source in bit 3,
// operation in bits 4-7 for ALU/ALU64; class+mode+size for memory ops).
const (
	opMov64Imm = 0xb7
	opMov64Reg = 0xbf
	opMov32Imm = 0xb4
	opMov32Reg = 0xbc

	opAdd64Imm = 0x07
	opAdd64Reg = 0x0f
	opSub64Imm = 0x17
	opSub64Reg = 0x1f
	opMul64Imm = 0x27
	opMul64Reg = 0x2f
	opDiv64Imm = 0x37
	opDiv64Reg = 0x3f
	opOr64Imm  = 0x47
	opOr64Reg  = 0x4f
	opAnd64Imm = 0x57
	opAnd64Reg = 0x5f
	opMod64Imm = 0x97
	opMod64Reg = 0x9f
	opXor64Imm = 0xa7
	opXor64Reg = 0xaf
	opNeg64    = 0x87

	opDiv32Imm = 0x34
	opMod32Imm = 0x94

	opJa       = 0x05
	opJeqImm   = 0x15
	opJeqReg   = 0x1d
	opJgtImm   = 0x25
	opJgtReg   = 0x2d
	opJgeImm   = 0x35
	opJgeReg   = 0x3d
	opJneImm   = 0x55
	opJneReg   = 0x5d
	opJsgtImm  = 0x65
	opJsgtReg  = 0x6d
	opJsgeImm  = 0x75
	opJsgeReg  = 0x7d
	opCall     = 0x85
	opExit     = 0x95
	opJltImm   = 0xa5
	opJltReg   = 0xad
	opJleImm   = 0xb5
	opJleReg   = 0xbd
	opJsltImm  = 0xc5
	opJsltReg  = 0xcd
	opJsleImm  = 0xd5
	opJsleReg  = 0xdd

	opLddw  = 0x18
	opLdxW  = 0x61
	opLdxH  = 0x69
	opLdxB  = 0x71
	opLdxDw = 0x79
	opStxW  = 0x63
	opStxH  = 0x6b
	opStxB  = 0x73
	opStxDw = 0x7b
)

func AluImm(op uint8, dst uint8, imm int32) Instruction {
	return Instruction{Opcode: op, Dst: dst, Imm: imm}
}

func AluReg(op uint8, dst, src uint8) Instruction {
	return Instruction{Opcode: op, Dst: dst, Src: src}
}

func Ldx(op uint8, dst, base uint8, offset int16) Instruction {
	return Instruction{Opcode: op, Dst: dst, Src: base, Offset: offset}
}

func Stx(op uint8, base, src uint8, offset int16) Instruction {
	return Instruction{Opcode: op, Dst: base, Src: src, Offset: offset}
}

func Lddw(dst uint8, value int64) Instruction {
	return Instruction{Opcode: opLddw, Dst: dst, Imm: int32(uint32(value)), immHi: int32(uint32(value >> 32)), wide: true}
}

// JumpImm builds a conditional jump comparing dst against an immediate.
func JumpImm(op uint8, dst uint8, imm int32, offset int16) Instruction {
	return Instruction{Opcode: op, Dst: dst, Imm: imm, Offset: offset}
}

// JumpReg builds a conditional jump comparing dst against src.
func JumpReg(op uint8, dst, src uint8, offset int16) Instruction {
	return Instruction{Opcode: op, Dst: dst, Src: src, Offset: offset}
}

func Ja(offset int16) Instruction { return Instruction{Opcode: opJa, Offset: offset} }

func Exit() Instruction { return Instruction{Opcode: opExit} }

// CallSyscall invokes a Solana runtime syscall identified by its
// Murmur3-32 (seed 0) symbol hash; Src stays 0 to distinguish it from
// an internal call in both the verifier and the ELF relocation pass.
func CallSyscall(hash uint32) Instruction {
	return Instruction{Opcode: opCall, Src: 0, Imm: int32(hash)}
}

// CallInternal invokes a function defined elsewhere in .text by
// relative instruction-slot offset.
func CallInternal(relativeSlots int32) Instruction {
	return Instruction{Opcode: opCall, Src: 1, Imm: relativeSlots}
}

func (i Instruction) Size() int {
	if i.wide {
		return 16
	}
	return 8
}

// ComputeCost is a rough per-instruction compute-unit estimate: calls
// (syscalls especially) are far more expensive than arithmetic.
func (i Instruction) ComputeCost() uint64 {
	if i.Opcode == opCall {
		if i.Src == 0 {
			return 100
		}
		return 10
	}
	return 1
}

func (i Instruction) Encode() []byte {
	buf := make([]byte, 8)
	buf[0] = i.Opcode
	buf[1] = (i.Src << 4) | (i.Dst & 0x0f)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(i.Offset))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(i.Imm))
	if !i.wide {
		return buf
	}
	second := make([]byte, 8)
	binary.LittleEndian.PutUint32(second[4:8], uint32(i.immHi))
	return append(buf, second...)
}
