package codegen

import (
	"fmt"
	"strings"

	"github.com/klauspost/asmfmt"
)

var mnemonics = map[uint8]string{
	opMov64Imm: "mov64", opMov64Reg: "mov64", opMov32Imm: "mov32", opMov32Reg: "mov32",
	opAdd64Imm: "add64", opAdd64Reg: "add64", opSub64Imm: "sub64", opSub64Reg: "sub64",
	opMul64Imm: "mul64", opMul64Reg: "mul64", opDiv64Imm: "div64", opDiv64Reg: "div64",
	opOr64Imm: "or64", opOr64Reg: "or64", opAnd64Imm: "and64", opAnd64Reg: "and64",
	opMod64Imm: "mod64", opMod64Reg: "mod64", opXor64Imm: "xor64", opXor64Reg: "xor64",
	opNeg64: "neg64", opDiv32Imm: "div32", opMod32Imm: "mod32",
	opJa: "ja", opJeqImm: "jeq", opJeqReg: "jeq", opJgtImm: "jgt", opJgtReg: "jgt",
	opJgeImm: "jge", opJgeReg: "jge", opJneImm: "jne", opJneReg: "jne",
	opJsgtImm: "jsgt", opJsgtReg: "jsgt", opJsgeImm: "jsge", opJsgeReg: "jsge",
	opCall: "call", opExit: "exit",
	opJltImm: "jlt", opJltReg: "jlt", opJleImm: "jle", opJleReg: "jle",
	opJsltImm: "jslt", opJsltReg: "jslt", opJsleImm: "jsle", opJsleReg: "jsle",
	opLddw: "lddw", opLdxW: "ldxw", opLdxH: "ldxh", opLdxB: "ldxb", opLdxDw: "ldxdw",
	opStxW: "stxw", opStxH: "stxh", opStxB: "stxb", opStxDw: "stxdw",
}

// Disassemble renders instrs as a textual listing, one mnemonic per
// line with a slot-index comment, and hands it through asmfmt for
// consistent column alignment the way the rest of this toolchain
// formats generated assembly.
func Disassemble(instrs []Instruction) (string, error) {
	var b strings.Builder
	slot := 0
	for _, in := range instrs {
		name, ok := mnemonics[in.Opcode]
		if !ok {
			name = fmt.Sprintf("op_%#02x", in.Opcode)
		}
		fmt.Fprintf(&b, "\t%s r%d, r%d, %d // slot %d\n", name, in.Dst, in.Src, in.Imm, slot)
		slot += in.Size() / 8
	}

	formatted, err := asmfmt.Format(strings.NewReader(b.String()))
	if err != nil {
		return b.String(), nil
	}
	return string(formatted), nil
}
