package codegen

import (
	"testing"

	"github.com/openSVM/ovsmc/internal/ir"
	"github.com/openSVM/ovsmc/internal/regalloc"
)

func generate(t *testing.T, target Target, instrs ...ir.Instr) *Result {
	t.Helper()
	prog := &ir.Program{Instructions: instrs}
	alloc := regalloc.New().Allocate(prog)
	result, err := New(target).Generate(prog, alloc)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	return result
}

func TestGenerate_SyscallV1LeavesImmediateZero(t *testing.T) {
	dst := ir.IrReg(20)
	result := generate(t, TargetV1,
		&ir.Syscall{Dst: &dst, Name: "sol_log_"},
		&ir.Return{Value: &dst},
	)
	if len(result.SyscallSites) != 1 {
		t.Fatalf("expected 1 syscall site, got %d", len(result.SyscallSites))
	}
	callIdx := -1
	for i, in := range result.Instructions {
		if in.Opcode == 0x85 && in.Src == 0 {
			callIdx = i
		}
	}
	if callIdx == -1 {
		t.Fatal("expected a syscall-class call instruction")
	}
	if result.Instructions[callIdx].Imm != 0 {
		t.Fatalf("expected v1 call immediate to stay 0 pending relocation, got %d", result.Instructions[callIdx].Imm)
	}
	if result.SyscallSites[0].Hash == 0 {
		t.Fatal("expected the syscall site to still record the resolved hash for relocation bookkeeping")
	}
}

func TestGenerate_SyscallV2BakesHash(t *testing.T) {
	dst := ir.IrReg(20)
	result := generate(t, TargetV2,
		&ir.Syscall{Dst: &dst, Name: "sol_log_"},
		&ir.Return{Value: &dst},
	)
	callIdx := -1
	for i, in := range result.Instructions {
		if in.Opcode == 0x85 && in.Src == 0 {
			callIdx = i
		}
	}
	if callIdx == -1 {
		t.Fatal("expected a syscall-class call instruction")
	}
	if uint32(result.Instructions[callIdx].Imm) != result.SyscallSites[0].Hash {
		t.Fatalf("expected v2 call immediate to carry the baked hash %d, got %d",
			result.SyscallSites[0].Hash, result.Instructions[callIdx].Imm)
	}
}

func TestGenerate_ParamMovesFromAbiArgumentRegister(t *testing.T) {
	p0 := ir.IrReg(20)
	result := generate(t, TargetV1,
		&ir.Param{Dst: p0, Index: 0},
		&ir.Return{Value: &p0},
	)
	if len(result.Instructions) == 0 {
		t.Fatal("expected at least one instruction")
	}
	found := false
	for _, in := range result.Instructions {
		if in.Opcode == 0xbf && in.Src == 1 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a mov64 register move reading parameter 0 from R1")
	}
}
