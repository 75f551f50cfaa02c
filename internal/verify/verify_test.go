package verify

import (
	"testing"

	"github.com/openSVM/ovsmc/internal/codegen"
)

func TestVerifyEmptyProgram(t *testing.T) {
	result := New().Verify(nil)
	if !result.Valid {
		t.Fatalf("expected empty program to be valid, errors: %v", result.Errors)
	}
	if result.Stats.InstructionCount != 0 {
		t.Fatalf("expected 0 instructions, got %d", result.Stats.InstructionCount)
	}
}

func TestVerifySimpleValidProgram(t *testing.T) {
	program := []codegen.Instruction{
		codegen.AluImm(0xb7, 0, 42), // mov64 r0, 42
		codegen.Exit(),
	}
	result := New().Verify(program)
	if !result.Valid {
		t.Fatalf("expected valid program, errors: %v", result.Errors)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", result.Errors)
	}
}

func TestVerifyNoExitError(t *testing.T) {
	program := []codegen.Instruction{codegen.AluImm(0xb7, 0, 42)}
	result := New().Verify(program)
	if result.Valid {
		t.Fatal("expected invalid program with no exit")
	}
	if !hasError[NoExitInstruction](result.Errors) {
		t.Fatalf("expected NoExitInstruction error, got %v", result.Errors)
	}
}

func TestVerifyInvalidRegister(t *testing.T) {
	program := []codegen.Instruction{
		{Opcode: 0xb7, Dst: 15, Imm: 42},
		codegen.Exit(),
	}
	result := New().Verify(program)
	if result.Valid {
		t.Fatal("expected invalid program with an out-of-range register")
	}
	if !hasError[InvalidRegister](result.Errors) {
		t.Fatalf("expected InvalidRegister error, got %v", result.Errors)
	}
}

func TestVerifyDivisionByZeroDetection(t *testing.T) {
	program := []codegen.Instruction{
		{Opcode: 0x37, Dst: 0, Imm: 0}, // div64 r0, 0
		codegen.Exit(),
	}
	result := New().Verify(program)
	if result.Valid {
		t.Fatal("expected invalid program with a division by immediate zero")
	}
	if !hasError[PossibleDivisionByZero](result.Errors) {
		t.Fatalf("expected PossibleDivisionByZero error, got %v", result.Errors)
	}
}

func TestVerifyIllegalR10Write(t *testing.T) {
	program := []codegen.Instruction{
		{Opcode: 0xb7, Dst: 10, Imm: 0}, // mov64 r10, 0 -- writes the frame pointer
		codegen.Exit(),
	}
	result := New().Verify(program)
	if result.Valid {
		t.Fatal("expected invalid program writing to r10 outside a store")
	}
	if !hasError[IllegalR10Write](result.Errors) {
		t.Fatalf("expected IllegalR10Write error, got %v", result.Errors)
	}
}

func TestVerifyR10AsStoreBaseIsLegal(t *testing.T) {
	program := []codegen.Instruction{
		codegen.Stx(0x7b, 10, 6, -8), // stxdw [r10-8], r6
		codegen.Exit(),
	}
	result := New().Verify(program)
	if !result.Valid {
		t.Fatalf("expected r10 as a store base to be legal, errors: %v", result.Errors)
	}
}

func TestVerifySelfSubDivModWarns(t *testing.T) {
	program := []codegen.Instruction{
		codegen.AluReg(0x1f, 3, 3), // sub64 r3, r3
		codegen.Exit(),
	}
	result := New().Verify(program)
	if !result.Valid {
		t.Fatalf("expected self sub/div/mod to warn, not fail, errors: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning for alu64 reg/reg op with dst == src")
	}

	strict := New().Strict().Verify(program)
	if strict.Valid {
		t.Fatal("expected strict mode to fail on the dst == src warning")
	}
}

func hasError[T Error](errs []Error) bool {
	for _, e := range errs {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}
