package elfpkg

import (
	"testing"

	"github.com/openSVM/ovsmc/internal/codegen"
)

func TestElfWriter(t *testing.T) {
	writer := New()
	program := []codegen.Instruction{
		codegen.AluImm(0xb7, 0, 42), // mov64 r0, 42
		codegen.Exit(),
	}

	elf, err := writer.Write(program, SbpfV1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(elf) <= 64 {
		t.Fatalf("expected ELF longer than the header alone, got %d bytes", len(elf))
	}
	if err := Validate(elf); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestElfWriterEmptyProgramRejected(t *testing.T) {
	writer := New()
	if _, err := writer.Write(nil, SbpfV1); err == nil {
		t.Fatal("expected an error writing an empty program")
	}
}

func TestElfWriterWithSyscalls(t *testing.T) {
	writer := New()
	program := []codegen.Instruction{
		codegen.AluImm(0xb7, 1, 0),
		codegen.CallSyscall(0x1234),
		codegen.AluImm(0xb7, 0, 0),
		codegen.Exit(),
	}
	syscalls := []SyscallSite{{TextOffset: 8, Name: "sol_log_", Hash: 0x1234}}

	elf, err := writer.WriteWithSyscalls(program, syscalls, nil, nil, SbpfV2)
	if err != nil {
		t.Fatalf("WriteWithSyscalls: %v", err)
	}
	if err := Validate(elf); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
