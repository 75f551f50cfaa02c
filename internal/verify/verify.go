// Package verify validates compiled sBPF programs before deployment,
// checking the constraints the Solana runtime itself enforces so a
// rejected program fails fast in the compiler instead of at upload
// time.
package verify

import (
	"fmt"

	"github.com/openSVM/ovsmc/internal/codegen"
)

// Runtime limits a deployed sBPF program must respect.
const (
	MaxInstructions = 65536
	MaxCallDepth    = 64
)

// ProgramStats summarizes a verified program.
type ProgramStats struct {
	InstructionCount  int
	BytecodeSize      int
	EstimatedCU       uint64
	MaxStackDepth     int
	SyscallCount      int
	InternalCallCount int
}

// Result is a verification run's outcome: whether the program may be
// deployed, every error blocking it, and non-fatal warnings.
type Result struct {
	Valid    bool
	Errors   []Error
	Warnings []string
	Stats    ProgramStats
}

// Error is the closed set of deployability problems verify can find.
type Error interface {
	error
	verifyError()
}

type TooManyInstructions struct{ Count, Limit int }
type BytecodeTooLarge struct{ Size, Limit int }
type CallDepthExceeded struct{ Depth, Limit int }
type InvalidOpcode struct {
	Offset int
	Opcode uint8
}
type JumpOutOfBounds struct {
	Offset int
	Target int64
}
type InvalidRegister struct {
	Offset int
	Reg    uint8
}
type PossibleDivisionByZero struct{ Offset int }
type MemoryAccessOutOfBounds struct {
	Offset  int
	Address uint64
}
type NoExitInstruction struct{}
type UnreachableCode struct{ Offset int }
type IllegalR10Write struct{ Offset int }

func (e TooManyInstructions) Error() string {
	return fmt.Sprintf("too many instructions: %d (limit: %d)", e.Count, e.Limit)
}
func (e BytecodeTooLarge) Error() string {
	return fmt.Sprintf("bytecode too large: %d bytes (limit: %d)", e.Size, e.Limit)
}
func (e CallDepthExceeded) Error() string {
	return fmt.Sprintf("call depth exceeded: %d (limit: %d)", e.Depth, e.Limit)
}
func (e InvalidOpcode) Error() string {
	return fmt.Sprintf("invalid opcode 0x%02x at offset %d", e.Opcode, e.Offset)
}
func (e JumpOutOfBounds) Error() string {
	return fmt.Sprintf("jump at offset %d targets out of bounds: %d", e.Offset, e.Target)
}
func (e InvalidRegister) Error() string {
	return fmt.Sprintf("invalid register %d at offset %d", e.Reg, e.Offset)
}
func (e PossibleDivisionByZero) Error() string {
	return fmt.Sprintf("possible division by zero at offset %d", e.Offset)
}
func (e MemoryAccessOutOfBounds) Error() string {
	return fmt.Sprintf("memory access out of bounds at offset %d: address 0x%x", e.Offset, e.Address)
}
func (e NoExitInstruction) Error() string { return "program has no exit instruction" }
func (e UnreachableCode) Error() string {
	return fmt.Sprintf("unreachable code at offset %d", e.Offset)
}
func (e IllegalR10Write) Error() string {
	return fmt.Sprintf("write to read-only frame pointer r10 at offset %d", e.Offset)
}

func (TooManyInstructions) verifyError()     {}
func (BytecodeTooLarge) verifyError()        {}
func (CallDepthExceeded) verifyError()       {}
func (InvalidOpcode) verifyError()           {}
func (JumpOutOfBounds) verifyError()         {}
func (InvalidRegister) verifyError()         {}
func (PossibleDivisionByZero) verifyError()  {}
func (MemoryAccessOutOfBounds) verifyError() {}
func (NoExitInstruction) verifyError()       {}
func (UnreachableCode) verifyError()         {}
func (IllegalR10Write) verifyError()         {}

// Verifier checks an instruction stream against configurable limits,
// built with the same fluent-builder pattern the rest of the compiler
// uses for optional configuration.
type Verifier struct {
	maxInstructions int
	maxCallDepth    int
	strict          bool
}

// New creates a verifier with the default Solana runtime limits and
// warnings-don't-fail behavior.
func New() *Verifier {
	return &Verifier{maxInstructions: MaxInstructions, maxCallDepth: MaxCallDepth}
}

// Strict makes warnings fail verification alongside errors.
func (v *Verifier) Strict() *Verifier {
	v.strict = true
	return v
}

// MaxInstructions overrides the instruction-count limit.
func (v *Verifier) MaxInstructions(limit int) *Verifier {
	v.maxInstructions = limit
	return v
}

func isJumpOpcode(opcode uint8) bool {
	class := opcode & 0x07
	return class == 0x05 || class == 0x06
}

// storeOpcodes holds every stx* opcode, whose Dst field carries the
// store's base address register rather than a write target: r10 is
// legitimately read as that base when spilling to the stack.
var storeOpcodes = map[uint8]bool{
	0x63: true, // stxw
	0x6b: true, // stxh
	0x73: true, // stxb
	0x7b: true, // stxdw
}

// aluRegRegOpSrcSameDst is the set of ALU64 reg/reg opcodes where
// dst == src is a correctness smell worth flagging: subtracting,
// dividing or taking the modulus of a register by itself collapses to
// a constant (0 or 1) that almost always signals a typo at the IR
// level rather than intent.
var aluRegRegOpSrcSameDst = map[uint8]bool{
	0x1f: true, // sub64 reg
	0x3f: true, // div64 reg
	0x9f: true, // mod64 reg
}

// Verify checks program against this verifier's configured limits.
func (v *Verifier) Verify(program []codegen.Instruction) *Result {
	var errs []Error
	var warnings []string

	stats := ProgramStats{InstructionCount: len(program)}
	for _, in := range program {
		stats.BytecodeSize += in.Size()
		stats.EstimatedCU += in.ComputeCost()
	}

	if stats.InstructionCount > v.maxInstructions {
		errs = append(errs, TooManyInstructions{Count: stats.InstructionCount, Limit: v.maxInstructions})
	}

	maxBytecode := v.maxInstructions * 8
	if stats.BytecodeSize > maxBytecode {
		errs = append(errs, BytecodeTooLarge{Size: stats.BytecodeSize, Limit: maxBytecode})
	}

	slotPositions := make([]int, len(program))
	currentSlot := 0
	for idx, in := range program {
		slotPositions[idx] = currentSlot
		currentSlot += in.Size() / 8
	}
	totalSlots := currentSlot

	hasExit := false
	offset := 0
	for idx, in := range program {
		if in.Opcode == 0x95 {
			hasExit = true
		}

		if in.Dst > 10 {
			errs = append(errs, InvalidRegister{Offset: offset, Reg: in.Dst})
		}
		if in.Src > 10 {
			errs = append(errs, InvalidRegister{Offset: offset, Reg: in.Src})
		}

		if in.Dst == 10 && !storeOpcodes[in.Opcode] {
			errs = append(errs, IllegalR10Write{Offset: offset})
		}

		if aluRegRegOpSrcSameDst[in.Opcode] && in.Dst == in.Src {
			warnings = append(warnings, fmt.Sprintf(
				"alu64 reg/reg op 0x%02x at offset %d has dst == src (r%d)", in.Opcode, offset, in.Dst))
		}

		if isJumpOpcode(in.Opcode) && in.Opcode != 0x95 {
			targetSlot := int64(slotPositions[idx]) + 1 + int64(in.Offset)
			if targetSlot < 0 || targetSlot > int64(totalSlots) {
				errs = append(errs, JumpOutOfBounds{Offset: offset, Target: targetSlot})
			}
		}

		if in.Opcode == 0x85 {
			if in.Src == 0 {
				stats.SyscallCount++
			} else {
				stats.InternalCallCount++
			}
		}

		isDivOrModImm := in.Opcode == 0x34 || in.Opcode == 0x37 || in.Opcode == 0x94 || in.Opcode == 0x97
		if isDivOrModImm && in.Imm == 0 {
			errs = append(errs, PossibleDivisionByZero{Offset: offset})
		}

		offset += in.Size()
	}

	if !hasExit && len(program) > 0 {
		errs = append(errs, NoExitInstruction{})
	}

	if stats.InternalCallCount > 0 {
		stats.MaxStackDepth = stats.InternalCallCount
		if stats.MaxStackDepth > v.maxCallDepth {
			stats.MaxStackDepth = v.maxCallDepth
		}
	} else {
		stats.MaxStackDepth = 1
	}

	if stats.InternalCallCount > v.maxCallDepth {
		warnings = append(warnings, fmt.Sprintf(
			"high internal call count (%d) may exceed call depth limit (%d)",
			stats.InternalCallCount, v.maxCallDepth))
	}

	if stats.EstimatedCU > 200_000 {
		warnings = append(warnings, fmt.Sprintf(
			"high estimated compute units: %d (default budget: 200,000)", stats.EstimatedCU))
	}

	valid := len(errs) == 0 && (!v.strict || len(warnings) == 0)

	return &Result{Valid: valid, Errors: errs, Warnings: warnings, Stats: stats}
}
