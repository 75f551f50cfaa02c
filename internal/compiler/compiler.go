// Package compiler wires every pipeline stage — scanning, parsing,
// protocol-spec extraction, type checking, IR generation, optimization,
// register allocation, code generation, bytecode verification, and ELF
// packaging — into a single Compile call.
package compiler

import (
	"fmt"
	"strings"

	"github.com/openSVM/ovsmc/internal/ast"
	"github.com/openSVM/ovsmc/internal/codegen"
	"github.com/openSVM/ovsmc/internal/elfpkg"
	"github.com/openSVM/ovsmc/internal/formal"
	"github.com/openSVM/ovsmc/internal/ir"
	"github.com/openSVM/ovsmc/internal/optimize"
	"github.com/openSVM/ovsmc/internal/ovsmerr"
	"github.com/openSVM/ovsmc/internal/parser"
	"github.com/openSVM/ovsmc/internal/protospec"
	"github.com/openSVM/ovsmc/internal/regalloc"
	"github.com/openSVM/ovsmc/internal/scanner"
	"github.com/openSVM/ovsmc/internal/types"
	"github.com/openSVM/ovsmc/internal/verify"
)

// SbpfVersion selects the generated bytecode's relocation strategy.
type SbpfVersion int

const (
	// V1 relocates syscalls dynamically via .dynsym/.rel.dyn.
	V1 SbpfVersion = iota
	// V2 bakes Murmur3 syscall hashes statically, no relocations.
	V2
)

func (v SbpfVersion) target() codegen.Target {
	if v == V2 {
		return codegen.TargetV2
	}
	return codegen.TargetV1
}

func (v SbpfVersion) elfVersion() elfpkg.SbpfVersion {
	if v == V2 {
		return elfpkg.SbpfV2
	}
	return elfpkg.SbpfV1
}

// TypeCheckMode selects how strictly type annotations are enforced.
type TypeCheckMode int

const (
	Legacy TypeCheckMode = iota
	Gradual
	Strict
)

func (m TypeCheckMode) toCheckerMode() types.Mode {
	switch m {
	case Gradual:
		return types.Gradual
	case Strict:
		return types.Strict
	default:
		return types.Legacy
	}
}

// VerificationMode gates how formal-verification findings affect
// compilation.
type VerificationMode int

const (
	Skip VerificationMode = iota
	Warn
	Require
)

// CompileOptions controls every optional pipeline stage.
type CompileOptions struct {
	OptLevel         uint8
	ComputeBudget    uint64
	DebugInfo        bool
	SourceMap        bool
	SbpfVersion      SbpfVersion
	EnableSolanaAbi  bool
	TypeCheckMode    TypeCheckMode
	VerificationMode VerificationMode
}

// DefaultCompileOptions mirrors the original compiler's defaults:
// moderate optimization, V1 relocations, legacy type checking, and
// mandatory formal verification.
func DefaultCompileOptions() CompileOptions {
	return CompileOptions{
		OptLevel:         2,
		ComputeBudget:    200_000,
		SbpfVersion:      V1,
		EnableSolanaAbi:  false,
		TypeCheckMode:    Legacy,
		VerificationMode: Require,
	}
}

// VerificationFinding is one named condition a formal-verification pass
// reported, successfully proved or not.
type VerificationFinding struct {
	Description string
	Reason      string
}

// FormalVerificationResult aggregates every verification condition this
// compilation run checked: statically decidable protocol-spec transition
// violations (Failed) alongside memory-safety conditions the bundled
// SMT-LIB constraint generator cannot itself decide (Unknown).
type FormalVerificationResult struct {
	Failed  []VerificationFinding
	Unknown []VerificationFinding
}

// AllProved reports whether every verification condition either proved
// safe or was never attempted.
func (r *FormalVerificationResult) AllProved() bool {
	return r == nil || (len(r.Failed) == 0 && len(r.Unknown) == 0)
}

// CompileResult carries the packaged binary plus every diagnostic the
// pipeline accumulated along the way.
type CompileResult struct {
	ElfBytes             []byte
	EstimatedCU          uint64
	IrInstructionCount   int
	SbpfInstructionCount int
	Warnings             []string
	Verification         *verify.Result
	TypeErrors           []string
	FormalVerification   *FormalVerificationResult
}

// Compiler runs the full OVSM-to-sBPF pipeline under one set of options.
type Compiler struct {
	options CompileOptions
}

// New creates a Compiler configured by options.
func New(options CompileOptions) *Compiler {
	return &Compiler{options: options}
}

// Compile scans, parses, and compiles source text to a deployable ELF.
func (c *Compiler) Compile(source string) (*CompileResult, error) {
	toks, err := scanner.New(source).Scan()
	if err != nil {
		return nil, err
	}
	prog, err := parser.New(toks).Parse()
	if err != nil {
		return nil, err
	}
	return c.compileProgram(prog)
}

// CompileAST compiles an already-parsed program, skipping the scan/parse
// phase (e.g. for a caller that builds or rewrites a program
// programmatically).
func (c *Compiler) CompileAST(prog *ast.Program) (*CompileResult, error) {
	return c.compileProgram(prog)
}

func (c *Compiler) compileProgram(prog *ast.Program) (*CompileResult, error) {
	// Phase 1: protocol-spec extraction and runtime-check injection.
	spec, err := protospec.FromProgram(prog)
	if err != nil {
		return nil, err
	}
	if spec.HasSpecs() {
		if err := protospec.InjectGuards(prog, spec); err != nil {
			return nil, err
		}
	}

	// Phase 2: formal verification, skipped entirely under Skip. Under
	// Warn/Require, protocol-spec transition checking is statically
	// decidable and runs ahead of the type-checked/IR-generated stages
	// that follow. The bundled SMT-LIB constraint accumulator never
	// resolves to a hard verdict (see internal/formal's doc comment), so
	// it can only add an Unknown finding, and only once it holds recorded
	// memory accesses; this phase records none into it.
	formalResult, err := c.runFormalVerification(spec, prog)
	if err != nil {
		return nil, err
	}

	// Phase 3: type check.
	checker := types.New(c.options.TypeCheckMode.toCheckerMode())
	checker.Check(prog)
	var typeErrors []string
	for _, e := range checker.Errors {
		typeErrors = append(typeErrors, e.Error())
	}
	if c.options.TypeCheckMode == Strict && len(typeErrors) > 0 {
		return nil, &ovsmerr.CompilerError{Message: fmt.Sprintf("type errors: %s", strings.Join(typeErrors, "; "))}
	}

	// Phase 4: IR generation.
	irProgram, err := ir.New().Generate(prog)
	if err != nil {
		return nil, err
	}
	if c.options.EnableSolanaAbi {
		ir.InjectEntrypointWrapper(irProgram)
	}

	// Phase 5: optimize.
	if c.options.OptLevel > 0 {
		optimize.New(int(c.options.OptLevel)).Optimize(irProgram)
	}

	// Phase 6: register allocation + sBPF code generation.
	allocResult := regalloc.New().Allocate(irProgram)
	cg := codegen.New(c.options.SbpfVersion.target())
	cgResult, err := cg.Generate(irProgram, allocResult)
	if err != nil {
		return nil, err
	}

	// Phase 7: bytecode verification.
	verifier := verify.New()
	verification := verifier.Verify(cgResult.Instructions)
	if !verification.Valid {
		var msgs []string
		for _, e := range verification.Errors {
			msgs = append(msgs, e.Error())
		}
		return nil, &ovsmerr.CompilerError{Message: fmt.Sprintf("verification failed: %s", strings.Join(msgs, "; "))}
	}

	// Phase 8: package as ELF.
	elfBytes, err := c.packageElf(cgResult)
	if err != nil {
		return nil, err
	}

	warnings := append([]string(nil), checker.Warnings...)
	warnings = append(warnings, verification.Warnings...)
	if formalResult != nil {
		for _, f := range formalResult.Unknown {
			warnings = append(warnings, fmt.Sprintf("verification unknown: %s (%s)", f.Description, f.Reason))
		}
	}

	return &CompileResult{
		ElfBytes:             elfBytes,
		EstimatedCU:          verification.Stats.EstimatedCU,
		IrInstructionCount:   len(irProgram.Instructions),
		SbpfInstructionCount: len(cgResult.Instructions),
		Warnings:             warnings,
		Verification:         verification,
		TypeErrors:           typeErrors,
		FormalVerification:   formalResult,
	}, nil
}

func (c *Compiler) packageElf(cgResult *codegen.Result) ([]byte, error) {
	writer := elfpkg.New()
	version := c.options.SbpfVersion.elfVersion()
	if c.options.SbpfVersion == V1 {
		return writer.WriteWithSyscalls(cgResult.Instructions, cgResult.SyscallSites, cgResult.StringLoadSites, cgResult.Rodata, version)
	}
	return writer.Write(cgResult.Instructions, version)
}

// runFormalVerification checks every protocol-spec transition statically
// and runs the bundled memory-safety constraint generator, then gates the
// outcome per VerificationMode the same way the original compiler's
// Lean-verifier driver does: Skip never runs it, Warn always continues,
// Require blocks compilation and names every unresolved condition.
func (c *Compiler) runFormalVerification(spec *protospec.Spec, prog *ast.Program) (*FormalVerificationResult, error) {
	if c.options.VerificationMode == Skip {
		return nil, nil
	}

	result := &FormalVerificationResult{}

	violations, err := protospec.CheckTransitions(spec, prog)
	if err != nil {
		return nil, err
	}
	for _, v := range violations {
		result.Failed = append(result.Failed, VerificationFinding{
			Description: fmt.Sprintf("forbidden transition %s: %s -> %s", v.Machine, v.From, v.To),
			Reason:      v.Error(),
		})
	}

	mem := formal.New()
	memResult := mem.Verify()
	if mem.AccessCount() > 0 && memResult.Kind == formal.Unknown {
		result.Unknown = append(result.Unknown, VerificationFinding{
			Description: "memory safety",
			Reason:      memResult.Unknown,
		})
	}

	if result.AllProved() {
		return result, nil
	}

	switch c.options.VerificationMode {
	case Warn:
		return result, nil
	case Require:
		var b strings.Builder
		b.WriteString("formal verification failed - compilation blocked:\n\n")
		if len(result.Failed) > 0 {
			b.WriteString("FAILED (definitely unsafe):\n")
			for _, f := range result.Failed {
				fmt.Fprintf(&b, "  %s: %s\n", f.Description, f.Reason)
			}
		}
		if len(result.Unknown) > 0 {
			b.WriteString("UNVERIFIED (cannot prove safety):\n")
			for _, f := range result.Unknown {
				fmt.Fprintf(&b, "  %s: %s\n", f.Description, f.Reason)
			}
		}
		b.WriteString("to compile anyway, use verification mode Warn or Skip\n")
		return nil, &ovsmerr.CompilerError{Message: b.String()}
	default:
		return result, nil
	}
}
