// Package formal provides compile-time memory-safety verification of
// IR programs via SMT-LIB constraint generation.
//
// This is a legacy/fallback design: the constraints below accumulate
// into a QF_BV SMT-LIB script suitable for an external solver, but no
// solver is invoked here. A from-scratch Go binding around an SMT
// solver isn't available in the rest of this toolchain's dependency
// stack, so verification results in this package report Unknown
// rather than fabricate a solve step; callers that need a hard
// safe/unsafe verdict should shell out to an external `z3` binary
// against the ToSmtlib() output themselves.
package formal

import (
	"fmt"
	"strings"
)

// VerificationResult is the outcome of a (possibly external) solver
// run against a program's generated constraints.
type VerificationResult struct {
	Kind    VerificationKind
	Unsafe  *CounterExample
	Unknown string
}

type VerificationKind int

const (
	Safe VerificationKind = iota
	Unsafe
	Unknown
)

// CounterExample describes a concrete input that triggers a memory
// safety violation.
type CounterExample struct {
	RegisterValues       map[uint32]uint64
	ViolatingInstruction string
	Access                MemoryAccess
}

// MemoryAccess describes one load or store considered for bounds
// checking.
type MemoryAccess struct {
	BaseRegister uint32
	Offset       int64
	Size         int64
	IsWrite      bool
}

// SmtConstraint is the closed vocabulary of safety facts the verifier
// can emit into its SMT-LIB output.
type SmtConstraint interface{ smtConstraint() }

type ConstConstraint struct {
	Reg   uint32
	Value int64
}
type AddConstraint struct{ Dst, Lhs, Rhs uint32 }
type InBoundsConstraint struct {
	Base   uint32
	Offset int64
	Size   int64
	MaxLen uint32
}
type WritableConstraint struct{ Base uint32 }
type BranchConstraint struct {
	Cond   uint32
	Target string
}

func (ConstConstraint) smtConstraint()    {}
func (AddConstraint) smtConstraint()      {}
func (InBoundsConstraint) smtConstraint() {}
func (WritableConstraint) smtConstraint() {}
func (BranchConstraint) smtConstraint()   {}

// Verifier accumulates memory-safety constraints as IR instructions
// are analyzed.
type Verifier struct {
	constraints []SmtConstraint
	accessCount int
}

func New() *Verifier { return &Verifier{} }

// AddLoadConstraint records a memory read, and an in-bounds check when
// the region's dynamic length is tracked in maxLenReg.
func (v *Verifier) AddLoadConstraint(base uint32, offset, size int64, maxLenReg *uint32) {
	v.accessCount++
	if maxLenReg != nil {
		v.constraints = append(v.constraints, InBoundsConstraint{Base: base, Offset: offset, Size: size, MaxLen: *maxLenReg})
	}
}

// AddStoreConstraint records a memory write: always a writability
// check, plus an in-bounds check when the region's length is tracked.
func (v *Verifier) AddStoreConstraint(base uint32, offset, size int64, maxLenReg *uint32) {
	v.accessCount++
	v.constraints = append(v.constraints, WritableConstraint{Base: base})
	if maxLenReg != nil {
		v.constraints = append(v.constraints, InBoundsConstraint{Base: base, Offset: offset, Size: size, MaxLen: *maxLenReg})
	}
}

// AccessCount reports how many memory accesses have been recorded.
func (v *Verifier) AccessCount() int { return v.accessCount }

// ToSmtlib renders the accumulated constraints as a QF_BV SMT-LIB
// script.
func (v *Verifier) ToSmtlib() string {
	var b strings.Builder
	b.WriteString("; OVSM Memory Safety Verification\n")
	b.WriteString("(set-logic QF_BV)\n\n")

	var maxReg uint32
	seen := false
	bump := func(r uint32) {
		if !seen || r > maxReg {
			maxReg = r
			seen = true
		}
	}
	for _, c := range v.constraints {
		switch cc := c.(type) {
		case ConstConstraint:
			bump(cc.Reg)
		case AddConstraint:
			bump(cc.Dst)
			bump(cc.Lhs)
			bump(cc.Rhs)
		case InBoundsConstraint:
			bump(cc.Base)
			bump(cc.MaxLen)
		case WritableConstraint:
			bump(cc.Base)
		case BranchConstraint:
			bump(cc.Cond)
		}
	}

	for i := uint32(0); i <= maxReg; i++ {
		fmt.Fprintf(&b, "(declare-const r%d (_ BitVec 64))\n", i)
	}
	b.WriteString("\n")

	for _, c := range v.constraints {
		switch cc := c.(type) {
		case ConstConstraint:
			fmt.Fprintf(&b, "(assert (= r%d #x%016x))\n", cc.Reg, uint64(cc.Value))
		case AddConstraint:
			fmt.Fprintf(&b, "(assert (= r%d (bvadd r%d r%d)))\n", cc.Dst, cc.Lhs, cc.Rhs)
		case InBoundsConstraint:
			endOffset := cc.Offset + cc.Size
			fmt.Fprintf(&b, "; Bounds check: base=r%d, offset=%d, size=%d\n", cc.Base, cc.Offset, cc.Size)
			fmt.Fprintf(&b, "(assert (bvult (bvadd r%d #x%016x) r%d))\n", cc.Base, uint64(endOffset), cc.MaxLen)
		case WritableConstraint:
			fmt.Fprintf(&b, "; Writability check for region at r%d\n", cc.Base)
		case BranchConstraint:
			fmt.Fprintf(&b, "; Branch on r%d to %s\n", cc.Cond, cc.Target)
		}
	}

	b.WriteString("\n(check-sat)\n")
	b.WriteString("(get-model)\n")
	return b.String()
}

// Verify reports Unknown for every run: no solver is wired in. Callers
// that want a hard verdict pipe ToSmtlib()'s output to an external
// solver and interpret its SAT/UNSAT result themselves.
func (v *Verifier) Verify() VerificationResult {
	return VerificationResult{Kind: Unknown, Unknown: "no SMT solver wired; inspect ToSmtlib() output externally"}
}
