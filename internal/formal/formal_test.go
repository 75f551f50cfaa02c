package formal

import (
	"strings"
	"testing"
)

func TestVerifierBasic(t *testing.T) {
	v := New()
	maxLen := uint32(2)
	v.AddLoadConstraint(1, 0, 8, &maxLen)
	if v.AccessCount() != 1 {
		t.Fatalf("expected access count 1, got %d", v.AccessCount())
	}
}

func TestSmtlibOutput(t *testing.T) {
	v := New()
	v.constraints = append(v.constraints,
		ConstConstraint{Reg: 0, Value: 100},
		InBoundsConstraint{Base: 1, Offset: 0, Size: 8, MaxLen: 0},
	)

	smt := v.ToSmtlib()
	if !strings.Contains(smt, "(set-logic QF_BV)") {
		t.Fatal("expected smt-lib logic declaration")
	}
	if !strings.Contains(smt, "(declare-const r0") {
		t.Fatal("expected register declaration for r0")
	}
	if !strings.Contains(smt, "(check-sat)") {
		t.Fatal("expected check-sat directive")
	}
}
