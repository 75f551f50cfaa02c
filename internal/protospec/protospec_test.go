package protospec

import (
	"strings"
	"testing"

	"github.com/openSVM/ovsmc/internal/parser"
	"github.com/openSVM/ovsmc/internal/scanner"
)

func TestFromProgram_StateMachine(t *testing.T) {
	src := `(defstate OrderStatus
		:states (Created Paid Shipped Delivered)
		:initial Created
		:terminal (Delivered)
		:transitions ((Created -> Paid) (Paid -> Shipped) (Shipped -> Delivered)))`
	toks, err := scanner.New(src).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	prog, err := parser.New(toks).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	spec, err := FromProgram(prog)
	if err != nil {
		t.Fatalf("FromProgram() error = %v", err)
	}
	if !spec.HasSpecs() {
		t.Fatal("expected HasSpecs to be true")
	}
	if len(spec.StateMachines) != 1 {
		t.Fatalf("expected 1 state machine, got %d", len(spec.StateMachines))
	}
	sm := spec.StateMachines[0]
	if sm.Name != "OrderStatus" {
		t.Errorf("Name = %q, want OrderStatus", sm.Name)
	}
	if sm.Initial != "Created" {
		t.Errorf("Initial = %q, want Created", sm.Initial)
	}
	if !sm.Allows("Created", "Paid") {
		t.Error("expected Created -> Paid to be allowed")
	}
	if sm.Allows("Created", "Shipped") {
		t.Error("expected Created -> Shipped to be forbidden")
	}
}

func TestCheckTransitions_ForbiddenTransitionDetected(t *testing.T) {
	src := `(defstate OrderStatus
		:states (Created Paid Shipped Delivered)
		:initial Created
		:terminal (Delivered)
		:transitions ((Created -> Paid) (Paid -> Shipped) (Shipped -> Delivered)))
	(transition! "OrderStatus" "Created" "Shipped")`
	toks, err := scanner.New(src).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	prog, err := parser.New(toks).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	spec, err := FromProgram(prog)
	if err != nil {
		t.Fatalf("FromProgram() error = %v", err)
	}

	violations, err := CheckTransitions(spec, prog)
	if err != nil {
		t.Fatalf("CheckTransitions() error = %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d: %v", len(violations), violations)
	}
	if violations[0].From != "Created" || violations[0].To != "Shipped" {
		t.Errorf("violation = %+v, want Created -> Shipped", violations[0])
	}
}

func TestCheckTransitions_AllowedTransitionClean(t *testing.T) {
	src := `(defstate OrderStatus
		:states (Created Paid)
		:initial Created
		:terminal ()
		:transitions ((Created -> Paid)))
	(transition! "OrderStatus" "Created" "Paid")`
	toks, err := scanner.New(src).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	prog, err := parser.New(toks).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	spec, err := FromProgram(prog)
	if err != nil {
		t.Fatalf("FromProgram() error = %v", err)
	}
	violations, err := CheckTransitions(spec, prog)
	if err != nil {
		t.Fatalf("CheckTransitions() error = %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestGenerateRuntimeChecks_InvariantGuard(t *testing.T) {
	src := `(definvariant balance-nonneg "balance stays non-negative" (>= balance 0))`
	toks, err := scanner.New(src).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	prog, err := parser.New(toks).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	spec, err := FromProgram(prog)
	if err != nil {
		t.Fatalf("FromProgram() error = %v", err)
	}
	if len(spec.Invariants) != 1 {
		t.Fatalf("expected 1 invariant, got %d", len(spec.Invariants))
	}

	checks, err := GenerateRuntimeChecks(spec)
	if err != nil {
		t.Fatalf("GenerateRuntimeChecks() error = %v", err)
	}
	if !strings.Contains(checks, "throw") {
		t.Errorf("expected synthesized guard source to contain a throw, got: %s", checks)
	}

	guards, err := ParseGuardSource(checks)
	if err != nil {
		t.Fatalf("ParseGuardSource() error = %v", err)
	}
	if len(guards) != 1 {
		t.Fatalf("expected 1 guard statement, got %d", len(guards))
	}
}

func TestInjectGuards_PrependsAheadOfProgram(t *testing.T) {
	src := `(definvariant nonneg "x stays non-negative" (>= x 0))
	(define x 1)`
	toks, err := scanner.New(src).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	prog, err := parser.New(toks).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	originalLen := len(prog.Statements)

	spec, err := FromProgram(prog)
	if err != nil {
		t.Fatalf("FromProgram() error = %v", err)
	}
	if err := InjectGuards(prog, spec); err != nil {
		t.Fatalf("InjectGuards() error = %v", err)
	}
	if len(prog.Statements) <= originalLen {
		t.Fatalf("expected InjectGuards to prepend statements, got %d (was %d)", len(prog.Statements), originalLen)
	}
}

func TestHasSpecs_EmptyProgram(t *testing.T) {
	toks, err := scanner.New("(define x 1)").Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	prog, err := parser.New(toks).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	spec, err := FromProgram(prog)
	if err != nil {
		t.Fatalf("FromProgram() error = %v", err)
	}
	if spec.HasSpecs() {
		t.Error("expected HasSpecs to be false for a program with no protocol-spec declarations")
	}
}
