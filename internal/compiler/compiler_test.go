package compiler

import "testing"

func TestCompile_SimpleArithmetic(t *testing.T) {
	result, err := New(CompileOptions{OptLevel: 0, VerificationMode: Skip}).Compile("(define x 42)\n(+ x 10)")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(result.ElfBytes) <= 64 {
		t.Fatalf("expected ELF size > 64 bytes, got %d", len(result.ElfBytes))
	}
	if !result.Verification.Valid {
		t.Fatalf("expected a valid verification verdict, errors: %v", result.Verification.Errors)
	}
	if result.IrInstructionCount <= 3 {
		t.Fatalf("expected IR instruction count > 3, got %d", result.IrInstructionCount)
	}
}

func TestCompile_DefaultOptionsRequireVerification(t *testing.T) {
	opts := DefaultCompileOptions()
	if opts.VerificationMode != Require {
		t.Fatalf("VerificationMode = %v, want Require", opts.VerificationMode)
	}
	if opts.SbpfVersion != V1 {
		t.Fatalf("SbpfVersion = %v, want V1", opts.SbpfVersion)
	}
	if opts.OptLevel != 2 {
		t.Fatalf("OptLevel = %d, want 2", opts.OptLevel)
	}

	result, err := New(opts).Compile("(define x 1)")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(result.ElfBytes) == 0 {
		t.Fatal("expected non-empty ELF bytes")
	}
}

func TestCompile_ForbiddenTransitionBlockedUnderRequire(t *testing.T) {
	src := `(defstate OrderStatus
		:states (Created Paid Shipped Delivered)
		:initial Created
		:terminal (Delivered)
		:transitions ((Created -> Paid) (Paid -> Shipped) (Shipped -> Delivered)))
	(transition! "OrderStatus" "Created" "Shipped")`

	opts := DefaultCompileOptions()
	opts.VerificationMode = Require
	_, err := New(opts).Compile(src)
	if err == nil {
		t.Fatal("expected compilation to be blocked by the forbidden transition")
	}
}

func TestCompile_ForbiddenTransitionWarnsButSucceeds(t *testing.T) {
	src := `(defstate OrderStatus
		:states (Created Paid Shipped Delivered)
		:initial Created
		:terminal (Delivered)
		:transitions ((Created -> Paid) (Paid -> Shipped) (Shipped -> Delivered)))
	(transition! "OrderStatus" "Created" "Shipped")`

	opts := DefaultCompileOptions()
	opts.VerificationMode = Warn
	result, err := New(opts).Compile(src)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if result.FormalVerification == nil || len(result.FormalVerification.Failed) != 1 {
		t.Fatalf("expected one recorded failed verification condition, got %+v", result.FormalVerification)
	}
}

func TestCompile_V2SkipsRelocations(t *testing.T) {
	opts := DefaultCompileOptions()
	opts.SbpfVersion = V2
	opts.VerificationMode = Skip
	result, err := New(opts).Compile("(define x 1)\n(+ x 1)")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(result.ElfBytes) == 0 {
		t.Fatal("expected non-empty ELF bytes for V2")
	}
}

func TestCompile_DefnFunctionIsCallable(t *testing.T) {
	src := "(defn add-one (x) (+ x 1))\n(add-one 41)"
	result, err := New(CompileOptions{OptLevel: 0, VerificationMode: Skip}).Compile(src)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !result.Verification.Valid {
		t.Fatalf("expected a valid verification verdict, errors: %v", result.Verification.Errors)
	}
	if len(result.ElfBytes) == 0 {
		t.Fatal("expected non-empty ELF bytes")
	}
}

func TestCompile_DefnUnderStrictTypeCheckingDoesNotFalselyFlagItsOwnName(t *testing.T) {
	opts := CompileOptions{OptLevel: 0, VerificationMode: Skip, TypeCheckMode: Strict}
	src := "(defn add-one (x) (+ x 1))\n(add-one 41)"
	_, err := New(opts).Compile(src)
	if err != nil {
		t.Fatalf("Compile() error = %v, want defn's own name not reported as undefined under strict type checking", err)
	}
}

func TestCompile_DefnTooManyParamsFails(t *testing.T) {
	src := "(defn sum5 (a b c d e f) (+ a b))\n(sum5 1 2 3 4 5 6)"
	_, err := New(CompileOptions{OptLevel: 0, VerificationMode: Skip}).Compile(src)
	if err == nil {
		t.Fatal("expected defn with more than 5 parameters to fail compilation")
	}
}

func TestCompile_SolanaAbiWrapperInjected(t *testing.T) {
	opts := DefaultCompileOptions()
	opts.EnableSolanaAbi = true
	opts.VerificationMode = Skip
	result, err := New(opts).Compile("(define x 1)")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if result.SbpfInstructionCount == 0 {
		t.Fatal("expected a non-empty sBPF instruction stream")
	}
}
