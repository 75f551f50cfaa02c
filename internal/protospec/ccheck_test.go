package protospec

import "testing"

func TestValidateGuardSignature_Valid(t *testing.T) {
	if err := ValidateGuardSignature("check_balance_nonneg", 1); err != nil {
		t.Fatalf("ValidateGuardSignature() error = %v", err)
	}
}

func TestValidateGuardSignature_NoParams(t *testing.T) {
	if err := ValidateGuardSignature("check_invariant", 0); err != nil {
		t.Fatalf("ValidateGuardSignature() error = %v", err)
	}
}
