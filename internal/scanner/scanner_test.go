package scanner

import "testing"

func TestScan_SimpleSExpr(t *testing.T) {
	toks, err := New("(+ 1 2)").Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	want := []Kind{LeftParen, Plus, Integer, Integer, RightParen, EOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Errorf("token[%d].Kind = %v, want %v", i, toks[i].Kind, k)
		}
	}
}

func TestScan_NestedSExpr(t *testing.T) {
	toks, err := New("(if (== x 0) true false)").Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(toks) == 0 {
		t.Fatal("expected non-empty token stream")
	}
	if toks[0].Kind != LeftParen {
		t.Errorf("toks[0].Kind = %v, want LeftParen", toks[0].Kind)
	}
}

func TestScan_Quote(t *testing.T) {
	toks, err := New("'(1 2 3)").Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if toks[0].Kind != Quote {
		t.Errorf("toks[0].Kind = %v, want Quote", toks[0].Kind)
	}
	if toks[1].Kind != LeftParen {
		t.Errorf("toks[1].Kind = %v, want LeftParen", toks[1].Kind)
	}
}

func TestScan_KeywordArgs(t *testing.T) {
	toks, err := New(`(log :message "hello")`).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	found := false
	for _, tok := range toks {
		if tok.Kind == Colon {
			found = true
		}
	}
	if !found {
		t.Error("expected a Colon token")
	}
}

func TestScan_Comment(t *testing.T) {
	toks, err := New("; a comment\n(+ 1 2)").Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if toks[0].Kind != LeftParen || toks[1].Kind != Plus {
		t.Errorf("comment not skipped: %v", toks[:2])
	}
}

func TestScan_NegativeNumber(t *testing.T) {
	toks, err := New("(-5)").Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if toks[1].Kind != Integer || toks[1].Int != -5 {
		t.Errorf("toks[1] = %v, want Integer(-5)", toks[1])
	}
}

func TestScan_MinusOperator(t *testing.T) {
	toks, err := New("(- x 1)").Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if toks[1].Kind != Minus {
		t.Errorf("toks[1].Kind = %v, want Minus", toks[1].Kind)
	}
}

func TestScan_UnterminatedString(t *testing.T) {
	_, err := New(`"unterminated`).Scan()
	if err == nil {
		t.Fatal("expected error for unterminated string")
	}
}

func TestScan_UnknownEscape(t *testing.T) {
	_, err := New(`"bad \q escape"`).Scan()
	if err == nil {
		t.Fatal("expected error for invalid escape")
	}
}

func TestScan_CLSuffixIdentifier(t *testing.T) {
	toks, err := New("(let* ((x 1)) x)").Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if toks[1].Kind != Identifier || toks[1].Str != "let*" {
		t.Errorf("toks[1] = %v, want Identifier(let*)", toks[1])
	}
}

func TestScan_Literals(t *testing.T) {
	toks, err := New("true false nil null").Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	want := []Kind{True, False, Null, Null}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Errorf("toks[%d].Kind = %v, want %v", i, toks[i].Kind, k)
		}
	}
}
