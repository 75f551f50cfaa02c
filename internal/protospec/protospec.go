// Package protospec extracts defstate/defaccess/definvariant/defprotocol
// declarations from a parsed program, synthesizes the guard source that
// enforces them, and statically checks declared state transitions against
// the transition table a defstate records.
//
// The surface parser already desugars every one of these forms into a
// __defstate__/__defaccess__/__definvariant__/__defprotocol__ ToolCall (see
// internal/ast's doc comment on ToolCall); this package is the consumer
// that gives those calls meaning instead of letting IR generation treat
// them as no-ops.
package protospec

import (
	"fmt"
	"strings"

	"github.com/openSVM/ovsmc/internal/ast"
	"github.com/openSVM/ovsmc/internal/ovsmerr"
	"github.com/openSVM/ovsmc/internal/parser"
	"github.com/openSVM/ovsmc/internal/scanner"
)

// Transition is one allowed From -> To edge in a state machine.
type Transition struct{ From, To string }

// StateMachine is the extracted shape of one defstate declaration.
type StateMachine struct {
	Name        string
	States      []string
	Initial     string
	Terminal    []string
	Transitions []Transition
}

// Allows reports whether from -> to is a declared transition.
func (sm StateMachine) Allows(from, to string) bool {
	for _, t := range sm.Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// SignerRequirement names an account field that must carry a signer bit.
type SignerRequirement struct{ Account, Field string }

// AccessControl is the extracted shape of one defaccess declaration.
type AccessControl struct {
	Instruction    string
	Signers        []SignerRequirement
	RequiresAdmin  bool
	ActiveAccounts []string
	Preconditions  []ast.Expr
}

// Invariant is the extracted shape of one definvariant declaration.
type Invariant struct {
	Name        string
	Description string
	Predicate   ast.Expr
}

// Spec is every protocol-level declaration found in a program, regardless
// of whether it appeared bare at the top level or nested inside a
// defprotocol block.
type Spec struct {
	StateMachines  []StateMachine
	AccessControls []AccessControl
	Invariants     []Invariant
}

// HasSpecs reports whether any declaration was found at all; callers use
// this to skip synthesis and transition checking entirely for ordinary
// programs.
func (s *Spec) HasSpecs() bool {
	return s != nil && (len(s.StateMachines) > 0 || len(s.AccessControls) > 0 || len(s.Invariants) > 0)
}

// FromProgram walks a parsed program's top-level statements (and the
// bodies of any defprotocol blocks among them) and collects every
// protocol-spec declaration into a Spec.
func FromProgram(prog *ast.Program) (*Spec, error) {
	spec := &Spec{}
	for _, stmt := range prog.Statements {
		if err := collectInto(spec, stmt); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func collectInto(spec *Spec, e ast.Expr) error {
	call, ok := e.(*ast.ToolCall)
	if !ok {
		return nil
	}
	switch call.Name {
	case "__defstate__":
		sm, err := stateMachineFromArgs(call.Args)
		if err != nil {
			return err
		}
		spec.StateMachines = append(spec.StateMachines, sm)
	case "__defaccess__":
		ac, err := accessControlFromArgs(call.Args)
		if err != nil {
			return err
		}
		spec.AccessControls = append(spec.AccessControls, ac)
	case "__definvariant__":
		inv, err := invariantFromArgs(call.Args)
		if err != nil {
			return err
		}
		spec.Invariants = append(spec.Invariants, inv)
	case "__defprotocol__":
		if len(call.Args) != 2 {
			return &ovsmerr.CompilerError{Message: "protospec: malformed __defprotocol__ call"}
		}
		body, ok := call.Args[1].Value.(*ast.ArrayLiteral)
		if !ok {
			return &ovsmerr.CompilerError{Message: "protospec: defprotocol body is not a list"}
		}
		for _, inner := range body.Elements {
			if err := collectInto(spec, inner); err != nil {
				return err
			}
		}
	}
	return nil
}

func stringElements(e ast.Expr) ([]string, error) {
	arr, ok := e.(*ast.ArrayLiteral)
	if !ok {
		return nil, &ovsmerr.CompilerError{Message: "protospec: expected a list of strings"}
	}
	out := make([]string, len(arr.Elements))
	for i, el := range arr.Elements {
		s, ok := el.(*ast.StringLiteral)
		if !ok {
			return nil, &ovsmerr.CompilerError{Message: "protospec: expected string literal in list"}
		}
		out[i] = s.Value
	}
	return out, nil
}

func stateMachineFromArgs(args []ast.Argument) (StateMachine, error) {
	if len(args) != 5 {
		return StateMachine{}, &ovsmerr.CompilerError{Message: "protospec: malformed __defstate__ call"}
	}
	name, ok := args[0].Value.(*ast.StringLiteral)
	if !ok {
		return StateMachine{}, &ovsmerr.CompilerError{Message: "protospec: defstate name is not a string"}
	}
	states, err := stringElements(args[1].Value)
	if err != nil {
		return StateMachine{}, err
	}
	initial, ok := args[2].Value.(*ast.StringLiteral)
	if !ok {
		return StateMachine{}, &ovsmerr.CompilerError{Message: "protospec: defstate initial is not a string"}
	}
	terminal, err := stringElements(args[3].Value)
	if err != nil {
		return StateMachine{}, err
	}
	transArr, ok := args[4].Value.(*ast.ArrayLiteral)
	if !ok {
		return StateMachine{}, &ovsmerr.CompilerError{Message: "protospec: defstate transitions is not a list"}
	}
	var transitions []Transition
	for _, el := range transArr.Elements {
		pair, ok := el.(*ast.ArrayLiteral)
		if !ok || len(pair.Elements) != 2 {
			return StateMachine{}, &ovsmerr.CompilerError{Message: "protospec: malformed transition pair"}
		}
		from, ok1 := pair.Elements[0].(*ast.StringLiteral)
		to, ok2 := pair.Elements[1].(*ast.StringLiteral)
		if !ok1 || !ok2 {
			return StateMachine{}, &ovsmerr.CompilerError{Message: "protospec: transition endpoints must be strings"}
		}
		transitions = append(transitions, Transition{From: from.Value, To: to.Value})
	}
	return StateMachine{
		Name:        name.Value,
		States:      states,
		Initial:     initial.Value,
		Terminal:    terminal,
		Transitions: transitions,
	}, nil
}

func accessControlFromArgs(args []ast.Argument) (AccessControl, error) {
	if len(args) != 5 {
		return AccessControl{}, &ovsmerr.CompilerError{Message: "protospec: malformed __defaccess__ call"}
	}
	instr, ok := args[0].Value.(*ast.StringLiteral)
	if !ok {
		return AccessControl{}, &ovsmerr.CompilerError{Message: "protospec: defaccess instruction is not a string"}
	}
	signersArr, ok := args[1].Value.(*ast.ArrayLiteral)
	if !ok {
		return AccessControl{}, &ovsmerr.CompilerError{Message: "protospec: defaccess signers is not a list"}
	}
	var signers []SignerRequirement
	for _, el := range signersArr.Elements {
		pair, ok := el.(*ast.ArrayLiteral)
		if !ok || len(pair.Elements) != 2 {
			return AccessControl{}, &ovsmerr.CompilerError{Message: "protospec: malformed signer requirement"}
		}
		account, ok1 := pair.Elements[0].(*ast.StringLiteral)
		field, ok2 := pair.Elements[1].(*ast.StringLiteral)
		if !ok1 || !ok2 {
			return AccessControl{}, &ovsmerr.CompilerError{Message: "protospec: signer requirement fields must be strings"}
		}
		signers = append(signers, SignerRequirement{Account: account.Value, Field: field.Value})
	}
	admin, ok := args[2].Value.(*ast.BoolLiteral)
	if !ok {
		return AccessControl{}, &ovsmerr.CompilerError{Message: "protospec: defaccess admin flag is not a bool"}
	}
	actives, err := stringElements(args[3].Value)
	if err != nil {
		return AccessControl{}, err
	}
	preArr, ok := args[4].Value.(*ast.ArrayLiteral)
	if !ok {
		return AccessControl{}, &ovsmerr.CompilerError{Message: "protospec: defaccess preconditions is not a list"}
	}
	return AccessControl{
		Instruction:    instr.Value,
		Signers:        signers,
		RequiresAdmin:  admin.Value,
		ActiveAccounts: actives,
		Preconditions:  append([]ast.Expr(nil), preArr.Elements...),
	}, nil
}

func invariantFromArgs(args []ast.Argument) (Invariant, error) {
	if len(args) != 3 {
		return Invariant{}, &ovsmerr.CompilerError{Message: "protospec: malformed __definvariant__ call"}
	}
	name, ok := args[0].Value.(*ast.StringLiteral)
	if !ok {
		return Invariant{}, &ovsmerr.CompilerError{Message: "protospec: definvariant name is not a string"}
	}
	desc, ok := args[1].Value.(*ast.StringLiteral)
	if !ok {
		return Invariant{}, &ovsmerr.CompilerError{Message: "protospec: definvariant description is not a string"}
	}
	return Invariant{Name: name.Value, Description: desc.Value, Predicate: args[2].Value}, nil
}

// GenerateRuntimeChecks synthesizes OVSM source text that turns every
// extracted invariant and access precondition into an inline guard at the
// top of the program:
//
//	(if <predicate-source> 0 (throw "invariant-violation" "<message>"))
//
// The guard runs the throw branch only when the predicate is false,
// avoiding a surface-level boolean-not form (the parser never builds
// ast.Unary from any token sequence, so "(not x)" has no parse path to
// rely on here).
//
// This also deliberately avoids defn: a synthesized guard runs once,
// inline, at the point invariants are checked, so giving it a separate
// named function and a call site would only add an indirection (and an
// extra R1..R5 argument shuffle) with no benefit. An inline if/throw
// composes directly with the IR generator's Ternary lowering and its
// Throw case (which evaluates the thrown value and emits no exit of its
// own).
//
// Predicates are re-rendered from their parsed form by PrintExpr rather
// than carried as raw source, since protospec only ever holds already-
// parsed ast.Expr trees (the declarations came from the same parse pass
// as the rest of the program).
func GenerateRuntimeChecks(spec *Spec) (string, error) {
	if !spec.HasSpecs() {
		return "", nil
	}
	var b strings.Builder
	for _, inv := range spec.Invariants {
		predSrc, err := PrintExpr(inv.Predicate)
		if err != nil {
			return "", err
		}
		msg := fmt.Sprintf("invariant violated: %s (%s)", inv.Name, inv.Description)
		fmt.Fprintf(&b, "(if %s 0 (throw \"invariant-violation\" %q))\n", predSrc, msg)
	}
	for _, ac := range spec.AccessControls {
		for i, pre := range ac.Preconditions {
			preSrc, err := PrintExpr(pre)
			if err != nil {
				return "", err
			}
			msg := fmt.Sprintf("access precondition %d failed for instruction %s", i, ac.Instruction)
			fmt.Fprintf(&b, "(if %s 0 (throw \"access-denied\" %q))\n", preSrc, msg)
		}
	}
	return b.String(), nil
}

// ParseGuardSource re-scans and re-parses synthesized guard source,
// returning the statements ready to prepend to a user program.
func ParseGuardSource(src string) ([]ast.Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	toks, err := scanner.New(src).Scan()
	if err != nil {
		return nil, err
	}
	prog, err := parser.New(toks).Parse()
	if err != nil {
		return nil, err
	}
	return prog.Statements, nil
}

// InjectGuards prepends the synthesized, re-parsed guard statements ahead
// of the rest of prog's body.
func InjectGuards(prog *ast.Program, spec *Spec) error {
	src, err := GenerateRuntimeChecks(spec)
	if err != nil {
		return err
	}
	guards, err := ParseGuardSource(src)
	if err != nil {
		return err
	}
	if len(guards) == 0 {
		return nil
	}
	prog.Statements = append(append([]ast.Expr(nil), guards...), prog.Statements...)
	return nil
}

// Violation describes a forbidden state transition a program declares via
// a transition! call.
type Violation struct {
	Machine  string
	From, To string
}

func (v Violation) Error() string {
	return fmt.Sprintf("forbidden transition in %s: %s -> %s is not declared", v.Machine, v.From, v.To)
}

// CheckTransitions statically scans prog for (transition! Machine From To)
// calls and reports every one whose From -> To edge is absent from the
// matching state machine's transition table.
//
// transition! is this package's own naming convention: the Lean4-based
// protocol-spec verifier the original compiler used for this check was
// not available to ground a different convention against, so this names
// the call the way the rest of the desugared special forms are named
// (bang-suffixed, matching set!).
func CheckTransitions(spec *Spec, prog *ast.Program) ([]Violation, error) {
	if !spec.HasSpecs() {
		return nil, nil
	}
	machines := make(map[string]StateMachine, len(spec.StateMachines))
	for _, sm := range spec.StateMachines {
		machines[sm.Name] = sm
	}

	var violations []Violation
	var walk func(ast.Expr) error
	walk = func(e ast.Expr) error {
		if e == nil {
			return nil
		}
		switch n := e.(type) {
		case *ast.ToolCall:
			if n.Name == "transition!" {
				if len(n.Args) != 3 {
					return &ovsmerr.CompilerError{Message: "transition!: expected (transition! machine from to)"}
				}
				machineName, ok1 := n.Args[0].Value.(*ast.StringLiteral)
				from, ok2 := n.Args[1].Value.(*ast.StringLiteral)
				to, ok3 := n.Args[2].Value.(*ast.StringLiteral)
				if !ok1 || !ok2 || !ok3 {
					return &ovsmerr.CompilerError{Message: "transition!: arguments must be string literals"}
				}
				sm, known := machines[machineName.Value]
				if known && !sm.Allows(from.Value, to.Value) {
					violations = append(violations, Violation{Machine: machineName.Value, From: from.Value, To: to.Value})
				}
			}
			for _, a := range n.Args {
				if err := walk(a.Value); err != nil {
					return err
				}
			}
			return nil
		case *ast.ArrayLiteral:
			for _, el := range n.Elements {
				if err := walk(el); err != nil {
					return err
				}
			}
			return nil
		case *ast.ObjectLiteral:
			for _, f := range n.Fields {
				if err := walk(f.Value); err != nil {
					return err
				}
			}
			return nil
		case *ast.Binary:
			if err := walk(n.Left); err != nil {
				return err
			}
			return walk(n.Right)
		case *ast.Unary:
			return walk(n.Operand)
		case *ast.Ternary:
			if err := walk(n.Condition); err != nil {
				return err
			}
			if err := walk(n.Then); err != nil {
				return err
			}
			return walk(n.Else)
		case *ast.Lambda:
			return walk(n.Body)
		case *ast.TypedLambda:
			return walk(n.Body)
		case *ast.FieldAccess:
			return walk(n.Object)
		case *ast.IndexAccess:
			if err := walk(n.Array); err != nil {
				return err
			}
			return walk(n.Index)
		case *ast.Grouping:
			return walk(n.Inner)
		case *ast.Quasiquote:
			return walk(n.Inner)
		case *ast.Unquote:
			return walk(n.Inner)
		case *ast.UnquoteSplice:
			return walk(n.Inner)
		case *ast.Range:
			if err := walk(n.Start); err != nil {
				return err
			}
			return walk(n.End)
		case *ast.Catch:
			if err := walk(n.Tag); err != nil {
				return err
			}
			for _, s := range n.Body {
				if err := walk(s); err != nil {
					return err
				}
			}
			return nil
		case *ast.Throw:
			if err := walk(n.Tag); err != nil {
				return err
			}
			return walk(n.Value)
		case *ast.DestructuringBind:
			if err := walk(n.Value); err != nil {
				return err
			}
			for _, s := range n.Body {
				if err := walk(s); err != nil {
					return err
				}
			}
			return nil
		case *ast.TypeAnnotation:
			return walk(n.Expr)
		case *ast.RefinedTypeExpr:
			return walk(n.Predicate)
		case *ast.Loop:
			if n.Data == nil {
				return nil
			}
			for _, it := range n.Data.Iterations {
				if err := walk(it.Collection); err != nil {
					return err
				}
			}
			for _, acc := range n.Data.Accumulations {
				if err := walk(acc.Init); err != nil {
					return err
				}
				if err := walk(acc.Update); err != nil {
					return err
				}
			}
			for _, c := range n.Data.Conditions {
				if err := walk(c.Test); err != nil {
					return err
				}
			}
			for _, x := range n.Data.Exits {
				if err := walk(x.Test); err != nil {
					return err
				}
				if err := walk(x.Value); err != nil {
					return err
				}
			}
			for _, s := range n.Data.Body {
				if err := walk(s); err != nil {
					return err
				}
			}
			return nil
		default:
			return nil
		}
	}

	for _, stmt := range prog.Statements {
		if err := walk(stmt); err != nil {
			return nil, err
		}
	}
	return violations, nil
}
