package types

import (
	"fmt"

	"github.com/openSVM/ovsmc/internal/ast"
	"github.com/openSVM/ovsmc/internal/ovsmerr"
)

// Mode selects how aggressively the checker enforces explicit annotations.
type Mode int

const (
	// Legacy infers a single type per expression with no annotation
	// enforcement — the original, always-on inference pass.
	Legacy Mode = iota
	// Gradual additionally respects (: e T) / typed-lambda annotations but
	// only warns on mismatch.
	Gradual
	// Strict fails compilation on an annotation mismatch.
	Strict
)

// intrinsicReturnTypes is the closed table of tool-call names with a fixed
// return type; everything else types as Any.
var intrinsicReturnTypes = map[string]Type{
	"length": Simple(I64),
	"range":  ArrayOf(Simple(I64)),
	"get":    Simple(Any),
	"log":    Simple(Null),
	"now":    Simple(I64),
	"abs":    Simple(F64),
	"sqrt":   Simple(F64),
	"floor":  Simple(F64),
	"ceil":   Simple(F64),
}

// Checker performs type inference and (in Gradual/Strict mode) annotation
// checking over a parsed program.
type Checker struct {
	env      *Env
	mode     Mode
	Warnings []string
	Errors   []error
}

// New creates a Checker pre-populated with the Solana program builtins.
func New(mode Mode) *Checker {
	return &Checker{env: NewEnv(), mode: mode}
}

// Check infers a type for every top-level statement, threading definitions
// through the global scope.
func (c *Checker) Check(prog *ast.Program) []Type {
	out := make([]Type, 0, len(prog.Statements))
	for _, stmt := range prog.Statements {
		out = append(out, c.checkStatement(stmt))
	}
	return out
}

func (c *Checker) checkStatement(e ast.Expr) Type {
	if tc, ok := e.(*ast.ToolCall); ok && (tc.Name == "define" || tc.Name == "const") && len(tc.Args) == 2 {
		if v, ok := tc.Args[0].Value.(*ast.Variable); ok {
			ty := c.Infer(tc.Args[1].Value)
			c.env.Define(v.Name, ty)
			return ty
		}
	}
	return c.Infer(e)
}

// Infer returns the static type of e, recording warnings/errors as it goes.
func (c *Checker) Infer(e ast.Expr) Type {
	switch n := e.(type) {
	case *ast.IntLiteral:
		return Simple(I64)
	case *ast.FloatLiteral:
		return Simple(F64)
	case *ast.StringLiteral:
		return Simple(String)
	case *ast.BoolLiteral:
		return Simple(Bool)
	case *ast.NullLiteral:
		return Simple(Null)

	case *ast.ArrayLiteral:
		if len(n.Elements) == 0 {
			return ArrayOf(Simple(Any))
		}
		return ArrayOf(c.Infer(n.Elements[0]))

	case *ast.ObjectLiteral:
		fields := make(map[string]Type, len(n.Fields))
		for _, f := range n.Fields {
			fields[f.Key] = c.Infer(f.Value)
		}
		return ObjectOf(fields)

	case *ast.Range:
		return ArrayOf(Simple(I64))

	case *ast.Variable:
		if t, ok := c.env.Lookup(n.Name); ok {
			return t
		}
		c.Errors = append(c.Errors, &ovsmerr.UndefinedVariable{Name: n.Name})
		return Simple(Any)

	case *ast.Binary:
		return c.inferBinary(n)

	case *ast.Unary:
		operand := c.Infer(n.Operand)
		if n.Op == ast.Not {
			return Simple(Bool)
		}
		return operand

	case *ast.Ternary:
		condTy := c.Infer(n.Condition)
		if condTy.Tag != Bool && condTy.Tag != Any {
			c.Warnings = append(c.Warnings, fmt.Sprintf("condition should be Bool, got %s", condTy))
		}
		thenTy := c.Infer(n.Then)
		elseTy := c.Infer(n.Else)
		if thenTy.Equal(elseTy) {
			return thenTy
		}
		return Simple(Any)

	case *ast.Lambda:
		return c.inferLambda(n)

	case *ast.TypedLambda:
		return c.inferTypedLambda(n)

	case *ast.FieldAccess:
		objTy := c.Infer(n.Object)
		if objTy.Tag == Object {
			if ft, ok := objTy.Fields[n.Field]; ok {
				return ft
			}
		}
		return Simple(Any)

	case *ast.IndexAccess:
		arrTy := c.Infer(n.Array)
		c.Infer(n.Index)
		switch arrTy.Tag {
		case Array:
			if arrTy.Elem != nil {
				return *arrTy.Elem
			}
		case String:
			return Simple(String)
		}
		return Simple(Any)

	case *ast.Grouping:
		return c.Infer(n.Inner)

	case *ast.TypeAnnotation:
		return c.inferAnnotated(n)

	case *ast.RefinedTypeExpr:
		base := c.typeFromExpr(n.BaseType)
		c.env.PushScope()
		c.env.Define(n.Var, base)
		c.Infer(n.Predicate)
		c.env.PopScope()
		return base

	case *ast.ToolCall:
		return c.inferToolCall(n)

	case *ast.Catch:
		c.env.PushScope()
		var last Type = Simple(Null)
		for _, b := range n.Body {
			last = c.Infer(b)
		}
		c.env.PopScope()
		return last

	case *ast.Throw:
		c.Infer(n.Value)
		return Simple(Null)

	case *ast.DestructuringBind:
		c.Infer(n.Value)
		c.env.PushScope()
		var last Type = Simple(Null)
		for _, b := range n.Body {
			last = c.Infer(b)
		}
		c.env.PopScope()
		return last

	case *ast.Loop:
		return c.inferLoop(n)

	case *ast.Quote, *ast.Quasiquote, *ast.Unquote, *ast.UnquoteSplice:
		return Simple(Any)

	default:
		return Simple(Any)
	}
}

func (c *Checker) inferBinary(n *ast.Binary) Type {
	left := c.Infer(n.Left)
	right := c.Infer(n.Right)
	switch n.Op {
	case ast.Add, ast.Sub, ast.Mul, ast.Div, ast.Mod, ast.Pow:
		if left.Tag == F64 || right.Tag == F64 {
			return Simple(F64)
		}
		return Simple(I64)
	case ast.OpEq, ast.OpNotEq, ast.OpLt, ast.OpGt, ast.OpLtEq, ast.OpGtEq, ast.OpAnd, ast.OpOr:
		return Simple(Bool)
	default:
		return Simple(Any)
	}
}

func (c *Checker) inferLambda(n *ast.Lambda) Type {
	c.env.PushScope()
	params := make([]Type, len(n.Params))
	for i, p := range n.Params {
		c.env.Define(p.Name, Simple(Any))
		params[i] = Simple(Any)
	}
	ret := c.Infer(n.Body)
	c.env.PopScope()
	return FuncOf(params, ret)
}

func (c *Checker) inferTypedLambda(n *ast.TypedLambda) Type {
	c.env.PushScope()
	params := make([]Type, len(n.Params))
	for i, p := range n.Params {
		t := Simple(Any)
		if p.Type != nil {
			t = c.typeFromExpr(p.Type)
		}
		c.env.Define(p.Name, t)
		params[i] = t
	}
	bodyTy := c.Infer(n.Body)
	ret := bodyTy
	if n.ReturnType != nil {
		declared := c.typeFromExpr(n.ReturnType)
		if c.mode != Legacy && !declared.Equal(bodyTy) && bodyTy.Tag != Any {
			msg := fmt.Sprintf("lambda body type %s does not match declared return type %s", bodyTy, declared)
			if c.mode == Strict {
				c.Errors = append(c.Errors, &ovsmerr.TypeError{Expected: declared.String(), Got: bodyTy.String()})
			} else {
				c.Warnings = append(c.Warnings, msg)
			}
		}
		ret = declared
	}
	c.env.PopScope()
	return FuncOf(params, ret)
}

func (c *Checker) inferAnnotated(n *ast.TypeAnnotation) Type {
	actual := c.Infer(n.Expr)
	declared := c.typeFromExpr(n.Type)
	if c.mode == Legacy {
		return actual
	}
	if !declared.Equal(actual) && actual.Tag != Any && declared.Tag != Any {
		if c.mode == Strict {
			c.Errors = append(c.Errors, &ovsmerr.TypeError{Expected: declared.String(), Got: actual.String()})
		} else {
			c.Warnings = append(c.Warnings, fmt.Sprintf("annotated type %s does not match inferred %s", declared, actual))
		}
	}
	return declared
}

func (c *Checker) inferLoop(n *ast.Loop) Type {
	c.env.PushScope()
	for _, it := range n.Data.Iterations {
		collTy := c.Infer(it.Collection)
		elemTy := Simple(Any)
		if collTy.Tag == Array && collTy.Elem != nil {
			elemTy = *collTy.Elem
		}
		c.env.Define(it.Var, elemTy)
	}
	var accTy Type = Simple(Null)
	for _, acc := range n.Data.Accumulations {
		accTy = c.Infer(acc.Init)
		c.env.Define(acc.Var, accTy)
		c.Infer(acc.Update)
	}
	for _, cond := range n.Data.Conditions {
		c.Infer(cond.Test)
	}
	for _, ex := range n.Data.Exits {
		c.Infer(ex.Test)
		accTy = c.Infer(ex.Value)
	}
	for _, b := range n.Data.Body {
		c.Infer(b)
	}
	c.env.PopScope()
	return accTy
}

// inferToolCall handles both the fixed intrinsic-return-type table and the
// desugared special forms (define/set!/let/while/for/do/when/cond/...).
func (c *Checker) inferToolCall(n *ast.ToolCall) Type {
	switch n.Name {
	case "defn":
		if len(n.Args) == 2 {
			if v, ok := n.Args[0].Value.(*ast.Variable); ok {
				fnTy := c.Infer(n.Args[1].Value)
				c.env.Define(v.Name, fnTy)
				return fnTy
			}
		}
	case "define", "const":
		if len(n.Args) == 2 {
			if v, ok := n.Args[0].Value.(*ast.Variable); ok {
				ty := c.Infer(n.Args[1].Value)
				c.env.Define(v.Name, ty)
				return ty
			}
		}
	case "set!":
		if len(n.Args) == 2 {
			if v, ok := n.Args[0].Value.(*ast.Variable); ok {
				ty := c.Infer(n.Args[1].Value)
				if existing, ok := c.env.Lookup(v.Name); !ok || !existing.Equal(ty) {
					c.env.Define(v.Name, ty)
				}
				return ty
			}
		}
	case "while":
		if len(n.Args) > 0 {
			condTy := c.Infer(n.Args[0].Value)
			if condTy.Tag != Bool && condTy.Tag != Any {
				c.Warnings = append(c.Warnings, fmt.Sprintf("while condition should be Bool, got %s", condTy))
			}
		}
		c.env.PushScope()
		for _, a := range n.Args[1:] {
			c.Infer(a.Value)
		}
		c.env.PopScope()
		return Simple(Null)
	case "for":
		if len(n.Args) >= 2 {
			if v, ok := n.Args[0].Value.(*ast.Variable); ok {
				collTy := c.Infer(n.Args[1].Value)
				elemTy := Simple(Any)
				if collTy.Tag == Array && collTy.Elem != nil {
					elemTy = *collTy.Elem
				} else if collTy.Tag == String {
					elemTy = Simple(String)
				}
				c.env.PushScope()
				c.env.Define(v.Name, elemTy)
				for _, a := range n.Args[2:] {
					c.Infer(a.Value)
				}
				c.env.PopScope()
			}
		}
		return Simple(Null)
	case "do":
		var last Type = Simple(Null)
		for _, a := range n.Args {
			last = c.Infer(a.Value)
		}
		return last
	case "let", "let*":
		c.env.PushScope()
		if len(n.Args) > 0 {
			if pairs, ok := n.Args[0].Value.(*ast.ArrayLiteral); ok {
				for _, pairExpr := range pairs.Elements {
					pair, ok := pairExpr.(*ast.ArrayLiteral)
					if !ok || len(pair.Elements) != 2 {
						continue
					}
					v, ok := pair.Elements[0].(*ast.Variable)
					if !ok {
						continue
					}
					c.env.Define(v.Name, c.Infer(pair.Elements[1]))
				}
			}
		}
		var last Type = Simple(Null)
		for _, a := range n.Args[1:] {
			last = c.Infer(a.Value)
		}
		c.env.PopScope()
		return last
	}

	for _, a := range n.Args {
		c.Infer(a.Value)
	}
	if t, ok := intrinsicReturnTypes[n.Name]; ok {
		return t
	}
	return Simple(Any)
}

// typeFromExpr resolves a type-annotation expression (a bare identifier
// like I64/String/Pubkey, or an array-literal wrapping one) to a Type.
func (c *Checker) typeFromExpr(e ast.Expr) Type {
	switch n := e.(type) {
	case *ast.Variable:
		switch n.Name {
		case "I64":
			return Simple(I64)
		case "F64":
			return Simple(F64)
		case "Bool":
			return Simple(Bool)
		case "Null":
			return Simple(Null)
		case "String":
			return Simple(String)
		case "Pubkey":
			return Simple(Pubkey)
		case "AccountInfo":
			return Simple(AccountInfo)
		case "Any":
			return Simple(Any)
		default:
			return Simple(Unknown)
		}
	case *ast.ToolCall:
		if n.Name == "Array" && len(n.Args) == 1 {
			elem := c.typeFromExpr(n.Args[0].Value)
			return ArrayOf(elem)
		}
		return Simple(Unknown)
	default:
		return Simple(Unknown)
	}
}
