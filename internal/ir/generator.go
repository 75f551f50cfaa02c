package ir

import (
	"fmt"

	"github.com/openSVM/ovsmc/internal/ast"
	"github.com/openSVM/ovsmc/internal/ovsmerr"
)

// syscallNames is the closed set of ToolCall/call targets that lower to
// an IR Syscall rather than an internal Call. Names follow the Solana
// runtime's own symbol spelling so codegen can hash them directly.
var syscallNames = map[string]string{
	"log":               "sol_log_",
	"print":             "sol_log_",
	"sol-log":           "sol_log_",
	"sol-log-64":        "sol_log_64_",
	"sha256":            "sol_sha256",
	"keccak256":         "sol_keccak256",
	"invoke":            "sol_invoke_signed_c",
	"create-account":    "sol_invoke_signed_c",
	"memcpy":            "sol_memcpy_",
	"memcmp":            "sol_memcmp_",
	"memset":            "sol_memset_",
	"alloc":             "sol_alloc_free_",
}

type loopFrame struct {
	breakLabel, continueLabel string
}

// Generator lowers a parsed, type-checked ast.Program into an IR
// Program. One Generator is used per compilation unit.
type Generator struct {
	prog      *Program
	nextReg   int
	labelN    int
	scopes    []map[string]IrReg
	loopStack []loopFrame
}

// New creates a generator with R1/R2/R6/R7 reserved for the ABI and
// general-purpose allocation starting at R11 (the first non-ABI,
// non-frame-pointer virtual register).
func New() *Generator {
	return &Generator{
		prog: &Program{
			Blocks:       map[string]BlockRange{},
			VarRegisters: map[string]IrReg{},
		},
		nextReg: 11,
		scopes:  []map[string]IrReg{{}},
	}
}

// Generate lowers program's top-level statements into sequential IR,
// terminated with a Return of the last statement's value.
func (g *Generator) Generate(program *ast.Program) (*Program, error) {
	g.prog.EntryLabel = "entry"
	g.emit(&Label{Name: "entry"})

	var last IrReg
	haveLast := false
	for _, stmt := range program.Statements {
		r, err := g.lower(stmt)
		if err != nil {
			return nil, err
		}
		if r != nil {
			last, haveLast = *r, true
		}
	}
	if haveLast {
		v := last
		g.emit(&Return{Value: &v})
	} else {
		g.emit(&Return{})
	}
	return g.prog, nil
}

func (g *Generator) emit(i Instr) { g.prog.Instructions = append(g.prog.Instructions, i) }

func (g *Generator) freshReg() IrReg {
	r := IrReg(g.nextReg)
	g.nextReg++
	return r
}

func (g *Generator) freshLabel(prefix string) string {
	g.labelN++
	return fmt.Sprintf("%s_%d", prefix, g.labelN)
}

func (g *Generator) pushScope() { g.scopes = append(g.scopes, map[string]IrReg{}) }
func (g *Generator) popScope()  { g.scopes = g.scopes[:len(g.scopes)-1] }

func (g *Generator) define(name string, r IrReg) {
	g.scopes[len(g.scopes)-1][name] = r
	g.prog.VarRegisters[name] = r
}

func (g *Generator) lookup(name string) (IrReg, bool) {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if r, ok := g.scopes[i][name]; ok {
			return r, true
		}
	}
	return 0, false
}

// lower returns the register holding expr's value, or nil for
// forms with no value (e.g. throw and the protocol-spec declarations).
func (g *Generator) lower(expr ast.Expr) (*IrReg, error) {
	switch e := expr.(type) {
	case *ast.IntLiteral:
		d := g.freshReg()
		g.emit(&ConstI64{Dst: d, Value: e.Value})
		return &d, nil

	case *ast.FloatLiteral:
		d := g.freshReg()
		g.emit(&ConstF64{Dst: d, Value: e.Value})
		return &d, nil

	case *ast.BoolLiteral:
		d := g.freshReg()
		g.emit(&ConstBool{Dst: d, Value: e.Value})
		return &d, nil

	case *ast.NullLiteral:
		d := g.freshReg()
		g.emit(&ConstNull{Dst: d})
		return &d, nil

	case *ast.StringLiteral:
		d := g.freshReg()
		g.prog.StringTable = append(g.prog.StringTable, e.Value)
		g.emit(&ConstString{Dst: d, Value: e.Value})
		return &d, nil

	case *ast.Variable:
		r, ok := g.lookup(e.Name)
		if !ok {
			return nil, &ovsmerr.UndefinedVariable{Name: e.Name}
		}
		return &r, nil

	case *ast.Grouping:
		return g.lower(e.Inner)

	case *ast.Unary:
		src, err := g.lower(e.Operand)
		if err != nil {
			return nil, err
		}
		d := g.freshReg()
		if e.Op == ast.Not {
			g.emit(&Not{Dst: d, Src: *src})
		} else {
			g.emit(&Neg{Dst: d, Src: *src})
		}
		return &d, nil

	case *ast.Binary:
		return g.lowerBinary(e)

	case *ast.Ternary:
		return g.lowerTernary(e)

	case *ast.Lambda:
		// A bare lambda expression with no enclosing define has no
		// reachable call site; generate nothing and return a null
		// placeholder value.
		d := g.freshReg()
		g.emit(&ConstNull{Dst: d})
		return &d, nil

	case *ast.FieldAccess:
		obj, err := g.lower(e.Object)
		if err != nil {
			return nil, err
		}
		d := g.freshReg()
		g.emit(&Load{Dst: d, Base: *obj, Offset: 0})
		return &d, nil

	case *ast.IndexAccess:
		arr, err := g.lower(e.Array)
		if err != nil {
			return nil, err
		}
		idx, err := g.lower(e.Index)
		if err != nil {
			return nil, err
		}
		return g.lowerArrayGet(*arr, *idx)

	case *ast.ToolCall:
		return g.lowerToolCall(e)

	case *ast.Loop:
		return g.lowerLoop(e)

	case *ast.Catch:
		return g.lowerCatch(e)

	case *ast.Throw:
		_, err := g.lower(e.Value)
		if err != nil {
			return nil, err
		}
		return nil, nil

	case *ast.DestructuringBind:
		return g.lowerDestructuringBind(e)

	case *ast.ArrayLiteral:
		return g.lowerArrayLiteral(e)

	case *ast.ObjectLiteral:
		return g.lowerObjectLiteral(e)

	case *ast.TypeAnnotation:
		return g.lower(e.Expr)

	case *ast.TypedLambda:
		d := g.freshReg()
		g.emit(&ConstNull{Dst: d})
		return &d, nil

	case *ast.RefinedTypeExpr:
		return g.lower(e.Predicate)

	case *ast.Range, *ast.Quote, *ast.Quasiquote, *ast.Unquote, *ast.UnquoteSplice:
		d := g.freshReg()
		g.emit(&ConstNull{Dst: d})
		return &d, nil

	default:
		return nil, &ovsmerr.CompilerError{Message: fmt.Sprintf("ir: cannot lower %T", expr)}
	}
}

func (g *Generator) lowerBinary(e *ast.Binary) (*IrReg, error) {
	switch e.Op {
	case ast.OpAnd:
		return g.lowerShortCircuit(e, false)
	case ast.OpOr:
		return g.lowerShortCircuit(e, true)
	}

	a, err := g.lower(e.Left)
	if err != nil {
		return nil, err
	}
	b, err := g.lower(e.Right)
	if err != nil {
		return nil, err
	}
	d := g.freshReg()
	switch e.Op {
	case ast.Add:
		g.emit(&Add{Dst: d, A: *a, B: *b})
	case ast.Sub:
		g.emit(&Sub{Dst: d, A: *a, B: *b})
	case ast.Mul, ast.Pow:
		g.emit(&Mul{Dst: d, A: *a, B: *b})
	case ast.Div:
		g.emit(&Div{Dst: d, A: *a, B: *b})
	case ast.Mod:
		g.emit(&Mod{Dst: d, A: *a, B: *b})
	case ast.OpEq:
		g.emit(&Eq{Dst: d, A: *a, B: *b})
	case ast.OpNotEq:
		g.emit(&Ne{Dst: d, A: *a, B: *b})
	case ast.OpLt:
		g.emit(&Lt{Dst: d, A: *a, B: *b})
	case ast.OpLtEq:
		g.emit(&Le{Dst: d, A: *a, B: *b})
	case ast.OpGt:
		g.emit(&Gt{Dst: d, A: *a, B: *b})
	case ast.OpGtEq:
		g.emit(&Ge{Dst: d, A: *a, B: *b})
	case ast.OpIn:
		g.emit(&Eq{Dst: d, A: *a, B: *b})
	default:
		return nil, &ovsmerr.CompilerError{Message: "ir: unsupported binary op " + e.Op.String()}
	}
	return &d, nil
}

// lowerShortCircuit implements AND/OR with branch-around-the-second-
// operand semantics rather than the eager And/Or IR opcodes, which are
// reserved for bitwise use by the desugared forms.
func (g *Generator) lowerShortCircuit(e *ast.Binary, isOr bool) (*IrReg, error) {
	a, err := g.lower(e.Left)
	if err != nil {
		return nil, err
	}
	result := g.freshReg()
	g.emit(&Move{Dst: result, Src: *a})

	skip := g.freshLabel("scbool")
	if isOr {
		g.emit(&JumpIf{Cond: result, Label: skip})
	} else {
		g.emit(&JumpIfNot{Cond: result, Label: skip})
	}
	b, err := g.lower(e.Right)
	if err != nil {
		return nil, err
	}
	g.emit(&Move{Dst: result, Src: *b})
	g.emit(&Label{Name: skip})
	return &result, nil
}

func (g *Generator) lowerTernary(e *ast.Ternary) (*IrReg, error) {
	cond, err := g.lower(e.Condition)
	if err != nil {
		return nil, err
	}
	elseLabel := g.freshLabel("else")
	endLabel := g.freshLabel("endif")
	result := g.freshReg()

	g.emit(&JumpIfNot{Cond: *cond, Label: elseLabel})
	thenVal, err := g.lower(e.Then)
	if err != nil {
		return nil, err
	}
	if thenVal != nil {
		g.emit(&Move{Dst: result, Src: *thenVal})
	} else {
		g.emit(&ConstNull{Dst: result})
	}
	g.emit(&Jump{Label: endLabel})
	g.emit(&Label{Name: elseLabel})
	if e.Else != nil {
		elseVal, err := g.lower(e.Else)
		if err != nil {
			return nil, err
		}
		if elseVal != nil {
			g.emit(&Move{Dst: result, Src: *elseVal})
		} else {
			g.emit(&ConstNull{Dst: result})
		}
	} else {
		g.emit(&ConstNull{Dst: result})
	}
	g.emit(&Label{Name: endLabel})
	return &result, nil
}

func (g *Generator) lowerArrayLiteral(e *ast.ArrayLiteral) (*IrReg, error) {
	size := g.freshReg()
	g.emit(&ConstI64{Dst: size, Value: int64(24 + 8*len(e.Elements))})
	arr := g.freshReg()
	g.emit(&Alloc{Dst: arr, Size: size})
	for i, el := range e.Elements {
		v, err := g.lower(el)
		if err != nil {
			return nil, err
		}
		g.emit(&Store{Base: arr, Src: *v, Offset: int32(24 + 8*i)})
	}
	return &arr, nil
}

func (g *Generator) lowerObjectLiteral(e *ast.ObjectLiteral) (*IrReg, error) {
	size := g.freshReg()
	g.emit(&ConstI64{Dst: size, Value: int64(8 * len(e.Fields))})
	obj := g.freshReg()
	g.emit(&Alloc{Dst: obj, Size: size})
	for i, f := range e.Fields {
		v, err := g.lower(f.Value)
		if err != nil {
			return nil, err
		}
		g.emit(&Store{Base: obj, Src: *v, Offset: int32(8 * i)})
	}
	return &obj, nil
}

func (g *Generator) lowerArrayGet(arr, idx IrReg) (*IrReg, error) {
	offset := g.freshReg()
	eight := g.freshReg()
	g.emit(&ConstI64{Dst: eight, Value: 8})
	g.emit(&Mul{Dst: offset, A: idx, B: eight})
	base := g.freshReg()
	g.emit(&Add{Dst: base, A: arr, B: offset})
	twentyfour := g.freshReg()
	g.emit(&ConstI64{Dst: twentyfour, Value: 24})
	addr := g.freshReg()
	g.emit(&Add{Dst: addr, A: base, B: twentyfour})
	d := g.freshReg()
	g.emit(&Load{Dst: d, Base: addr, Offset: 0})
	return &d, nil
}

func (g *Generator) lowerCatch(e *ast.Catch) (*IrReg, error) {
	var last *IrReg
	for _, stmt := range e.Body {
		r, err := g.lower(stmt)
		if err != nil {
			return nil, err
		}
		last = r
	}
	return last, nil
}

func (g *Generator) lowerDestructuringBind(e *ast.DestructuringBind) (*IrReg, error) {
	val, err := g.lower(e.Value)
	if err != nil {
		return nil, err
	}
	if v, ok := e.Pattern.(*ast.Variable); ok {
		g.define(v.Name, *val)
	}
	var last *IrReg
	for _, stmt := range e.Body {
		r, err := g.lower(stmt)
		if err != nil {
			return nil, err
		}
		last = r
	}
	return last, nil
}

func (g *Generator) lowerLoop(e *ast.Loop) (*IrReg, error) {
	data := e.Data
	g.pushScope()
	defer g.popScope()

	accReg := map[string]IrReg{}
	for _, acc := range data.Accumulations {
		init, err := g.lower(acc.Init)
		if err != nil {
			return nil, err
		}
		r := g.freshReg()
		g.emit(&Move{Dst: r, Src: *init})
		g.define(acc.Var, r)
		accReg[acc.Var] = r
	}

	var iterArrs, iterIdx, iterLen []IrReg
	for _, it := range data.Iterations {
		arr, err := g.lower(it.Collection)
		if err != nil {
			return nil, err
		}
		idx := g.freshReg()
		g.emit(&ConstI64{Dst: idx, Value: 0})
		ln := g.freshReg()
		g.emit(&Load{Dst: ln, Base: *arr, Offset: 0})
		iterArrs = append(iterArrs, *arr)
		iterIdx = append(iterIdx, idx)
		iterLen = append(iterLen, ln)
	}

	start := g.freshLabel("loop")
	body := g.freshLabel("loopbody")
	end := g.freshLabel("loopend")
	g.loopStack = append(g.loopStack, loopFrame{breakLabel: end, continueLabel: start})
	defer func() { g.loopStack = g.loopStack[:len(g.loopStack)-1] }()

	g.emit(&Label{Name: start})

	for i, it := range data.Iterations {
		cond := g.freshReg()
		g.emit(&Lt{Dst: cond, A: iterIdx[i], B: iterLen[i]})
		g.emit(&JumpIfNot{Cond: cond, Label: end})
		elem, err := g.lowerArrayGet(iterArrs[i], iterIdx[i])
		if err != nil {
			return nil, err
		}
		g.define(it.Var, *elem)
	}
	for _, cl := range data.Conditions {
		t, err := g.lower(cl.Test)
		if err != nil {
			return nil, err
		}
		g.emit(&JumpIfNot{Cond: *t, Label: end})
	}
	result := g.freshReg()
	done := g.freshLabel("loopdone")
	for _, ex := range data.Exits {
		t, err := g.lower(ex.Test)
		if err != nil {
			return nil, err
		}
		taken := g.freshLabel("exittaken")
		g.emit(&JumpIfNot{Cond: *t, Label: taken})
		v, err := g.lower(ex.Value)
		if err != nil {
			return nil, err
		}
		g.emit(&Move{Dst: result, Src: *v})
		g.emit(&Jump{Label: done})
		g.emit(&Label{Name: taken})
	}

	g.emit(&Label{Name: body})
	var last *IrReg
	for _, stmt := range data.Body {
		r, err := g.lower(stmt)
		if err != nil {
			return nil, err
		}
		last = r
	}
	for _, acc := range data.Accumulations {
		upd, err := g.lower(acc.Update)
		if err != nil {
			return nil, err
		}
		g.emit(&Move{Dst: accReg[acc.Var], Src: *upd})
	}
	for i := range data.Iterations {
		one := g.freshReg()
		g.emit(&ConstI64{Dst: one, Value: 1})
		g.emit(&Add{Dst: iterIdx[i], A: iterIdx[i], B: one})
	}
	g.emit(&Jump{Label: start})
	g.emit(&Label{Name: end})

	if len(data.Accumulations) > 0 {
		g.emit(&Move{Dst: result, Src: accReg[data.Accumulations[len(data.Accumulations)-1].Var]})
	} else if last != nil {
		g.emit(&Move{Dst: result, Src: *last})
	} else {
		g.emit(&ConstNull{Dst: result})
	}
	g.emit(&Label{Name: done})
	return &result, nil
}

// lowerToolCall handles every form desugared by the parser into a
// ToolCall, plus genuine tool/function invocations.
func (g *Generator) lowerToolCall(e *ast.ToolCall) (*IrReg, error) {
	switch e.Name {
	case "define", "const":
		return g.lowerDefine(e)
	case "set!":
		return g.lowerSet(e)
	case "while":
		return g.lowerWhile(e)
	case "for":
		return g.lowerFor(e)
	case "do", "progn", "begin":
		return g.lowerDo(e)
	case "let", "let*", "flet", "labels":
		return g.lowerLet(e)
	case "defn":
		return g.lowerDefn(e)
	case "when":
		return g.lowerWhen(e)
	case "cond", "case", "typecase":
		return g.lowerCond(e)
	case "__defstate__", "__defaccess__", "__definvariant__", "__defprotocol__":
		// Protocol-spec forms are handled by internal/protospec before
		// this pass runs; a bare ToolCall at this stage is a no-op
		// describing a specification, not a runtime action.
		return nil, nil
	case "transition!":
		// A declared state transition is checked statically by
		// internal/protospec's CheckTransitions; it carries no runtime
		// behavior of its own.
		return nil, nil
	}
	return g.lowerCallLike(e)
}

func (g *Generator) lowerDefine(e *ast.ToolCall) (*IrReg, error) {
	if len(e.Args) < 2 {
		return nil, &ovsmerr.CompilerError{Message: "define requires name and value"}
	}
	name, ok := e.Args[0].Value.(*ast.Variable)
	if !ok {
		return nil, &ovsmerr.CompilerError{Message: "define requires an identifier"}
	}
	val, err := g.lower(e.Args[1].Value)
	if err != nil {
		return nil, err
	}
	g.define(name.Name, *val)
	return val, nil
}

func (g *Generator) lowerSet(e *ast.ToolCall) (*IrReg, error) {
	if len(e.Args) < 2 {
		return nil, &ovsmerr.CompilerError{Message: "set! requires name and value"}
	}
	name, ok := e.Args[0].Value.(*ast.Variable)
	if !ok {
		return nil, &ovsmerr.CompilerError{Message: "set! requires an identifier"}
	}
	val, err := g.lower(e.Args[1].Value)
	if err != nil {
		return nil, err
	}
	dst, ok := g.lookup(name.Name)
	if !ok {
		return nil, &ovsmerr.UndefinedVariable{Name: name.Name}
	}
	g.emit(&Move{Dst: dst, Src: *val})
	return &dst, nil
}

func (g *Generator) lowerWhile(e *ast.ToolCall) (*IrReg, error) {
	if len(e.Args) < 1 {
		return nil, &ovsmerr.CompilerError{Message: "while requires a condition"}
	}
	start := g.freshLabel("while")
	end := g.freshLabel("whileend")
	g.loopStack = append(g.loopStack, loopFrame{breakLabel: end, continueLabel: start})
	defer func() { g.loopStack = g.loopStack[:len(g.loopStack)-1] }()

	g.emit(&Label{Name: start})
	cond, err := g.lower(e.Args[0].Value)
	if err != nil {
		return nil, err
	}
	g.emit(&JumpIfNot{Cond: *cond, Label: end})
	for _, a := range e.Args[1:] {
		if _, err := g.lower(a.Value); err != nil {
			return nil, err
		}
	}
	g.emit(&Jump{Label: start})
	g.emit(&Label{Name: end})
	d := g.freshReg()
	g.emit(&ConstNull{Dst: d})
	return &d, nil
}

func (g *Generator) lowerFor(e *ast.ToolCall) (*IrReg, error) {
	if len(e.Args) < 2 {
		return nil, &ovsmerr.CompilerError{Message: "for requires var and collection"}
	}
	name, ok := e.Args[0].Value.(*ast.Variable)
	if !ok {
		return nil, &ovsmerr.CompilerError{Message: "for requires an identifier"}
	}
	g.pushScope()
	defer g.popScope()

	arr, err := g.lower(e.Args[1].Value)
	if err != nil {
		return nil, err
	}
	idx := g.freshReg()
	g.emit(&ConstI64{Dst: idx, Value: 0})
	ln := g.freshReg()
	g.emit(&Load{Dst: ln, Base: *arr, Offset: 0})

	start := g.freshLabel("for")
	end := g.freshLabel("forend")
	g.loopStack = append(g.loopStack, loopFrame{breakLabel: end, continueLabel: start})
	defer func() { g.loopStack = g.loopStack[:len(g.loopStack)-1] }()

	g.emit(&Label{Name: start})
	cond := g.freshReg()
	g.emit(&Lt{Dst: cond, A: idx, B: ln})
	g.emit(&JumpIfNot{Cond: cond, Label: end})

	elem, err := g.lowerArrayGet(*arr, idx)
	if err != nil {
		return nil, err
	}
	g.define(name.Name, *elem)

	for _, a := range e.Args[2:] {
		if _, err := g.lower(a.Value); err != nil {
			return nil, err
		}
	}
	one := g.freshReg()
	g.emit(&ConstI64{Dst: one, Value: 1})
	g.emit(&Add{Dst: idx, A: idx, B: one})
	g.emit(&Jump{Label: start})
	g.emit(&Label{Name: end})
	d := g.freshReg()
	g.emit(&ConstNull{Dst: d})
	return &d, nil
}

func (g *Generator) lowerDo(e *ast.ToolCall) (*IrReg, error) {
	g.pushScope()
	defer g.popScope()
	var last *IrReg
	for _, a := range e.Args {
		r, err := g.lower(a.Value)
		if err != nil {
			return nil, err
		}
		last = r
	}
	return last, nil
}

func (g *Generator) lowerLet(e *ast.ToolCall) (*IrReg, error) {
	g.pushScope()
	defer g.popScope()
	var last *IrReg
	for _, a := range e.Args {
		if a.Name != "" {
			v, err := g.lower(a.Value)
			if err != nil {
				return nil, err
			}
			r := g.freshReg()
			g.emit(&Move{Dst: r, Src: *v})
			g.define(a.Name, r)
			continue
		}
		r, err := g.lower(a.Value)
		if err != nil {
			return nil, err
		}
		last = r
	}
	return last, nil
}

// lowerDefn compiles a named function into a labeled block reachable by
// ir.Call: the block is emitted inline but jumped over so it is never
// executed as straight-line code, then a Label under the function's own
// name gives Call's fixup resolution something to target.
// Parameters are bound via Param, the callee-side counterpart of the
// R1..R5 staging loadArgs already does for every call site.
func (g *Generator) lowerDefn(e *ast.ToolCall) (*IrReg, error) {
	if len(e.Args) != 2 {
		return nil, &ovsmerr.CompilerError{Message: "defn requires a name and a lambda"}
	}
	nameVar, ok := e.Args[0].Value.(*ast.Variable)
	if !ok {
		return nil, &ovsmerr.CompilerError{Message: "defn: function name must be an identifier"}
	}
	lam, ok := e.Args[1].Value.(*ast.Lambda)
	if !ok {
		return nil, &ovsmerr.CompilerError{Message: "defn: expected a lambda body"}
	}
	if len(lam.Params) > 5 {
		return nil, &ovsmerr.CompilerError{Message: fmt.Sprintf("defn %s: more than 5 parameters is unsupported (sBPF ABI has only R1..R5)", nameVar.Name)}
	}

	skip := g.freshLabel("defnskip")
	g.emit(&Jump{Label: skip})
	g.emit(&Label{Name: nameVar.Name, IsFunction: true})

	g.pushScope()
	for i, p := range lam.Params {
		if p.Marker != ast.ParamPlain {
			g.popScope()
			return nil, &ovsmerr.CompilerError{Message: fmt.Sprintf("defn %s: &optional/&rest/&key parameters are not supported in code-generation scope", nameVar.Name)}
		}
		r := g.freshReg()
		g.emit(&Param{Dst: r, Index: i})
		g.define(p.Name, r)
	}
	result, err := g.lower(lam.Body)
	if err != nil {
		g.popScope()
		return nil, err
	}
	g.popScope()
	g.emit(&Return{Value: result})
	g.emit(&Label{Name: skip})

	d := g.freshReg()
	g.emit(&ConstNull{Dst: d})
	return &d, nil
}

func (g *Generator) lowerWhen(e *ast.ToolCall) (*IrReg, error) {
	if len(e.Args) < 1 {
		return nil, &ovsmerr.CompilerError{Message: "when requires a condition"}
	}
	cond, err := g.lower(e.Args[0].Value)
	if err != nil {
		return nil, err
	}
	end := g.freshLabel("whenend")
	result := g.freshReg()
	g.emit(&ConstNull{Dst: result})
	g.emit(&JumpIfNot{Cond: *cond, Label: end})
	var last *IrReg
	for _, a := range e.Args[1:] {
		r, err := g.lower(a.Value)
		if err != nil {
			return nil, err
		}
		last = r
	}
	if last != nil {
		g.emit(&Move{Dst: result, Src: *last})
	}
	g.emit(&Label{Name: end})
	return &result, nil
}

func (g *Generator) lowerCond(e *ast.ToolCall) (*IrReg, error) {
	end := g.freshLabel("condend")
	result := g.freshReg()
	g.emit(&ConstNull{Dst: result})

	for i := 0; i+1 < len(e.Args); i += 2 {
		next := g.freshLabel("condnext")
		cond, err := g.lower(e.Args[i].Value)
		if err != nil {
			return nil, err
		}
		g.emit(&JumpIfNot{Cond: *cond, Label: next})
		v, err := g.lower(e.Args[i+1].Value)
		if err != nil {
			return nil, err
		}
		g.emit(&Move{Dst: result, Src: *v})
		g.emit(&Jump{Label: end})
		g.emit(&Label{Name: next})
	}
	if len(e.Args)%2 == 1 {
		v, err := g.lower(e.Args[len(e.Args)-1].Value)
		if err != nil {
			return nil, err
		}
		g.emit(&Move{Dst: result, Src: *v})
	}
	g.emit(&Label{Name: end})
	return &result, nil
}

func (g *Generator) lowerCallLike(e *ast.ToolCall) (*IrReg, error) {
	var args []IrReg
	for _, a := range e.Args {
		v, err := g.lower(a.Value)
		if err != nil {
			return nil, err
		}
		args = append(args, *v)
	}
	d := g.freshReg()
	if sym, ok := syscallNames[e.Name]; ok {
		g.emit(&Syscall{Dst: &d, Name: sym, Args: args})
		return &d, nil
	}
	g.emit(&Call{Dst: &d, Name: e.Name, Args: args})
	return &d, nil
}
