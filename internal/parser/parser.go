// Package parser implements a recursive-descent parser over the token
// stream produced by internal/scanner, building an internal/ast tree.
//
// The head symbol of every list form selects how it is parsed. Most special
// forms desugar directly to ast.ToolCall (see internal/ast's doc comment on
// ToolCall for why); only forms that a later stage needs to pattern-match
// structurally keep a dedicated node.
package parser

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/openSVM/ovsmc/internal/ast"
	"github.com/openSVM/ovsmc/internal/ovsmerr"
	"github.com/openSVM/ovsmc/internal/scanner"
)

// Parser consumes a token slice and builds an ast.Program.
type Parser struct {
	tokens []scanner.Token
	cur    int
}

// New creates a Parser over tokens (normally from scanner.Scan).
func New(tokens []scanner.Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse runs the parser to completion.
func (p *Parser) Parse() (*ast.Program, error) {
	var stmts []ast.Expr
	for !p.atEnd() {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, e)
	}
	return &ast.Program{Statements: stmts}, nil
}

func (p *Parser) parseExpr() (ast.Expr, error) {
	switch p.peek().Kind {
	case scanner.LeftParen:
		return p.parseList()
	case scanner.Quote:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Quote{Inner: inner}, nil
	case scanner.Backtick:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Quasiquote{Inner: inner}, nil
	case scanner.Comma:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Unquote{Inner: inner}, nil
	case scanner.CommaAt:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ast.UnquoteSplice{Inner: inner}, nil
	case scanner.Colon:
		return p.parseKeywordLiteral()
	case scanner.Integer:
		t := p.advance()
		return &ast.IntLiteral{Value: t.Int}, nil
	case scanner.Float:
		t := p.advance()
		return &ast.FloatLiteral{Value: t.Float}, nil
	case scanner.String:
		t := p.advance()
		return &ast.StringLiteral{Value: t.Str}, nil
	case scanner.True:
		p.advance()
		return &ast.BoolLiteral{Value: true}, nil
	case scanner.False:
		p.advance()
		return &ast.BoolLiteral{Value: false}, nil
	case scanner.Null:
		p.advance()
		return &ast.NullLiteral{}, nil
	case scanner.Identifier:
		t := p.advance()
		return &ast.Variable{Name: t.Str}, nil
	case scanner.LeftBracket:
		return p.parseArrayLiteral()
	case scanner.LeftBrace:
		return p.parseObjectLiteral()
	default:
		return nil, p.errorf("expected an expression, found %s", p.peek())
	}
}

var specialForms = map[string]func(*Parser) (ast.Expr, error){
	"if":                  (*Parser).parseIf,
	"let":                 (*Parser).parseLetFamily("let"),
	"let*":                (*Parser).parseLetFamily("let*"),
	"flet":                (*Parser).parseFletFamily("flet"),
	"labels":              (*Parser).parseFletFamily("labels"),
	"const":               (*Parser).parseNamedValueForm("const"),
	"define":              (*Parser).parseNamedValueForm("define"),
	"set!":                (*Parser).parseNamedValueForm("set!"),
	"while":                (*Parser).parseConditionBodyForm("while"),
	"for":                  (*Parser).parseFor,
	"lambda":               (*Parser).parseLambda,
	"defn":                 (*Parser).parseDefn,
	"do":                   (*Parser).parseVariadicForm("do"),
	"when":                 (*Parser).parseWhen,
	"cond":                 (*Parser).parseCond,
	"case":                 (*Parser).parseCaseFamily("case"),
	"typecase":             (*Parser).parseCaseFamily("typecase"),
	"catch":                (*Parser).parseCatch,
	"throw":                (*Parser).parseThrow,
	"destructuring-bind":   (*Parser).parseDestructuringBind,
	"defstate":             (*Parser).parseDefstate,
	"defaccess":            (*Parser).parseDefaccess,
	"definvariant":         (*Parser).parseDefinvariant,
	"defprotocol":          (*Parser).parseDefprotocol,
}

func (p *Parser) parseList() (ast.Expr, error) {
	p.advance() // consume '('

	if p.check(scanner.RightParen) {
		p.advance()
		return &ast.ArrayLiteral{}, nil
	}

	first := p.peek()

	if first.Kind == scanner.Identifier {
		if fn, ok := specialForms[first.Str]; ok {
			return fn(p)
		}
	}

	switch first.Kind {
	case scanner.Dot:
		return p.parseFieldAccess()
	case scanner.LeftBracket:
		return p.parseIndexAccess()
	case scanner.Colon:
		return p.parseTypeAnnotationForm()
	case scanner.Arrow:
		return p.parseFunctionType()
	case scanner.Plus, scanner.Minus, scanner.Star, scanner.Slash, scanner.Percent,
		scanner.Eq, scanner.Assign, scanner.NotEq, scanner.Lt, scanner.Gt,
		scanner.LtEq, scanner.GtEq:
		return p.parseOperatorCall()
	case scanner.Identifier:
		return p.parseFunctionCall()
	default:
		return nil, p.errorf("unexpected form starting with %s", first)
	}
}

func (p *Parser) parseKeywordLiteral() (ast.Expr, error) {
	p.advance() // ':'
	if p.peek().Kind != scanner.Identifier {
		return nil, p.errorf("expected identifier after ':'")
	}
	t := p.advance()
	return &ast.StringLiteral{Value: ":" + t.Str}, nil
}

func (p *Parser) parseIf() (ast.Expr, error) {
	p.advance() // 'if'
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	return &ast.Ternary{Condition: cond, Then: then, Else: els}, nil
}

// parseLetFamily handles (let ((x v)...) body...) and (let* ((x v)...) body...).
func (p *Parser) parseLetFamily(name string) func(*Parser) (ast.Expr, error) {
	return func(p *Parser) (ast.Expr, error) {
		p.advance() // 'let' or 'let*'
		if err := p.consume(scanner.LeftParen); err != nil {
			return nil, err
		}
		var pairs []ast.Expr
		for !p.check(scanner.RightParen) {
			if err := p.consume(scanner.LeftParen); err != nil {
				return nil, err
			}
			if p.peek().Kind != scanner.Identifier {
				return nil, p.errorf("expected identifier in %s binding", name)
			}
			varName := p.advance().Str
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.consume(scanner.RightParen); err != nil {
				return nil, err
			}
			pairs = append(pairs, &ast.ArrayLiteral{Elements: []ast.Expr{&ast.Variable{Name: varName}, val}})
		}
		if err := p.consume(scanner.RightParen); err != nil {
			return nil, err
		}

		body, err := p.parseExprsUntilClose()
		if err != nil {
			return nil, err
		}

		args := []ast.Argument{ast.Positional(&ast.ArrayLiteral{Elements: pairs})}
		for _, b := range body {
			args = append(args, ast.Positional(b))
		}
		return &ast.ToolCall{Name: name, Args: args}, nil
	}
}

// parseFletFamily handles (flet ((name (params) body)...) body...) and labels.
func (p *Parser) parseFletFamily(name string) func(*Parser) (ast.Expr, error) {
	return func(p *Parser) (ast.Expr, error) {
		p.advance() // 'flet' or 'labels'
		if err := p.consume(scanner.LeftParen); err != nil {
			return nil, err
		}
		var defs []ast.Expr
		for !p.check(scanner.RightParen) {
			if err := p.consume(scanner.LeftParen); err != nil {
				return nil, err
			}
			if p.peek().Kind != scanner.Identifier {
				return nil, p.errorf("expected function name in %s", name)
			}
			fnName := p.advance().Str
			params, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			body, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.consume(scanner.RightParen); err != nil {
				return nil, err
			}
			defs = append(defs, &ast.ArrayLiteral{Elements: []ast.Expr{&ast.Variable{Name: fnName}, params, body}})
		}
		if err := p.consume(scanner.RightParen); err != nil {
			return nil, err
		}

		body, err := p.parseExprsUntilClose()
		if err != nil {
			return nil, err
		}

		args := []ast.Argument{ast.Positional(&ast.ArrayLiteral{Elements: defs})}
		for _, b := range body {
			args = append(args, ast.Positional(b))
		}
		return &ast.ToolCall{Name: name, Args: args}, nil
	}
}

// parseNamedValueForm handles (const NAME value), (define name value) and
// (set! name value) — all single-name/single-value tool calls.
func (p *Parser) parseNamedValueForm(name string) func(*Parser) (ast.Expr, error) {
	return func(p *Parser) (ast.Expr, error) {
		p.advance()
		if p.peek().Kind != scanner.Identifier {
			return nil, p.errorf("expected identifier after %s", name)
		}
		varName := p.advance().Str
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.consume(scanner.RightParen); err != nil {
			return nil, err
		}
		return &ast.ToolCall{
			Name: name,
			Args: []ast.Argument{
				ast.Positional(&ast.Variable{Name: varName}),
				ast.Positional(val),
			},
		}, nil
	}
}

// parseConditionBodyForm handles (while cond body...).
func (p *Parser) parseConditionBodyForm(name string) func(*Parser) (ast.Expr, error) {
	return func(p *Parser) (ast.Expr, error) {
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		body, err := p.parseExprsUntilClose()
		if err != nil {
			return nil, err
		}
		args := append([]ast.Argument{ast.Positional(cond)}, lo.Map(body, func(e ast.Expr, _ int) ast.Argument {
			return ast.Positional(e)
		})...)
		return &ast.ToolCall{Name: name, Args: args}, nil
	}
}

func (p *Parser) parseFor() (ast.Expr, error) {
	p.advance() // 'for'
	if err := p.consume(scanner.LeftParen); err != nil {
		return nil, err
	}
	if p.peek().Kind != scanner.Identifier {
		return nil, p.errorf("expected identifier in for loop")
	}
	varName := p.advance().Str
	coll, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	body, err := p.parseExprsUntilClose()
	if err != nil {
		return nil, err
	}
	args := []ast.Argument{
		ast.Positional(&ast.Variable{Name: varName}),
		ast.Positional(coll),
	}
	for _, b := range body {
		args = append(args, ast.Positional(b))
	}
	return &ast.ToolCall{Name: "for", Args: args}, nil
}

func (p *Parser) parseLambda() (ast.Expr, error) {
	p.advance() // 'lambda'
	if err := p.consume(scanner.LeftParen); err != nil {
		return nil, err
	}
	var params []ast.Param
	for !p.check(scanner.RightParen) {
		switch {
		case p.peek().Kind == scanner.Identifier && isParamMarker(p.peek().Str):
			params = append(params, ast.Param{Name: p.peek().Str, Marker: markerFor(p.peek().Str)})
			p.advance()
		case p.peek().Kind == scanner.Identifier:
			params = append(params, ast.Param{Name: p.advance().Str})
		case p.check(scanner.LeftParen):
			p.advance()
			if p.peek().Kind != scanner.Identifier {
				return nil, p.errorf("expected parameter name")
			}
			name := p.advance().Str
			def, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.consume(scanner.RightParen); err != nil {
				return nil, err
			}
			params = append(params, ast.Param{Name: name, Default: def})
		default:
			return nil, p.errorf("expected identifier or (name default) in lambda parameters")
		}
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	return &ast.Lambda{Params: params, Body: body}, nil
}

func isParamMarker(s string) bool { return s == "&optional" || s == "&rest" || s == "&key" }

func markerFor(s string) ast.ParamMarker {
	switch s {
	case "&optional":
		return ast.ParamOptional
	case "&rest":
		return ast.ParamRest
	case "&key":
		return ast.ParamKey
	default:
		return ast.ParamPlain
	}
}

func (p *Parser) parseDefn() (ast.Expr, error) {
	p.advance() // 'defn'
	if p.peek().Kind != scanner.Identifier {
		return nil, p.errorf("expected function name after defn")
	}
	name := p.advance().Str
	lam, err := p.parseLambdaTail()
	if err != nil {
		return nil, err
	}
	return &ast.ToolCall{
		Name: "defn",
		Args: []ast.Argument{
			ast.Positional(&ast.Variable{Name: name}),
			ast.Positional(lam),
		},
	}, nil
}

// parseLambdaTail parses "(params) body)" — the remainder of a defn form
// after the function name. Parameters are bare names, with
// &optional/&rest/&key recorded as markers the way lambda records them;
// lambda's (name default) pairs are not accepted here.
func (p *Parser) parseLambdaTail() (ast.Expr, error) {
	if err := p.consume(scanner.LeftParen); err != nil {
		return nil, err
	}
	var params []ast.Param
	for !p.check(scanner.RightParen) {
		if p.peek().Kind != scanner.Identifier {
			return nil, p.errorf("expected parameter name")
		}
		name := p.advance().Str
		params = append(params, ast.Param{Name: name, Marker: markerFor(name)})
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	return &ast.Lambda{Params: params, Body: body}, nil
}

// parseVariadicForm handles (do expr...).
func (p *Parser) parseVariadicForm(name string) func(*Parser) (ast.Expr, error) {
	return func(p *Parser) (ast.Expr, error) {
		p.advance()
		body, err := p.parseExprsUntilClose()
		if err != nil {
			return nil, err
		}
		args := lo.Map(body, func(e ast.Expr, _ int) ast.Argument { return ast.Positional(e) })
		return &ast.ToolCall{Name: name, Args: args}, nil
	}
}

func (p *Parser) parseWhen() (ast.Expr, error) {
	p.advance() // 'when'
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseExprsUntilClose()
	if err != nil {
		return nil, err
	}
	var then ast.Expr = &ast.NullLiteral{}
	if len(body) > 0 {
		then = body[len(body)-1]
	}
	return &ast.Ternary{Condition: cond, Then: then, Else: &ast.NullLiteral{}}, nil
}

func (p *Parser) parseCond() (ast.Expr, error) {
	p.advance() // 'cond'
	type clause struct{ test, result ast.Expr }
	var clauses []clause
	for !p.check(scanner.RightParen) {
		if err := p.consume(scanner.LeftParen); err != nil {
			return nil, err
		}
		isElse := p.peek().Kind == scanner.Identifier && p.peek().Str == "else"
		if isElse {
			p.advance()
			result, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.consume(scanner.RightParen); err != nil {
				return nil, err
			}
			clauses = append(clauses, clause{test: &ast.BoolLiteral{Value: true}, result: result})
			break
		}
		test, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		result, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.consume(scanner.RightParen); err != nil {
			return nil, err
		}
		clauses = append(clauses, clause{test: test, result: result})
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}

	var result ast.Expr = &ast.NullLiteral{}
	for i := len(clauses) - 1; i >= 0; i-- {
		result = &ast.Ternary{Condition: clauses[i].test, Then: clauses[i].result, Else: result}
	}
	return result, nil
}

// parseCaseFamily handles (case|typecase key (pattern result)... (else result)).
func (p *Parser) parseCaseFamily(name string) func(*Parser) (ast.Expr, error) {
	return func(p *Parser) (ast.Expr, error) {
		p.advance()
		key, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args := []ast.Argument{ast.Positional(key)}
		for !p.check(scanner.RightParen) {
			if err := p.consume(scanner.LeftParen); err != nil {
				return nil, err
			}
			pattern, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			result, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.consume(scanner.RightParen); err != nil {
				return nil, err
			}
			args = append(args, ast.Positional(&ast.ArrayLiteral{Elements: []ast.Expr{pattern, result}}))
		}
		if err := p.consume(scanner.RightParen); err != nil {
			return nil, err
		}
		return &ast.ToolCall{Name: name, Args: args}, nil
	}
}

func (p *Parser) parseCatch() (ast.Expr, error) {
	p.advance() // 'catch'
	tag, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseExprsUntilClose()
	if err != nil {
		return nil, err
	}
	return &ast.Catch{Tag: tag, Body: body}, nil
}

func (p *Parser) parseThrow() (ast.Expr, error) {
	p.advance() // 'throw'
	tag, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	return &ast.Throw{Tag: tag, Value: val}, nil
}

func (p *Parser) parseDestructuringBind() (ast.Expr, error) {
	p.advance() // 'destructuring-bind'
	pattern, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	value, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseExprsUntilClose()
	if err != nil {
		return nil, err
	}
	return &ast.DestructuringBind{Pattern: pattern, Value: value, Body: body}, nil
}

// parseDefstate handles:
//
//	(defstate Name :states (S1 S2 ...) :initial S1 :terminal (Sn ...)
//	          :transitions ((From -> To1 To2 ...) ...))
//
// and desugars to __defstate__(name, states, initial, terminal, transitions).
func (p *Parser) parseDefstate() (ast.Expr, error) {
	p.advance() // 'defstate'
	if p.peek().Kind != scanner.Identifier {
		return nil, p.errorf("expected state machine name")
	}
	name := p.advance().Str

	var states, terminal []ast.Expr
	initial := ""
	var transitions []ast.Expr

	for !p.check(scanner.RightParen) {
		if err := p.consume(scanner.Colon); err != nil {
			return nil, err
		}
		if p.peek().Kind != scanner.Identifier {
			return nil, p.errorf("expected keyword (e.g. :states)")
		}
		kw := p.advance().Str
		switch kw {
		case "states":
			names, err := p.parseIdentList()
			if err != nil {
				return nil, err
			}
			states = stringLiterals(names)
		case "initial":
			if p.peek().Kind != scanner.Identifier {
				return nil, p.errorf("expected initial state name")
			}
			initial = p.advance().Str
		case "terminal":
			names, err := p.parseIdentList()
			if err != nil {
				return nil, err
			}
			terminal = stringLiterals(names)
		case "transitions":
			if err := p.consume(scanner.LeftParen); err != nil {
				return nil, err
			}
			for !p.check(scanner.RightParen) {
				if err := p.consume(scanner.LeftParen); err != nil {
					return nil, err
				}
				if p.peek().Kind != scanner.Identifier {
					return nil, p.errorf("expected from-state")
				}
				from := p.advance().Str
				if p.check(scanner.Arrow) {
					p.advance()
				}
				for !p.check(scanner.RightParen) {
					if p.peek().Kind != scanner.Identifier {
						return nil, p.errorf("expected to-state")
					}
					to := p.advance().Str
					transitions = append(transitions, &ast.ArrayLiteral{
						Elements: []ast.Expr{&ast.StringLiteral{Value: from}, &ast.StringLiteral{Value: to}},
					})
				}
				if err := p.consume(scanner.RightParen); err != nil {
					return nil, err
				}
			}
			if err := p.consume(scanner.RightParen); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf("unknown defstate keyword: %s", kw)
		}
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}

	return &ast.ToolCall{
		Name: "__defstate__",
		Args: []ast.Argument{
			ast.Positional(&ast.StringLiteral{Value: name}),
			ast.Positional(&ast.ArrayLiteral{Elements: states}),
			ast.Positional(&ast.StringLiteral{Value: initial}),
			ast.Positional(&ast.ArrayLiteral{Elements: terminal}),
			ast.Positional(&ast.ArrayLiteral{Elements: transitions}),
		},
	}, nil
}

// parseDefaccess handles:
//
//	(defaccess InstrName :signer (account field) :admin
//	           :active (acct1 acct2) :precondition expr ...)
func (p *Parser) parseDefaccess() (ast.Expr, error) {
	p.advance() // 'defaccess'
	if p.peek().Kind != scanner.Identifier {
		return nil, p.errorf("expected instruction name")
	}
	instr := p.advance().Str

	var signers, actives []ast.Expr
	requiresAdmin := false
	var preconditions []ast.Expr

	for !p.check(scanner.RightParen) {
		if err := p.consume(scanner.Colon); err != nil {
			return nil, err
		}
		if p.peek().Kind != scanner.Identifier {
			return nil, p.errorf("expected keyword (e.g. :signer)")
		}
		kw := p.advance().Str
		switch kw {
		case "signer", "requires":
			if err := p.consume(scanner.LeftParen); err != nil {
				return nil, err
			}
			if p.peek().Kind != scanner.Identifier {
				return nil, p.errorf("expected account name")
			}
			account := p.advance().Str
			if p.peek().Kind != scanner.Identifier {
				return nil, p.errorf("expected field name")
			}
			field := p.advance().Str
			if err := p.consume(scanner.RightParen); err != nil {
				return nil, err
			}
			signers = append(signers, &ast.ArrayLiteral{
				Elements: []ast.Expr{&ast.StringLiteral{Value: account}, &ast.StringLiteral{Value: field}},
			})
		case "admin":
			requiresAdmin = true
		case "active":
			names, err := p.parseIdentList()
			if err != nil {
				return nil, err
			}
			actives = stringLiterals(names)
		case "precondition", "pre":
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			preconditions = append(preconditions, e)
		default:
			return nil, p.errorf("unknown defaccess keyword: %s", kw)
		}
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}

	return &ast.ToolCall{
		Name: "__defaccess__",
		Args: []ast.Argument{
			ast.Positional(&ast.StringLiteral{Value: instr}),
			ast.Positional(&ast.ArrayLiteral{Elements: signers}),
			ast.Positional(&ast.BoolLiteral{Value: requiresAdmin}),
			ast.Positional(&ast.ArrayLiteral{Elements: actives}),
			ast.Positional(&ast.ArrayLiteral{Elements: preconditions}),
		},
	}, nil
}

// parseDefinvariant handles (definvariant Name ["description"] predicate).
func (p *Parser) parseDefinvariant() (ast.Expr, error) {
	p.advance() // 'definvariant'
	if p.peek().Kind != scanner.Identifier {
		return nil, p.errorf("expected invariant name")
	}
	name := p.advance().Str

	description := name
	if p.check(scanner.String) {
		description = p.advance().Str
	}

	predicate, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}

	return &ast.ToolCall{
		Name: "__definvariant__",
		Args: []ast.Argument{
			ast.Positional(&ast.StringLiteral{Value: name}),
			ast.Positional(&ast.StringLiteral{Value: description}),
			ast.Positional(predicate),
		},
	}, nil
}

// parseDefprotocol handles (defprotocol Name (defstate ...) (defaccess ...) ...).
func (p *Parser) parseDefprotocol() (ast.Expr, error) {
	p.advance() // 'defprotocol'
	if p.peek().Kind != scanner.Identifier {
		return nil, p.errorf("expected protocol name")
	}
	name := p.advance().Str

	body, err := p.parseExprsUntilClose()
	if err != nil {
		return nil, err
	}

	return &ast.ToolCall{
		Name: "__defprotocol__",
		Args: []ast.Argument{
			ast.Positional(&ast.StringLiteral{Value: name}),
			ast.Positional(&ast.ArrayLiteral{Elements: body}),
		},
	}, nil
}

// parseIdentList parses a parenthesised list of bare identifiers.
func (p *Parser) parseIdentList() ([]string, error) {
	if err := p.consume(scanner.LeftParen); err != nil {
		return nil, err
	}
	var names []string
	for !p.check(scanner.RightParen) {
		if p.peek().Kind != scanner.Identifier {
			return nil, p.errorf("expected identifier")
		}
		names = append(names, p.advance().Str)
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	return names, nil
}

func stringLiterals(names []string) []ast.Expr {
	out := make([]ast.Expr, len(names))
	for i, n := range names {
		out[i] = &ast.StringLiteral{Value: n}
	}
	return out
}

func (p *Parser) parseOperatorCall() (ast.Expr, error) {
	opTok := p.advance()
	op, err := tokenToBinaryOp(opTok)
	if err != nil {
		return nil, err
	}

	var operands []ast.Expr
	for !p.check(scanner.RightParen) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		operands = append(operands, e)
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}

	if len(operands) == 0 {
		return nil, p.errorf("operator requires at least one operand")
	}
	if len(operands) == 1 {
		return operands[0], nil
	}

	result := operands[0]
	for _, rhs := range operands[1:] {
		result = &ast.Binary{Op: op, Left: result, Right: rhs}
	}
	return result, nil
}

func tokenToBinaryOp(t scanner.Token) (ast.BinaryOp, error) {
	switch t.Kind {
	case scanner.Plus:
		return ast.Add, nil
	case scanner.Minus:
		return ast.Sub, nil
	case scanner.Star:
		return ast.Mul, nil
	case scanner.Slash:
		return ast.Div, nil
	case scanner.Percent:
		return ast.Mod, nil
	case scanner.Eq, scanner.Assign:
		return ast.OpEq, nil
	case scanner.NotEq:
		return ast.OpNotEq, nil
	case scanner.Lt:
		return ast.OpLt, nil
	case scanner.Gt:
		return ast.OpGt, nil
	case scanner.LtEq:
		return ast.OpLtEq, nil
	case scanner.GtEq:
		return ast.OpGtEq, nil
	default:
		return 0, fmt.Errorf("token %s is not an operator", t)
	}
}

func (p *Parser) parseFunctionCall() (ast.Expr, error) {
	if p.peek().Kind != scanner.Identifier {
		return nil, p.errorf("expected function name")
	}
	name := p.advance().Str

	var args []ast.Argument
	for !p.check(scanner.RightParen) {
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, ast.Positional(v))
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	return &ast.ToolCall{Name: name, Args: args}, nil
}

func (p *Parser) parseFieldAccess() (ast.Expr, error) {
	p.advance() // '.'
	obj, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind != scanner.Identifier {
		return nil, p.errorf("expected field name")
	}
	field := p.advance().Str
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	return &ast.FieldAccess{Object: obj, Field: field}, nil
}

func (p *Parser) parseIndexAccess() (ast.Expr, error) {
	p.advance() // '['
	arr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consume(scanner.RightBracket); err != nil {
		return nil, err
	}
	idx, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	return &ast.IndexAccess{Array: arr, Index: idx}, nil
}

func (p *Parser) parseTypeAnnotationForm() (ast.Expr, error) {
	p.advance() // ':'
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	typ, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	return &ast.TypeAnnotation{Expr: e, Type: typ}, nil
}

func (p *Parser) parseFunctionType() (ast.Expr, error) {
	p.advance() // '->'
	var parts []ast.Expr
	for !p.check(scanner.RightParen) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	return &ast.ToolCall{Name: "->", Args: lo.Map(parts, func(e ast.Expr, _ int) ast.Argument { return ast.Positional(e) })}, nil
}

func (p *Parser) parseArrayLiteral() (ast.Expr, error) {
	p.advance() // '['
	var elems []ast.Expr
	for !p.check(scanner.RightBracket) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if p.check(scanner.Comma) {
			p.advance()
		}
	}
	if err := p.consume(scanner.RightBracket); err != nil {
		return nil, err
	}
	return &ast.ArrayLiteral{Elements: elems}, nil
}

func (p *Parser) parseObjectLiteral() (ast.Expr, error) {
	p.advance() // '{'

	if p.peek().Kind == scanner.Identifier {
		saved := p.cur
		varName := p.peek().Str
		p.advance()
		if p.check(scanner.Colon) {
			p.advance()
			base, err := p.parseExpr()
			if err == nil && p.check(scanner.Pipe) {
				p.advance()
				pred, err := p.parseExpr()
				if err == nil {
					if err := p.consume(scanner.RightBrace); err == nil {
						return &ast.RefinedTypeExpr{Var: varName, BaseType: base, Predicate: pred}, nil
					}
				}
			}
		}
		p.cur = saved
	}

	var fields []ast.ObjectField
	for !p.check(scanner.RightBrace) {
		var key string
		switch p.peek().Kind {
		case scanner.Colon:
			p.advance()
			if p.peek().Kind != scanner.Identifier {
				return nil, p.errorf("expected identifier after ':' in object key")
			}
			key = p.advance().Str
		case scanner.String:
			key = p.advance().Str
		case scanner.Identifier:
			key = p.advance().Str
		default:
			return nil, p.errorf("expected object key")
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fields = append(fields, ast.ObjectField{Key: key, Value: val})
		if p.check(scanner.Comma) {
			p.advance()
		}
	}
	if err := p.consume(scanner.RightBrace); err != nil {
		return nil, err
	}
	return &ast.ObjectLiteral{Fields: fields}, nil
}

func (p *Parser) parseExprsUntilClose() ([]ast.Expr, error) {
	var body []ast.Expr
	for !p.check(scanner.RightParen) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		body = append(body, e)
	}
	if err := p.consume(scanner.RightParen); err != nil {
		return nil, err
	}
	return body, nil
}

// Helper methods

func (p *Parser) atEnd() bool { return p.peek().Kind == scanner.EOF }

func (p *Parser) peek() scanner.Token { return p.tokens[p.cur] }

func (p *Parser) advance() scanner.Token {
	t := p.tokens[p.cur]
	if !p.atEnd() {
		p.cur++
	}
	return t
}

func (p *Parser) check(k scanner.Kind) bool {
	return !p.atEnd() && p.peek().Kind == k
}

func (p *Parser) consume(k scanner.Kind) error {
	if p.check(k) {
		p.advance()
		return nil
	}
	return &ovsmerr.UnexpectedToken{Expected: k.String(), Got: p.peek().String()}
}

func (p *Parser) errorf(format string, args ...any) error {
	t := p.peek()
	return &ovsmerr.SyntaxError{Line: t.Line, Col: t.Col, Message: fmt.Sprintf(format, args...)}
}
