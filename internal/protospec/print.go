package protospec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openSVM/ovsmc/internal/ast"
	"github.com/openSVM/ovsmc/internal/ovsmerr"
)

// PrintExpr renders an already-parsed expression back into OVSM surface
// syntax, the inverse of internal/parser for the subset of forms a
// defaccess precondition or definvariant predicate realistically uses:
// literals, variable references, field/index access, and operator and
// tool calls. It exists so synthesized guard source
// (GenerateRuntimeChecks) can embed a predicate that was already parsed
// out of a defaccess/definvariant declaration without re-deriving its
// original source text.
func PrintExpr(e ast.Expr) (string, error) {
	switch n := e.(type) {
	case *ast.IntLiteral:
		return strconv.FormatInt(n.Value, 10), nil
	case *ast.FloatLiteral:
		return strconv.FormatFloat(n.Value, 'g', -1, 64), nil
	case *ast.StringLiteral:
		return strconv.Quote(n.Value), nil
	case *ast.BoolLiteral:
		if n.Value {
			return "true", nil
		}
		return "false", nil
	case *ast.NullLiteral:
		return "null", nil
	case *ast.Variable:
		return n.Name, nil
	case *ast.Grouping:
		inner, err := PrintExpr(n.Inner)
		if err != nil {
			return "", err
		}
		return inner, nil
	case *ast.Unary:
		operand, err := PrintExpr(n.Operand)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s)", n.Op, operand), nil
	case *ast.Binary:
		left, err := PrintExpr(n.Left)
		if err != nil {
			return "", err
		}
		right, err := PrintExpr(n.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", n.Op, left, right), nil
	case *ast.FieldAccess:
		obj, err := PrintExpr(n.Object)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(. %s %s)", obj, n.Field), nil
	case *ast.IndexAccess:
		arr, err := PrintExpr(n.Array)
		if err != nil {
			return "", err
		}
		idx, err := PrintExpr(n.Index)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("([ %s] %s)", arr, idx), nil
	case *ast.ToolCall:
		var parts []string
		for _, a := range n.Args {
			v, err := PrintExpr(a.Value)
			if err != nil {
				return "", err
			}
			if a.Name != "" {
				v = fmt.Sprintf(":%s %s", a.Name, v)
			}
			parts = append(parts, v)
		}
		if len(parts) == 0 {
			return fmt.Sprintf("(%s)", n.Name), nil
		}
		return fmt.Sprintf("(%s %s)", n.Name, strings.Join(parts, " ")), nil
	case *ast.ArrayLiteral:
		var parts []string
		for _, el := range n.Elements {
			v, err := PrintExpr(el)
			if err != nil {
				return "", err
			}
			parts = append(parts, v)
		}
		return fmt.Sprintf("(%s)", strings.Join(parts, " ")), nil
	default:
		return "", &ovsmerr.CompilerError{Message: fmt.Sprintf("protospec: cannot print %T as guard source", e)}
	}
}
