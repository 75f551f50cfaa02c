package protospec

import (
	"fmt"
	"strings"

	"modernc.org/cc/v4"
)

// ValidateGuardSignature confirms that name is usable as a guard
// function's identifier by round-tripping a one-line C stub declaration
// through a real C front end: synthesized guard names come from
// surface-language identifiers (invariant and instruction names), and a
// name that collides with a C keyword or isn't a valid C identifier
// would be a sign the synthesized diagnostic text embedding it (error
// messages, and any future lowering of defaccess preconditions written in
// the small C-like comparison grammar spec.md describes) is unsafe to
// trust verbatim.
//
// This reuses the exact cc.NewConfig/cc.Parse/ast.TranslationUnit
// traversal shape the teacher's C-intrinsic front end uses, the same
// library this toolchain's dependency stack already carries for that
// purpose.
func ValidateGuardSignature(name string, paramCount int) error {
	cfg, err := cc.NewConfig("linux", "amd64")
	if err != nil {
		return fmt.Errorf("protospec: cc config: %w", err)
	}

	var params strings.Builder
	for i := 0; i < paramCount; i++ {
		if i > 0 {
			params.WriteString(", ")
		}
		fmt.Fprintf(&params, "int a%d", i)
	}

	stub := fmt.Sprintf("int %s(%s) { return 0; }\n", name, params.String())

	ast, err := cc.Parse(cfg, []cc.Source{
		{Name: "<predefined>", Value: cfg.Predefined},
		{Name: "<builtin>", Value: cc.Builtin},
		{Name: "<guard-stub>", Value: stub},
	})
	if err != nil {
		return fmt.Errorf("protospec: guard name %q is not a valid C identifier: %w", name, err)
	}

	found := false
	for tu := ast.TranslationUnit; tu != nil; tu = tu.TranslationUnit {
		ed := tu.ExternalDeclaration
		if ed.Position().Filename != "<guard-stub>" {
			continue
		}
		if ed.Case == cc.ExternalDeclarationFuncDef {
			fs := ed.FunctionDefinition.DeclarationSpecifiers.FunctionSpecifier
			if fs != nil && fs.Case == cc.FunctionSpecifierInline {
				return fmt.Errorf("protospec: guard name %q parsed as inline, unexpected for a stub declaration", name)
			}
			found = true
		}
	}
	if !found {
		return fmt.Errorf("protospec: guard name %q did not parse as a function declaration", name)
	}
	return nil
}
