// Package scopevet provides a go/analysis based analyzer that reports scope
// lookups made on a detached context.
//
// A function that receives a context.Context runs inside its caller's scope
// (if any). Calling scope.Current, scope.Require, scope.MustCurrent,
// scope.HasScope or scope.Go with a fresh context.Background() or
// context.TODO() instead of that parameter can never see the caller's scope.
// The lookup silently reports "no scope" or, for Go, starts an unscoped
// goroutine.
//
// Suppress a diagnostic with a //scopevet:ignore comment on the same line or
// the line above.
package scopevet

import (
	"errors"
	"flag"
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
	"golang.org/x/tools/go/types/typeutil"
)

// DefaultScopePackage is the import path of the scope package.
const DefaultScopePackage = "github.com/roach88/ambient/internal/scope"

var scopePackage = DefaultScopePackage

func init() {
	Analyzer.Flags.StringVar(&scopePackage, "scope-package", DefaultScopePackage,
		"import path of the package providing the scope accessors")
}

// Analyzer reports scope accessors called with a detached context.
var Analyzer = &analysis.Analyzer{
	Name:     "scopevet",
	Doc:      "reports scope lookups on context.Background()/TODO() inside functions that receive a context",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
	Flags:    flag.FlagSet{},
}

// ErrNoInspector is returned when the inspect analyzer result is missing.
var ErrNoInspector = errors.New("inspector analyzer result not found")

// accessors take the context as their first argument.
var accessors = map[string]bool{
	"Current":     true,
	"Require":     true,
	"MustCurrent": true,
	"HasScope":    true,
	"Go":          true,
}

const ignoreDirective = "//scopevet:ignore"

func run(pass *analysis.Pass) (any, error) {
	insp, ok := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	if !ok {
		return nil, ErrNoInspector
	}

	ignored := ignoredLines(pass)

	nodeFilter := []ast.Node{(*ast.CallExpr)(nil)}
	insp.WithStack(nodeFilter, func(n ast.Node, push bool, stack []ast.Node) bool {
		if !push {
			return true
		}
		call := n.(*ast.CallExpr)

		name, ok := accessorName(pass, call)
		if !ok || len(call.Args) == 0 {
			return true
		}
		detached, ok := detachedContext(pass, call.Args[0])
		if !ok {
			return true
		}
		param := enclosingContextParam(pass, stack)
		if param == "" {
			return true
		}

		pos := pass.Fset.Position(call.Pos())
		if ignored[pos.Filename][pos.Line] {
			return true
		}

		pass.Reportf(call.Pos(), "scope.%s called with %s; pass %q to see the caller's scope", name, detached, param)
		return true
	})

	return nil, nil
}

// accessorName returns the accessor's name if call invokes one of the scope
// accessors.
func accessorName(pass *analysis.Pass, call *ast.CallExpr) (string, bool) {
	fn, ok := typeutil.Callee(pass.TypesInfo, call).(*types.Func)
	if !ok || fn.Pkg() == nil || fn.Pkg().Path() != scopePackage {
		return "", false
	}
	if sig, ok := fn.Type().(*types.Signature); !ok || sig.Recv() != nil {
		return "", false
	}
	if !accessors[fn.Name()] {
		return "", false
	}
	return fn.Name(), true
}

// detachedContext reports whether expr is a direct context.Background() or
// context.TODO() call and returns its rendering.
func detachedContext(pass *analysis.Pass, expr ast.Expr) (string, bool) {
	call, ok := ast.Unparen(expr).(*ast.CallExpr)
	if !ok {
		return "", false
	}
	fn, ok := typeutil.Callee(pass.TypesInfo, call).(*types.Func)
	if !ok || fn.Pkg() == nil || fn.Pkg().Path() != "context" {
		return "", false
	}
	switch fn.Name() {
	case "Background", "TODO":
		return "context." + fn.Name() + "()", true
	}
	return "", false
}

// enclosingContextParam returns the name of the nearest context.Context
// parameter of any function enclosing the call, or "" if there is none.
// Closures see their outer function's parameters.
func enclosingContextParam(pass *analysis.Pass, stack []ast.Node) string {
	for i := len(stack) - 1; i >= 0; i-- {
		var ft *ast.FuncType
		switch fn := stack[i].(type) {
		case *ast.FuncDecl:
			ft = fn.Type
		case *ast.FuncLit:
			ft = fn.Type
		default:
			continue
		}
		if name := contextParam(pass, ft); name != "" {
			return name
		}
	}
	return ""
}

func contextParam(pass *analysis.Pass, ft *ast.FuncType) string {
	if ft.Params == nil {
		return ""
	}
	for _, field := range ft.Params.List {
		if !isContextType(pass.TypesInfo.TypeOf(field.Type)) {
			continue
		}
		for _, name := range field.Names {
			if name.Name != "_" {
				return name.Name
			}
		}
	}
	return ""
}

func isContextType(t types.Type) bool {
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	return obj.Pkg() != nil && obj.Pkg().Path() == "context" && obj.Name() == "Context"
}

// ignoredLines maps filename to the lines covered by an ignore directive:
// the directive's own line and the one after it.
func ignoredLines(pass *analysis.Pass) map[string]map[int]bool {
	out := make(map[string]map[int]bool)
	for _, file := range pass.Files {
		for _, cg := range file.Comments {
			for _, c := range cg.List {
				if !strings.HasPrefix(c.Text, ignoreDirective) {
					continue
				}
				pos := pass.Fset.Position(c.Pos())
				if out[pos.Filename] == nil {
					out[pos.Filename] = make(map[int]bool)
				}
				out[pos.Filename][pos.Line] = true
				out[pos.Filename][pos.Line+1] = true
			}
		}
	}
	return out
}
