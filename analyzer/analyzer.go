// Package analyzer checks orchestration functions for code that breaks deterministic replay.
package analyzer

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "durabletask",
	Doc:      "Checks orchestrations for code that is not deterministic on replay",
	Run:      run,
	Requires: []*analysis.Analyzer{inspect.Analyzer},
}

// Calls that return different values on replay, mapped to the replay-safe replacement.
var nonDeterministicCalls = map[string]map[string]string{
	"time": {
		"Now":   "workflow.Now",
		"Since": "workflow.Now",
		"Until": "workflow.Now",
		"Sleep": "an activity",
		"After": "an activity",
		"Tick":  "an activity",
	},
	"math/rand": {
		"*": "workflow.NewRandom",
	},
	"math/rand/v2": {
		"*": "workflow.NewRandom",
	},
	"github.com/google/uuid": {
		"New":       "workflow.NewGUID",
		"NewString": "workflow.NewGUID",
		"NewRandom": "workflow.NewGUID",
	},
	"os": {
		"Getenv":    "an activity",
		"LookupEnv": "an activity",
	},
}

func run(pass *analysis.Pass) (any, error) {
	inspector := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.FuncDecl)(nil)}

	inspector.Preorder(nodeFilter, func(node ast.Node) {
		funcDecl := node.(*ast.FuncDecl)

		if !isOrchestration(funcDecl) {
			return
		}

		checkResults(pass, funcDecl)

		if funcDecl.Body == nil {
			return
		}

		ast.Inspect(funcDecl.Body, func(n ast.Node) bool {
			switch n := n.(type) {
			case *ast.RangeStmt:
				t := pass.TypesInfo.TypeOf(n.X)
				if t == nil {
					return true
				}

				if _, ok := t.Underlying().(*types.Map); ok {
					pass.Reportf(n.Pos(), "iterating over a map is not deterministic and not allowed in orchestrations")
				}

			case *ast.GoStmt:
				pass.Reportf(n.Pos(), "orchestrations must not start goroutines, schedule activities instead")

			case *ast.SelectStmt:
				pass.Reportf(n.Pos(), "select is not allowed in orchestrations, use workflow.WaitAny")

			case *ast.CallExpr:
				checkCall(pass, n)
			}

			return true
		})
	})

	return nil, nil
}

func checkResults(pass *analysis.Pass, funcDecl *ast.FuncDecl) {
	if funcDecl.Type.Results == nil || len(funcDecl.Type.Results.List) == 0 {
		pass.Reportf(funcDecl.Pos(), "orchestration %q doesn't return anything. needs to return at least `error`", funcDecl.Name.Name)
		return
	}

	if funcDecl.Type.Results.NumFields() > 2 {
		pass.Reportf(funcDecl.Pos(), "orchestration %q returns more than two values", funcDecl.Name.Name)
		return
	}

	lastResult := funcDecl.Type.Results.List[len(funcDecl.Type.Results.List)-1]
	if types.ExprString(lastResult.Type) != "error" {
		pass.Reportf(funcDecl.Pos(), "orchestration %q doesn't return `error` as last return value", funcDecl.Name.Name)
	}
}

func checkCall(pass *analysis.Pass, call *ast.CallExpr) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return
	}

	f, ok := pass.TypesInfo.Uses[sel.Sel].(*types.Func)
	if !ok || f.Pkg() == nil {
		return
	}

	// Methods, e.g. on a *rand.Rand returned by workflow.NewRandom, are fine
	if sig, ok := f.Type().(*types.Signature); ok && sig.Recv() != nil {
		return
	}

	funcs, ok := nonDeterministicCalls[f.Pkg().Path()]
	if !ok {
		return
	}

	replacement, ok := funcs[f.Name()]
	if !ok {
		if replacement, ok = funcs["*"]; !ok {
			return
		}
	}

	pass.Reportf(call.Pos(), "%s.%s is not deterministic, use %s", f.Pkg().Name(), f.Name(), replacement)
}

// isOrchestration reports whether the first parameter is a workflow.Context.
func isOrchestration(funcDecl *ast.FuncDecl) bool {
	params := funcDecl.Type.Params.List

	if len(params) < 1 {
		return false
	}

	firstParam, ok := params[0].Type.(*ast.SelectorExpr)
	if !ok {
		return false
	}

	xname, ok := firstParam.X.(*ast.Ident)
	if !ok {
		return false
	}

	return xname.Name+"."+firstParam.Sel.Name == "workflow.Context"
}
