package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Expr is a free-form request filter written in CEL against the granule
// attributes, e.g. `cloud < 20.0 && sensor == "OLI"`.
type Expr struct {
	Source string
	attrs  []string
	prg    cel.Program
}

// CompileExpr type-checks src with every attribute declared as a dynamic
// variable.
func CompileExpr(src string, attrs []string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, errors.New("empty filter expression")
	}
	opts := make([]cel.EnvOption, 0, len(attrs))
	for _, a := range attrs {
		opts = append(opts, cel.Variable(a, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, iss := env.Compile(src)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", src, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", src, err)
	}
	return &Expr{Source: src, attrs: attrs, prg: prg}, nil
}

// Evaluate treats evaluation errors (missing attributes, type mismatches)
// and non-boolean results as a non-match.
func (e *Expr) Evaluate(f Feature) bool {
	vars := make(map[string]any, len(e.attrs))
	for _, a := range e.attrs {
		if v, ok := f.Attr(a); ok {
			vars[a] = v
		}
	}
	out, _, err := e.prg.Eval(vars)
	if err != nil {
		return false
	}
	return out == types.True
}

func (e *Expr) String() string { return "[" + e.Source + "]" }
