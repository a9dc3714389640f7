package celengine

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Rule is a compiled boolean CEL expression.
type Rule struct {
	expr string
	prg  cel.Program
}

// Compile type-checks expr against vars and requires a bool result.
func Compile(expr string, vars map[string]*cel.Type) (*Rule, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for name, typ := range vars {
		opts = append(opts, cel.Variable(name, typ))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	return &Rule{expr: expr, prg: prg}, nil
}

func (r *Rule) String() string {
	return r.expr
}

func (r *Rule) Eval(attrs map[string]any) (bool, error) {
	out, _, err := r.prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}

	return b, nil
}
