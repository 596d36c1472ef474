package celengine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

// OrderVar is the single variable visible to eligibility rules.
const OrderVar = "order"

// Engine compiles boolean rules over an order and caches the programs by
// expression text.
type Engine struct {
	env      *cel.Env
	programs sync.Map
}

func New() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable(OrderVar, cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, err
	}
	return &Engine{env: env}, nil
}

// Validate compiles expr and checks that it can yield a bool.
func (e *Engine) Validate(expr string) error {
	_, err := e.program(expr)
	return err
}

func (e *Engine) program(expr string) (cel.Program, error) {
	if v, ok := e.programs.Load(expr); ok {
		return v.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("rule must evaluate to bool, got %s", out)
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}
	e.programs.Store(expr, prg)
	return prg, nil
}

// Evaluate runs expr against vars. A non-bool result is an error.
func (e *Engine) Evaluate(expr string, vars map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		zap.L().Debug("rule evaluation failed", zap.String("expr", expr), zap.Error(err))
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from rule, got %T (%v)", out.Value(), out.Value())
	}
	return b, nil
}
