package war

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// VictoryEnv is the environment a victory rule is evaluated against, once
// per faction.
type VictoryEnv struct {
	NodesHeld      int
	AvgControl     float64
	Tokens         int
	TotalNodes     int
	MinNodes       int
	MinAvgControl  float64
	TokenThreshold int
}

// Rule is a compiled victory condition.
type Rule struct {
	src     string
	program *vm.Program
}

// CompileRule compiles a boolean victory expression.
func CompileRule(src string) (*Rule, error) {
	prog, err := expr.Compile(src, expr.Env(VictoryEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile victory rule %q: %w", src, err)
	}
	return &Rule{src: src, program: prog}, nil
}

// Eval reports whether env satisfies the rule.
func (r *Rule) Eval(env VictoryEnv) (bool, error) {
	out, err := vm.Run(r.program, env)
	if err != nil {
		return false, fmt.Errorf("run victory rule: %w", err)
	}
	won, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("victory rule returned %T", out)
	}
	return won, nil
}

// String returns the rule source.
func (r *Rule) String() string {
	return r.src
}
