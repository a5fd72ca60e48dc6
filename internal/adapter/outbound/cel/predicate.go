// Package cel adapts google/cel-go into a single riptide.Predicate
// implementation: an escape hatch for access-control rules that the fixed
// Is/Has/IsEqual/Any/All/Not algebra can't express declaratively (e.g.
// "attrs.plan in ['pro','enterprise'] && attrs.age >= 18").
//
// Adapted from the teacher's policy CEL evaluator (environment
// construction, cost/timeout limits, nesting-depth guard) but narrowed to
// a single "attrs" map variable instead of the teacher's dozen
// protocol-specific CEL variables, since a predicate here only ever sees
// one connection's session bag.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/riptide-ws/riptide/pkg/riptide"
)

// Safety limits mirroring the teacher's HARDEN-02 guards.
const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	maxNestingDepth      = 50
	evalTimeout          = 250 * time.Millisecond
	interruptCheckFreq   = 100
)

// env is the single shared CEL environment: one "attrs" variable holding
// the connection's session bag as a dynamic map.
var env = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.DynType)),
	)
})

// Expr compiles expression once (lazily, cached) and returns a
// riptide.Predicate that evaluates it against a connection's session bag
// exposed as the "attrs" map. A compile or evaluation error makes the
// predicate evaluate to false — consistent with "missing attribute
// returns false, never a hard error" (spec §4.2); the error is only
// surfaced through NewExpr's return value at registration time for the
// compile step, and swallowed at Eval time for runtime errors.
type Expr struct {
	source string
	once   sync.Once
	prg    cel.Program
	err    error
}

// NewExpr validates expr at registration time and returns a compiled
// predicate, so a bad CEL expression is a registration-time error rather
// than a silent always-false predicate. (A repeated RPC method name is not
// an error: rpc.Dispatcher.Handle replaces the earlier method.)
func NewExpr(expression string) (*Expr, error) {
	if err := validate(expression); err != nil {
		return nil, err
	}
	e := &Expr{source: expression}
	e.compile()
	if e.err != nil {
		return nil, e.err
	}
	return e, nil
}

func (e *Expr) compile() {
	e.once.Do(func() {
		environment, err := env()
		if err != nil {
			e.err = fmt.Errorf("cel: environment: %w", err)
			return
		}
		ast, issues := environment.Compile(e.source)
		if issues != nil && issues.Err() != nil {
			e.err = fmt.Errorf("cel: compile %q: %w", e.source, issues.Err())
			return
		}
		prg, err := environment.Program(ast,
			cel.EvalOptions(cel.OptOptimize),
			cel.CostLimit(maxCostBudget),
			cel.InterruptCheckFrequency(interruptCheckFreq),
		)
		if err != nil {
			e.err = fmt.Errorf("cel: program %q: %w", e.source, err)
			return
		}
		e.prg = prg
	})
}

// Eval implements riptide.Predicate.
func (e *Expr) Eval(src riptide.AttrSource) bool {
	e.compile()
	if e.err != nil || e.prg == nil {
		return false
	}

	attrs, ok := src.(interface{ Attrs() map[string]any })
	var attrMap map[string]any
	if ok {
		attrMap = attrs.Attrs()
	} else {
		attrMap = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := e.prg.ContextEval(ctx, map[string]any{"attrs": attrMap})
	if err != nil {
		return false
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false
	}
	return b
}

func validate(expr string) error {
	if expr == "" {
		return errors.New("cel: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("cel: expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("cel: expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}
