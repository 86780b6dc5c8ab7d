// Package query evaluates expr-lang expressions against store snapshots.
//
// A snapshot is exposed as the variable "state". When the snapshot is a
// mapping its keys are also available at the top level, so "len(items)"
// and "len(state.items)" are equivalent.
package query

import (
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/vango-dev/katai/pkg/subscribe"
)

// ErrEmptyExpression is returned for blank expressions.
var ErrEmptyExpression = errors.New("query: expression must not be empty")

// Error wraps a compile or run failure with the expression text.
type Error struct {
	Expression string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("query %q: %v", e.Expression, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Evaluator compiles expressions once and caches the programs.
type Evaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// New creates an Evaluator with an empty program cache.
func New() *Evaluator {
	return &Evaluator{programs: make(map[string]*vm.Program)}
}

// Eval runs expression against state.
func (e *Evaluator) Eval(expression string, state any) (any, error) {
	return e.run(expression, env(state, nil, false))
}

// Match runs a boolean expression against state.
func (e *Evaluator) Match(expression string, state any) (bool, error) {
	out, err := e.Eval(expression, state)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, &Error{Expression: expression, Err: fmt.Errorf("result is %T, not bool", out)}
	}
	return b, nil
}

// Check compiles expression without running it.
func (e *Evaluator) Check(expression string) error {
	_, err := e.compile(expression)
	return err
}

// When wraps sub so it only fires when expression is true. The expression
// sees the new value as "state" (and its keys) and the old value as "old".
// An expression that fails to evaluate is reported as the subscriber's
// error.
func (e *Evaluator) When(expression string, sub subscribe.Subscriber) subscribe.Subscriber {
	return &filtered{eval: e, expression: expression, next: sub}
}

func (e *Evaluator) run(expression string, environment map[string]any) (any, error) {
	program, err := e.compile(expression)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, environment)
	if err != nil {
		return nil, &Error{Expression: expression, Err: err}
	}
	return out, nil
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, &Error{Expression: expression, Err: err}
	}
	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()
	return program, nil
}

func env(state, old any, withOld bool) map[string]any {
	out := map[string]any{}
	if m, ok := state.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	out["state"] = state
	if withOld {
		out["old"] = old
	}
	return out
}

type filtered struct {
	eval       *Evaluator
	expression string
	next       subscribe.Subscriber
}

func (f *filtered) ID() string {
	return f.next.ID() + "?" + f.expression
}

func (f *filtered) OnChange(newValue, oldValue any) error {
	out, err := f.eval.run(f.expression, env(newValue, oldValue, true))
	if err != nil {
		return err
	}
	if ok, _ := out.(bool); !ok {
		return nil
	}
	return f.next.OnChange(newValue, oldValue)
}
