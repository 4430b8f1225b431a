// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package steering

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionEvaluator compiles and caches rule conditions. Conditions are
// compiled against the DispatchContext environment, so a rule referencing an
// unknown field fails at load time rather than per request.
type ConditionEvaluator struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
}

// NewConditionEvaluator returns an evaluator with an empty program cache.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{programs: make(map[string]*vm.Program)}
}

// Compile verifies a condition without running it. Used at rule load.
func (e *ConditionEvaluator) Compile(condition string) error {
	if condition == "" || condition == "true" {
		return nil
	}
	_, err := e.program(condition)
	return err
}

// Evaluate runs a condition against a dispatch context.
func (e *ConditionEvaluator) Evaluate(condition string, ctx DispatchContext) (bool, error) {
	if condition == "" || condition == "true" {
		return true, nil
	}
	program, err := e.program(condition)
	if err != nil {
		return false, err
	}
	output, err := expr.Run(program, ctx)
	if err != nil {
		return false, fmt.Errorf("run condition %q: %w", condition, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return a boolean", condition)
	}
	return result, nil
}

func (e *ConditionEvaluator) program(condition string) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.programs[condition]; ok {
		return p, nil
	}
	p, err := expr.Compile(condition, expr.Env(DispatchContext{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", condition, err)
	}
	e.programs[condition] = p
	return p, nil
}
