// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/traylinx/assistGate/internal/capability"
)

// Standard budgets by capability class.
const (
	BudgetEstimate  = 200 * time.Millisecond
	BudgetSchedule  = 300 * time.Millisecond
	BudgetForecast  = 400 * time.Millisecond
	BudgetDecompose = 500 * time.Millisecond
	BudgetParse     = 800 * time.Millisecond
)

// BudgetForClass maps a capability class to its execution time budget.
func BudgetForClass(class capability.Class) time.Duration {
	switch class {
	case capability.ClassEstimate:
		return BudgetEstimate
	case capability.ClassSchedule:
		return BudgetSchedule
	case capability.ClassForecast:
		return BudgetForecast
	case capability.ClassDecompose:
		return BudgetDecompose
	case capability.ClassParse:
		return BudgetParse
	default:
		return BudgetParse
	}
}

// TimeBudgetError distinguishes "provider was slow" from "provider was
// wrong": a budget win is a timeout, not a provider error.
type TimeBudgetError struct {
	Capability capability.ID
	Budget     time.Duration
	Elapsed    time.Duration
}

func (e *TimeBudgetError) Error() string {
	return fmt.Sprintf("time budget exceeded for %s: %dms (budget %dms)",
		e.Capability, e.Elapsed.Milliseconds(), e.Budget.Milliseconds())
}

// TimeBudget bounds a single provider execution.
type TimeBudget struct {
	Capability capability.ID
	Budget     time.Duration
}

// ExecuteFunc is one provider call under a budget.
type ExecuteFunc func(ctx context.Context) (json.RawMessage, capability.Diagnostic, error)

// Execute races fn against the budget. Whichever finishes first wins and the
// loser is cancelled through the context. Cancellation is cooperative: a
// provider that ignores it only degrades the race to "ignore the late
// result"; the goroutine drains into a buffered channel and exits.
func (b TimeBudget) Execute(ctx context.Context, fn ExecuteFunc) (json.RawMessage, capability.Diagnostic, error) {
	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		out  json.RawMessage
		diag capability.Diagnostic
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		out, diag, err := fn(runCtx)
		done <- outcome{out: out, diag: diag, err: err}
	}()

	timer := time.NewTimer(b.Budget)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.out, o.diag, o.err
	case <-timer.C:
		cancel()
		return nil, capability.Diagnostic{}, &TimeBudgetError{
			Capability: b.Capability,
			Budget:     b.Budget,
			Elapsed:    time.Since(start),
		}
	case <-ctx.Done():
		return nil, capability.Diagnostic{}, ctx.Err()
	}
}

// IsTimeout reports whether err is a time-budget loss.
func IsTimeout(err error) bool {
	var te *TimeBudgetError
	return errors.As(err, &te)
}
