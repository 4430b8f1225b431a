// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/assistGate/internal/capability"
)

func TestBudgetForClass(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, BudgetForClass(capability.ClassEstimate))
	assert.Equal(t, 300*time.Millisecond, BudgetForClass(capability.ClassSchedule))
	assert.Equal(t, 400*time.Millisecond, BudgetForClass(capability.ClassForecast))
	assert.Equal(t, 500*time.Millisecond, BudgetForClass(capability.ClassDecompose))
	assert.Equal(t, 800*time.Millisecond, BudgetForClass(capability.ClassParse))
}

func TestTimeBudget_FastProviderWins(t *testing.T) {
	b := TimeBudget{Capability: capability.EstimateDuration, Budget: 200 * time.Millisecond}

	out, _, err := b.Execute(context.Background(), func(ctx context.Context) (json.RawMessage, capability.Diagnostic, error) {
		return json.RawMessage(`{"estimated_minutes":60}`), capability.Diagnostic{}, nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"estimated_minutes":60}`, string(out))
}

func TestTimeBudget_SlowProviderLoses(t *testing.T) {
	// Budget 200ms, provider sleeps 500ms: the caller gets a timeout at
	// roughly the budget, not the provider's latency.
	b := TimeBudget{Capability: capability.EstimateDuration, Budget: 200 * time.Millisecond}

	start := time.Now()
	_, _, err := b.Execute(context.Background(), func(ctx context.Context) (json.RawMessage, capability.Diagnostic, error) {
		select {
		case <-time.After(500 * time.Millisecond):
			return json.RawMessage(`{}`), capability.Diagnostic{}, nil
		case <-ctx.Done():
			return nil, capability.Diagnostic{}, ctx.Err()
		}
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, elapsed, 400*time.Millisecond)

	var te *TimeBudgetError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, capability.EstimateDuration, te.Capability)
	assert.Equal(t, 200*time.Millisecond, te.Budget)
}

func TestTimeBudget_ProviderErrorPropagates(t *testing.T) {
	b := TimeBudget{Capability: capability.StudyPlan, Budget: 300 * time.Millisecond}

	wantErr := errors.New("model crashed")
	_, _, err := b.Execute(context.Background(), func(ctx context.Context) (json.RawMessage, capability.Diagnostic, error) {
		return nil, capability.Diagnostic{}, wantErr
	})
	require.ErrorIs(t, err, wantErr)
	assert.False(t, IsTimeout(err))
}

func TestTimeBudget_ContextCancellation(t *testing.T) {
	b := TimeBudget{Capability: capability.StudyPlan, Budget: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, err := b.Execute(ctx, func(ctx context.Context) (json.RawMessage, capability.Diagnostic, error) {
		<-ctx.Done()
		return nil, capability.Diagnostic{}, ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTimeout(err))
}
