// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/traylinx/assistGate/internal/capability"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(cfg)
	l.SetNowFunc(func() time.Time { return now })
	return l, &now
}

func TestLimiter_PerCapabilityWindow(t *testing.T) {
	l, now := newTestLimiter(DefaultConfig())

	// 10 requests admitted, the 11th in the same window denied.
	for i := 0; i < 10; i++ {
		d := l.Allow(capability.EstimateDuration)
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
		*now = now.Add(time.Second)
	}
	d := l.Allow(capability.EstimateDuration)
	assert.False(t, d.Allowed)
	assert.Equal(t, "capability rate limit exceeded", d.Reason)

	// One window later the next request is admitted again.
	*now = now.Add(61 * time.Second)
	d = l.Allow(capability.EstimateDuration)
	assert.True(t, d.Allowed)
}

func TestLimiter_PerCapabilityIsolation(t *testing.T) {
	l, _ := newTestLimiter(DefaultConfig())

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow(capability.EstimateDuration).Allowed)
	}
	assert.False(t, l.Allow(capability.EstimateDuration).Allowed)
	assert.True(t, l.Allow(capability.StudyPlan).Allowed)
}

func TestLimiter_GlobalWindowWithBurst(t *testing.T) {
	l, _ := newTestLimiter(DefaultConfig())

	// Spread over capabilities so the per-capability cap never trips.
	caps := []capability.ID{
		capability.EstimateDuration, capability.StudyPlan, capability.SchedulePlacement,
		capability.WorkloadForecast, capability.TaskCreation, capability.ConflictResolution,
		capability.DocumentIngest, capability.EntityExtract,
	}
	admitted := 0
	for i := 0; i < 50; i++ {
		if l.Allow(caps[i%len(caps)]).Allowed {
			admitted++
		}
	}
	// 30/min global plus a burst of 5.
	assert.Equal(t, 35, admitted)
}

func TestLimiter_FailureCircuitWithBackoff(t *testing.T) {
	l, now := newTestLimiter(DefaultConfig())

	require.True(t, l.Allow(capability.StudyPlan).Allowed)
	l.RecordFailure(capability.StudyPlan)
	l.RecordFailure(capability.StudyPlan)
	require.True(t, l.Allow(capability.StudyPlan).Allowed)

	// Third consecutive failure opens the circuit (2^0 = 1s backoff).
	l.RecordFailure(capability.StudyPlan)
	d := l.Allow(capability.StudyPlan)
	assert.False(t, d.Allowed)
	assert.Equal(t, "capability circuit open", d.Reason)

	*now = now.Add(2 * time.Second)
	assert.True(t, l.Allow(capability.StudyPlan).Allowed)
}

func TestLimiter_BackoffGrowsAndCaps(t *testing.T) {
	l, now := newTestLimiter(DefaultConfig())

	// Failures 3..20: backoff doubles each time but never exceeds 5 minutes.
	for i := 0; i < 20; i++ {
		l.RecordFailure(capability.TaskCreation)
	}
	d := l.Allow(capability.TaskCreation)
	require.False(t, d.Allowed)

	*now = now.Add(4 * time.Minute)
	assert.False(t, l.Allow(capability.TaskCreation).Allowed)

	*now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow(capability.TaskCreation).Allowed)
}

func TestLimiter_SuccessClosesCircuit(t *testing.T) {
	l, _ := newTestLimiter(DefaultConfig())

	for i := 0; i < 3; i++ {
		l.RecordFailure(capability.StudyPlan)
	}
	require.False(t, l.Allow(capability.StudyPlan).Allowed)

	l.RecordSuccess(capability.StudyPlan)
	assert.True(t, l.Allow(capability.StudyPlan).Allowed)
}

func TestLimiter_Stats(t *testing.T) {
	l, _ := newTestLimiter(DefaultConfig())

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(capability.EstimateDuration).Allowed)
	}
	stats := l.Stats()
	assert.Equal(t, 3, stats.GlobalLastMinute)
	assert.Equal(t, 3, stats.PerCapability[capability.EstimateDuration])
	assert.Equal(t, 30, stats.GlobalLimit)
	assert.Empty(t, stats.OpenCircuits)
}

func TestConfig_UnmarshalYAML(t *testing.T) {
	var cfg Config
	err := yaml.Unmarshal([]byte("global-per-minute: 60\nmax-backoff: 2m\n"), &cfg)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.GlobalPerMinute)
	assert.Equal(t, 2*time.Minute, cfg.MaxBackoff)
}

func TestLimiter_DeniedRequestsNotRecorded(t *testing.T) {
	l, now := newTestLimiter(DefaultConfig())

	for i := 0; i < 15; i++ {
		l.Allow(capability.EstimateDuration)
	}
	// Only 10 were recorded; once they age out, a full window is available.
	*now = now.Add(61 * time.Second)
	for i := 0; i < 10; i++ {
		require.True(t, l.Allow(capability.EstimateDuration).Allowed,
			fmt.Sprintf("request %d after window reset", i+1))
	}
}
