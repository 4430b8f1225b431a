// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestBreaker(t *testing.T) (*CircuitBreaker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(DefaultBreakerConfig())
	b.SetNowFunc(func() time.Time { return now })
	return b, &now
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)

	assert.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanAttempt())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanAttempt())
}

func TestCircuitBreaker_HalfOpenProbeAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.CanAttempt())

	// Cooldown elapses: one probe is allowed.
	*now = now.Add(31 * time.Second)
	assert.True(t, b.CanAttempt())
	assert.Equal(t, StateHalfOpen, b.State())

	// Next probe must wait for the probe interval.
	assert.False(t, b.CanAttempt())
	*now = now.Add(11 * time.Second)
	assert.True(t, b.CanAttempt())
}

func TestCircuitBreaker_SuccessWhileHalfOpenCloses(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	*now = now.Add(31 * time.Second)
	require.True(t, b.CanAttempt())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.ConsecutiveFailures())
	assert.True(t, b.CanAttempt())
}

func TestCircuitBreaker_FailureWhileHalfOpenReopens(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	*now = now.Add(31 * time.Second)
	require.True(t, b.CanAttempt())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanAttempt())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestProviderReliability_IsolatesProviders(t *testing.T) {
	r := NewProviderReliability(DefaultBreakerConfig())

	for i := 0; i < 3; i++ {
		r.RecordFailure("on-device-model")
	}
	assert.False(t, r.CanUse("on-device-model"))
	assert.True(t, r.CanUse("bundled-heuristic"))

	states := r.States()
	assert.Equal(t, StateOpen, states["on-device-model"])
}

func TestBreakerConfig_UnmarshalYAML(t *testing.T) {
	var cfg BreakerConfig
	err := yaml.Unmarshal([]byte("failure-threshold: 5\ncooldown: 45s\nprobe-interval: 5s\n"), &cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Cooldown)
	assert.Equal(t, 5*time.Second, cfg.ProbeInterval)
}
