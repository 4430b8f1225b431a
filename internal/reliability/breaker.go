// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reliability tracks per-provider health with circuit breakers and
// bounds provider execution with per-capability time budgets. It answers
// "should we trust this specific provider right now". The rate limiter's
// capability breaker answers the separate question of whether a capability
// should be tried at all.
package reliability

import (
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// CircuitState is the per-provider breaker state machine.
type CircuitState string

const (
	// StateClosed is normal operation.
	StateClosed CircuitState = "closed"
	// StateOpen means the provider is disabled after repeated failures.
	StateOpen CircuitState = "open"
	// StateHalfOpen allows limited probe attempts after cooldown.
	StateHalfOpen CircuitState = "half-open"
)

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int `yaml:"failure-threshold" json:"failure_threshold"`
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
	// ProbeInterval spaces half-open probe attempts.
	ProbeInterval time.Duration `yaml:"probe-interval" json:"probe_interval"`
}

// DefaultBreakerConfig mirrors the production defaults: 3 failures, 30s
// cooldown, one probe per 10s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		ProbeInterval:    10 * time.Second,
	}
}

// UnmarshalYAML accepts Go duration strings ("30s") for the durations.
func (c *BreakerConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		FailureThreshold int    `yaml:"failure-threshold"`
		Cooldown         string `yaml:"cooldown"`
		ProbeInterval    string `yaml:"probe-interval"`
	}{
		FailureThreshold: c.FailureThreshold,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.FailureThreshold = raw.FailureThreshold
	if raw.Cooldown != "" {
		d, err := time.ParseDuration(raw.Cooldown)
		if err != nil {
			return fmt.Errorf("breaker cooldown: %w", err)
		}
		c.Cooldown = d
	}
	if raw.ProbeInterval != "" {
		d, err := time.ParseDuration(raw.ProbeInterval)
		if err != nil {
			return fmt.Errorf("breaker probe-interval: %w", err)
		}
		c.ProbeInterval = d
	}
	return nil
}

func (c *BreakerConfig) normalize() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 10 * time.Second
	}
}

// CircuitBreaker prevents cascading failures by temporarily disabling a
// failing provider. One independent instance per provider, never shared.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	lastProbe           time.Time

	now func() time.Time
}

// NewCircuitBreaker builds a closed breaker with the given config.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	cfg.normalize()
	return &CircuitBreaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// CanAttempt reports whether a request may be sent to the provider. An open
// circuit transitions to half-open once the cooldown has elapsed; half-open
// allows one probe per probe interval.
func (b *CircuitBreaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.lastFailure.IsZero() {
			b.state = StateClosed
			return true
		}
		if b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
			b.state = StateHalfOpen
			b.lastProbe = b.now()
			return true
		}
		return false
	default: // StateHalfOpen
		if b.lastProbe.IsZero() || b.now().Sub(b.lastProbe) >= b.cfg.ProbeInterval {
			b.lastProbe = b.now()
			return true
		}
		return false
	}
}

// RecordSuccess resets the failure streak and closes a half-open circuit.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
	}
}

// RecordFailure counts a failure and opens the circuit at the threshold.
// A half-open probe failure reopens immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.state = StateOpen
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *CircuitBreaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset returns the breaker to its initial closed state.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.lastFailure = time.Time{}
	b.lastProbe = time.Time{}
}

// SetNowFunc overrides the clock. Tests only.
func (b *CircuitBreaker) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// ProviderReliability manages one circuit breaker per provider name.
type ProviderReliability struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewProviderReliability builds a tracker that lazily creates breakers.
func NewProviderReliability(cfg BreakerConfig) *ProviderReliability {
	cfg.normalize()
	return &ProviderReliability{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Breaker returns the breaker for a provider, creating it on first use.
func (r *ProviderReliability) Breaker(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b := NewCircuitBreaker(r.cfg)
	r.breakers[provider] = b
	return b
}

// CanUse reports whether the provider's circuit admits an attempt.
func (r *ProviderReliability) CanUse(provider string) bool {
	return r.Breaker(provider).CanAttempt()
}

// RecordSuccess forwards to the provider's breaker.
func (r *ProviderReliability) RecordSuccess(provider string) {
	r.Breaker(provider).RecordSuccess()
}

// RecordFailure forwards to the provider's breaker.
func (r *ProviderReliability) RecordFailure(provider string) {
	r.Breaker(provider).RecordFailure()
}

// States returns the breaker state for every known provider.
func (r *ProviderReliability) States() map[string]CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]CircuitState, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
