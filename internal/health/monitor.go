// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package health keeps rolling per-capability success and latency statistics
// that adapt dispatch strategy, plus the kill-switch proof counters. The
// counters are incremented only from the dispatch pipeline's own gate
// decisions, never speculatively, so "provider attempts == 0 while disabled"
// is checkable as a literal equality.
package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/traylinx/assistGate/internal/capability"
)

// Defaults for the suppression policy.
const (
	DefaultWindowSize           = 50
	DefaultMinSamples           = 20
	DefaultSuccessRateThreshold = 0.8
	DefaultUnsuppressStreak     = 5
	DefaultSuppressionTTL       = 60 * time.Minute
)

// SuppressionMode is the strategy override a decision imposes.
type SuppressionMode string

const (
	// PreferFallback forces fallback-first dispatch.
	PreferFallback SuppressionMode = "prefer-fallback"
	// SkipProvider forbids provider attempts entirely.
	SkipProvider SuppressionMode = "skip-provider"
)

// SuppressionDecision is a time-boxed, per-capability strategy override.
type SuppressionDecision struct {
	Mode        SuppressionMode `json:"mode"`
	ReasonCodes []string        `json:"reason_codes"`
	DecidedAt   time.Time       `json:"decided_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// Expired reports whether the decision has lapsed at t.
func (d *SuppressionDecision) Expired(t time.Time) bool {
	return !d.ExpiresAt.IsZero() && !t.Before(d.ExpiresAt)
}

// KillSwitchCounters exist solely to prove the kill-switch invariant.
type KillSwitchCounters struct {
	ProviderAttemptsTotal        int                       `json:"provider_attempts_total"`
	ProviderAttemptsByProvider   map[capability.ProviderID]int `json:"provider_attempts_by_provider"`
	ProviderAttemptsByCapability map[capability.ID]int     `json:"provider_attempts_by_capability"`
	KillSwitchSuppressions       int                       `json:"kill_switch_suppressions"`
	FallbackOnlyExecutions       int                       `json:"fallback_only_executions"`
	LastAttemptAt                time.Time                 `json:"last_attempt_at"`
	LastSuppressionReason        string                    `json:"last_suppression_reason,omitempty"`
	LastSuppressionAt            time.Time                 `json:"last_suppression_at"`
}

// capabilityStats is the rolling window for one capability.
type capabilityStats struct {
	lastProvider       capability.ProviderID
	totalRequests      int
	successfulRequests int
	failedRequests     int
	fallbackRequests   int
	lastError          string
	lastErrorAt        time.Time

	recentOutcomes []bool
	latencySamples []float64

	consecutiveUnderBudget int
	stickyReasonCodes      map[string]int
	recentReasonCodes      map[string]int
}

// Config tunes the monitor.
type Config struct {
	WindowSize           int           `yaml:"window-size" json:"window_size"`
	MinSamples           int           `yaml:"min-samples" json:"min_samples"`
	SuccessRateThreshold float64       `yaml:"success-rate-threshold" json:"success_rate_threshold"`
	UnsuppressStreak     int           `yaml:"unsuppress-streak" json:"unsuppress_streak"`
	SuppressionTTL       time.Duration `yaml:"suppression-ttl" json:"suppression_ttl"`
}

// DefaultConfig returns the production suppression policy.
func DefaultConfig() Config {
	return Config{
		WindowSize:           DefaultWindowSize,
		MinSamples:           DefaultMinSamples,
		SuccessRateThreshold: DefaultSuccessRateThreshold,
		UnsuppressStreak:     DefaultUnsuppressStreak,
		SuppressionTTL:       DefaultSuppressionTTL,
	}
}

// UnmarshalYAML accepts Go duration strings ("60m") for suppression-ttl.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		WindowSize           int     `yaml:"window-size"`
		MinSamples           int     `yaml:"min-samples"`
		SuccessRateThreshold float64 `yaml:"success-rate-threshold"`
		UnsuppressStreak     int     `yaml:"unsuppress-streak"`
		SuppressionTTL       string  `yaml:"suppression-ttl"`
	}{
		WindowSize:           c.WindowSize,
		MinSamples:           c.MinSamples,
		SuccessRateThreshold: c.SuccessRateThreshold,
		UnsuppressStreak:     c.UnsuppressStreak,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.WindowSize = raw.WindowSize
	c.MinSamples = raw.MinSamples
	c.SuccessRateThreshold = raw.SuccessRateThreshold
	c.UnsuppressStreak = raw.UnsuppressStreak
	if raw.SuppressionTTL != "" {
		d, err := time.ParseDuration(raw.SuppressionTTL)
		if err != nil {
			return fmt.Errorf("health suppression-ttl: %w", err)
		}
		c.SuppressionTTL = d
	}
	return nil
}

func (c *Config) normalize() {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultMinSamples
	}
	if c.SuccessRateThreshold <= 0 || c.SuccessRateThreshold > 1 {
		c.SuccessRateThreshold = DefaultSuccessRateThreshold
	}
	if c.UnsuppressStreak <= 0 {
		c.UnsuppressStreak = DefaultUnsuppressStreak
	}
	if c.SuppressionTTL <= 0 {
		c.SuppressionTTL = DefaultSuppressionTTL
	}
}

// Monitor is safe for concurrent use. Each capability's statistics live
// behind the same lock but never leave it; unrelated capabilities contend
// only on map access, which is cheap.
type Monitor struct {
	cfg Config

	mu           sync.Mutex
	stats        map[capability.ID]*capabilityStats
	suppressions map[capability.ID]*SuppressionDecision
	counters     KillSwitchCounters
	budgetMs     func(capability.ID) float64

	now func() time.Time
}

// NewMonitor builds a monitor. budgetMs maps a capability to its latency
// budget in milliseconds, used for the p95 suppression rule.
func NewMonitor(cfg Config, budgetMs func(capability.ID) float64) *Monitor {
	cfg.normalize()
	if budgetMs == nil {
		budgetMs = func(capability.ID) float64 { return 800 }
	}
	return &Monitor{
		cfg:          cfg,
		stats:        make(map[capability.ID]*capabilityStats),
		suppressions: make(map[capability.ID]*SuppressionDecision),
		counters: KillSwitchCounters{
			ProviderAttemptsByProvider:   make(map[capability.ProviderID]int),
			ProviderAttemptsByCapability: make(map[capability.ID]int),
		},
		budgetMs: budgetMs,
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (m *Monitor) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// RecordRequest feeds one dispatch outcome into the rolling statistics and
// re-evaluates the capability's suppression decision.
func (m *Monitor) RecordRequest(id capability.ID, provider capability.ProviderID, latencyMs float64, success, usedFallback bool, reasonCodes []string, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.statsLocked(id)
	s.totalRequests++
	if provider != "" {
		s.lastProvider = provider
	}
	if success {
		s.successfulRequests++
		if usedFallback {
			s.fallbackRequests++
		}
		if latencyMs <= m.budgetMs(id) {
			s.consecutiveUnderBudget++
		} else {
			s.consecutiveUnderBudget = 0
		}
		s.pushOutcome(true, latencyMs, m.cfg.WindowSize)
		for _, code := range reasonCodes {
			s.recentReasonCodes[code]++
		}
	} else {
		s.failedRequests++
		s.lastError = errMsg
		s.lastErrorAt = m.now()
		s.consecutiveUnderBudget = 0
		s.pushOutcome(false, -1, m.cfg.WindowSize)
	}

	m.updateSuppressionLocked(id, s)
}

// Suppression returns the active decision for a capability, clearing it if
// expired.
func (m *Monitor) Suppression(id capability.ID) *SuppressionDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.suppressions[id]
	if d == nil {
		return nil
	}
	if d.Expired(m.now()) {
		delete(m.suppressions, id)
		return nil
	}
	return d
}

// RecordProviderAttempt counts one real provider attempt. Called at the
// single point in the pipeline where a provider is about to execute.
func (m *Monitor) RecordProviderAttempt(id capability.ID, provider capability.ProviderID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.ProviderAttemptsTotal++
	m.counters.ProviderAttemptsByProvider[provider]++
	m.counters.ProviderAttemptsByCapability[id]++
	m.counters.LastAttemptAt = m.now()
}

// RecordKillSwitchSuppression counts a dispatch suppressed by the kill switch.
func (m *Monitor) RecordKillSwitchSuppression(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.KillSwitchSuppressions++
	m.counters.LastSuppressionReason = reason
	m.counters.LastSuppressionAt = m.now()
}

// RecordFallbackOnly counts an execution that never touched a provider.
func (m *Monitor) RecordFallbackOnly() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.FallbackOnlyExecutions++
}

// Counters returns a copy of the kill-switch proof counters.
func (m *Monitor) Counters() KillSwitchCounters {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.counters
	out.ProviderAttemptsByProvider = make(map[capability.ProviderID]int, len(m.counters.ProviderAttemptsByProvider))
	for k, v := range m.counters.ProviderAttemptsByProvider {
		out.ProviderAttemptsByProvider[k] = v
	}
	out.ProviderAttemptsByCapability = make(map[capability.ID]int, len(m.counters.ProviderAttemptsByCapability))
	for k, v := range m.counters.ProviderAttemptsByCapability {
		out.ProviderAttemptsByCapability[k] = v
	}
	return out
}

// ResetCounters zeroes the proof counters. Tests and diagnostics only.
func (m *Monitor) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = KillSwitchCounters{
		ProviderAttemptsByProvider:   make(map[capability.ProviderID]int),
		ProviderAttemptsByCapability: make(map[capability.ID]int),
	}
}

func (m *Monitor) statsLocked(id capability.ID) *capabilityStats {
	s := m.stats[id]
	if s == nil {
		s = &capabilityStats{
			stickyReasonCodes: make(map[string]int),
			recentReasonCodes: make(map[string]int),
		}
		m.stats[id] = s
	}
	return s
}

func (s *capabilityStats) pushOutcome(success bool, latencyMs float64, window int) {
	s.recentOutcomes = append(s.recentOutcomes, success)
	if len(s.recentOutcomes) > window {
		s.recentOutcomes = s.recentOutcomes[len(s.recentOutcomes)-window:]
	}
	if latencyMs >= 0 {
		s.latencySamples = append(s.latencySamples, latencyMs)
		if len(s.latencySamples) > window {
			s.latencySamples = s.latencySamples[len(s.latencySamples)-window:]
		}
	}
}

func (s *capabilityStats) recentSuccessRate(minSamples int) (float64, bool) {
	if len(s.recentOutcomes) < minSamples {
		return 0, false
	}
	successes := 0
	for _, ok := range s.recentOutcomes {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(s.recentOutcomes)), true
}

func (s *capabilityStats) p95LatencyMs() (float64, bool) {
	if len(s.latencySamples) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(s.latencySamples))
	copy(sorted, s.latencySamples)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)-1) * 0.95)
	return sorted[idx], true
}

// updateSuppressionLocked applies the suppression policy after every
// recorded request: clear on a success streak under budget, raise
// prefer-fallback on low success rate, raise skip-provider on p95 over
// budget. Expiry is handled on read.
func (m *Monitor) updateSuppressionLocked(id capability.ID, s *capabilityStats) {
	if s.consecutiveUnderBudget >= m.cfg.UnsuppressStreak {
		delete(m.suppressions, id)
	}

	now := m.now()
	if rate, ok := s.recentSuccessRate(m.cfg.MinSamples); ok && rate < m.cfg.SuccessRateThreshold {
		m.suppressions[id] = &SuppressionDecision{
			Mode:        PreferFallback,
			ReasonCodes: []string{"success_rate_below_threshold"},
			DecidedAt:   now,
			ExpiresAt:   now.Add(m.cfg.SuppressionTTL),
		}
		s.stickyReasonCodes["success_rate_below_threshold"]++
	}

	if p95, ok := s.p95LatencyMs(); ok && p95 > m.budgetMs(id) {
		m.suppressions[id] = &SuppressionDecision{
			Mode:        SkipProvider,
			ReasonCodes: []string{"latency_p95_exceeded"},
			DecidedAt:   now,
			ExpiresAt:   now.Add(m.cfg.SuppressionTTL),
		}
		s.stickyReasonCodes["latency_p95_exceeded"]++
	}
}
