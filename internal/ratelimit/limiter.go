// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ratelimit provides admission control for capability dispatches:
// sliding one-minute windows (global and per capability) plus a separate
// per-capability circuit breaker that opens after repeated admitted-but-failed
// requests with exponential backoff. This breaker answers "should we even try
// this capability"; the provider breakers in internal/reliability answer
// "should we trust this specific provider". The two are never merged.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/traylinx/assistGate/internal/capability"
)

const window = time.Minute

// Config tunes the limiter.
type Config struct {
	// GlobalPerMinute is the global request budget per sliding minute.
	GlobalPerMinute int `yaml:"global-per-minute" json:"global_per_minute"`
	// PerCapabilityPerMinute is each capability's budget per sliding minute.
	PerCapabilityPerMinute int `yaml:"per-capability-per-minute" json:"per_capability_per_minute"`
	// Burst is the allowance above the steady global rate.
	Burst int `yaml:"burst" json:"burst"`
	// MaxConsecutiveFailures opens the capability circuit.
	MaxConsecutiveFailures int `yaml:"max-consecutive-failures" json:"max_consecutive_failures"`
	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration `yaml:"max-backoff" json:"max_backoff"`
}

// DefaultConfig returns the production defaults: 30/min global with a
// 5-request burst, 10/min per capability, breaker after 3 failures capped at
// 5 minutes of backoff.
func DefaultConfig() Config {
	return Config{
		GlobalPerMinute:        30,
		PerCapabilityPerMinute: 10,
		Burst:                  5,
		MaxConsecutiveFailures: 3,
		MaxBackoff:             5 * time.Minute,
	}
}

// UnmarshalYAML accepts Go duration strings ("5m") for max-backoff.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		GlobalPerMinute        int    `yaml:"global-per-minute"`
		PerCapabilityPerMinute int    `yaml:"per-capability-per-minute"`
		Burst                  int    `yaml:"burst"`
		MaxConsecutiveFailures int    `yaml:"max-consecutive-failures"`
		MaxBackoff             string `yaml:"max-backoff"`
	}{
		GlobalPerMinute:        c.GlobalPerMinute,
		PerCapabilityPerMinute: c.PerCapabilityPerMinute,
		Burst:                  c.Burst,
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.GlobalPerMinute = raw.GlobalPerMinute
	c.PerCapabilityPerMinute = raw.PerCapabilityPerMinute
	c.Burst = raw.Burst
	c.MaxConsecutiveFailures = raw.MaxConsecutiveFailures
	if raw.MaxBackoff != "" {
		d, err := time.ParseDuration(raw.MaxBackoff)
		if err != nil {
			return fmt.Errorf("rate-limit max-backoff: %w", err)
		}
		c.MaxBackoff = d
	}
	return nil
}

func (c *Config) normalize() {
	if c.GlobalPerMinute <= 0 {
		c.GlobalPerMinute = 30
	}
	if c.PerCapabilityPerMinute <= 0 {
		c.PerCapabilityPerMinute = 10
	}
	if c.Burst < 0 {
		c.Burst = 5
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// Reason is set when the request is denied.
	Reason string
}

// Limiter is safe for concurrent use.
type Limiter struct {
	cfg Config

	mu                  sync.Mutex
	globalTimes         []time.Time
	capabilityTimes     map[capability.ID][]time.Time
	consecutiveFailures map[capability.ID]int
	circuitOpenUntil    map[capability.ID]time.Time

	now func() time.Time
}

// NewLimiter builds a limiter with cfg, filling zero values with defaults.
func NewLimiter(cfg Config) *Limiter {
	cfg.normalize()
	return &Limiter{
		cfg:                 cfg,
		capabilityTimes:     make(map[capability.ID][]time.Time),
		consecutiveFailures: make(map[capability.ID]int),
		circuitOpenUntil:    make(map[capability.ID]time.Time),
		now:                 time.Now,
	}
}

// Allow decides admission for one dispatch. Requests are recorded only on
// admission, not on attempt.
func (l *Limiter) Allow(id capability.ID) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if until, ok := l.circuitOpenUntil[id]; ok {
		if now.Before(until) {
			return Decision{Reason: "capability circuit open"}
		}
		delete(l.circuitOpenUntil, id)
	}

	l.pruneLocked(now)

	if len(l.globalTimes) >= l.cfg.GlobalPerMinute+l.cfg.Burst {
		log.WithFields(log.Fields{
			"capability": id,
			"global":     len(l.globalTimes),
			"limit":      l.cfg.GlobalPerMinute,
		}).Warn("global rate limit exceeded")
		return Decision{Reason: "global rate limit exceeded"}
	}

	if len(l.capabilityTimes[id]) >= l.cfg.PerCapabilityPerMinute {
		log.WithFields(log.Fields{
			"capability": id,
			"count":      len(l.capabilityTimes[id]),
			"limit":      l.cfg.PerCapabilityPerMinute,
		}).Warn("capability rate limit exceeded")
		return Decision{Reason: "capability rate limit exceeded"}
	}

	l.globalTimes = append(l.globalTimes, now)
	l.capabilityTimes[id] = append(l.capabilityTimes[id], now)
	return Decision{Allowed: true}
}

// RecordSuccess resets the capability's failure streak and closes its circuit.
func (l *Limiter) RecordSuccess(id capability.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveFailures[id] = 0
	delete(l.circuitOpenUntil, id)
}

// RecordFailure counts an admitted-but-failed request. At the threshold the
// capability circuit opens with exponential backoff, capped at MaxBackoff.
func (l *Limiter) RecordFailure(id capability.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	streak := l.consecutiveFailures[id] + 1
	l.consecutiveFailures[id] = streak

	if streak >= l.cfg.MaxConsecutiveFailures {
		backoff := time.Duration(math.Pow(2, float64(streak-l.cfg.MaxConsecutiveFailures))) * time.Second
		if backoff > l.cfg.MaxBackoff {
			backoff = l.cfg.MaxBackoff
		}
		until := l.now().Add(backoff)
		l.circuitOpenUntil[id] = until
		log.WithFields(log.Fields{
			"capability": id,
			"failures":   streak,
			"backoff":    backoff.String(),
		}).Error("capability circuit opened")
	}
}

// Stats reports the current window occupancy and open circuits.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	perCapability := make(map[capability.ID]int, len(l.capabilityTimes))
	for id, times := range l.capabilityTimes {
		perCapability[id] = len(times)
	}
	var open []capability.ID
	for id, until := range l.circuitOpenUntil {
		if now.Before(until) {
			open = append(open, id)
		}
	}
	return Stats{
		GlobalLastMinute: len(l.globalTimes),
		GlobalLimit:      l.cfg.GlobalPerMinute,
		PerCapability:    perCapability,
		OpenCircuits:     open,
		PerCapabilityCap: l.cfg.PerCapabilityPerMinute,
		BurstAllowance:   l.cfg.Burst,
	}
}

// Reset clears all windows and circuits. Tests only.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.globalTimes = nil
	l.capabilityTimes = make(map[capability.ID][]time.Time)
	l.consecutiveFailures = make(map[capability.ID]int)
	l.circuitOpenUntil = make(map[capability.ID]time.Time)
}

// SetNowFunc overrides the clock. Tests only.
func (l *Limiter) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-window)
	l.globalTimes = pruneTimes(l.globalTimes, cutoff)
	for id, times := range l.capabilityTimes {
		kept := pruneTimes(times, cutoff)
		if len(kept) == 0 {
			delete(l.capabilityTimes, id)
			continue
		}
		l.capabilityTimes[id] = kept
	}
}

func pruneTimes(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Stats is a point-in-time view of limiter state.
type Stats struct {
	GlobalLastMinute int                   `json:"global_last_minute"`
	GlobalLimit      int                   `json:"global_limit"`
	PerCapability    map[capability.ID]int `json:"per_capability"`
	PerCapabilityCap int                   `json:"per_capability_cap"`
	BurstAllowance   int                   `json:"burst_allowance"`
	OpenCircuits     []capability.ID       `json:"open_circuits"`
}
