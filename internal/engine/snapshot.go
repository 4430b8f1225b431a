// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"github.com/traylinx/assistGate/internal/capability"
	"github.com/traylinx/assistGate/internal/health"
	"github.com/traylinx/assistGate/internal/reliability"
)

// CapabilityAvailability describes what a dispatch for one capability could
// currently reach.
type CapabilityAvailability struct {
	Capability         capability.ID               `json:"capability"`
	Enabled            bool                        `json:"enabled"`
	Realtime           bool                        `json:"realtime"`
	SupportsFallback   bool                        `json:"supports_fallback"`
	AvailableProviders []capability.ProviderID     `json:"available_providers"`
	Suppression        *health.SuppressionDecision `json:"suppression,omitempty"`
}

// CapabilitySnapshot reports availability for every registered capability.
func (e *Engine) CapabilitySnapshot() []CapabilityAvailability {
	snap := e.settings.Current()
	contracts := e.registry.Contracts()
	out := make([]CapabilityAvailability, 0, len(contracts))
	for _, c := range contracts {
		var providers []capability.ProviderID
		for _, p := range e.registry.RankedProviders(c.ID) {
			if e.circuits.CanUse(string(p.ID())) {
				providers = append(providers, p.ID())
			}
		}
		out = append(out, CapabilityAvailability{
			Capability:         c.ID,
			Enabled:            snap.AssistEnabled && snap.CapabilityEnabled(c.ID),
			Realtime:           c.Realtime,
			SupportsFallback:   c.SupportsFallback && e.fallback.CanFallback(c.ID),
			AvailableProviders: providers,
			Suppression:        e.monitor.Suppression(c.ID),
		})
	}
	return out
}

// CircuitStates exposes the per-provider breaker states.
func (e *Engine) CircuitStates() map[string]reliability.CircuitState {
	return e.circuits.States()
}

// GetMetrics returns engine-level metrics for the diagnostics API.
func (e *Engine) GetMetrics() map[string]interface{} {
	limiterStats := e.limiter.Stats()
	return map[string]interface{}{
		"uptime_seconds":   int64(e.now().Sub(e.startedAt).Seconds()),
		"kill_switch":      e.monitor.Counters(),
		"rate_limiter":     limiterStats,
		"circuit_breakers": e.circuits.States(),
	}
}
