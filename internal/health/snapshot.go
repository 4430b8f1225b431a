// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package health

import (
	"time"

	"github.com/traylinx/assistGate/internal/capability"
)

// CapabilityMetrics is the externally visible view of one capability's
// rolling statistics.
type CapabilityMetrics struct {
	Capability         capability.ID         `json:"capability"`
	LastProvider       capability.ProviderID `json:"last_provider,omitempty"`
	TotalRequests      int                   `json:"total_requests"`
	SuccessfulRequests int                   `json:"successful_requests"`
	FailedRequests     int                   `json:"failed_requests"`
	FallbackRequests   int                   `json:"fallback_requests"`
	SuccessRate        float64               `json:"success_rate"`
	P95LatencyMs       float64               `json:"p95_latency_ms"`
	LastError          string                `json:"last_error,omitempty"`
	LastErrorAt        time.Time             `json:"last_error_at"`
	RecentReasonCodes  map[string]int        `json:"recent_reason_codes,omitempty"`
	Suppression        *SuppressionDecision  `json:"suppression,omitempty"`
}

// Snapshot is a point-in-time view of the whole monitor.
type Snapshot struct {
	Timestamp       time.Time                              `json:"timestamp"`
	Capabilities    map[capability.ID]CapabilityMetrics    `json:"capabilities"`
	Counters        KillSwitchCounters                     `json:"counters"`
	OverallSuccess  float64                                `json:"overall_success_rate"`
	FallbackUsage   float64                                `json:"fallback_usage_rate"`
	ActiveDecisions int                                    `json:"active_suppression_decisions"`
}

// CaptureSnapshot summarizes the monitor state for diagnostics.
func (m *Monitor) CaptureSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	snap := Snapshot{
		Timestamp:    now,
		Capabilities: make(map[capability.ID]CapabilityMetrics, len(m.stats)),
	}

	totalRequests, successful, fallbacks := 0, 0, 0
	for id, s := range m.stats {
		cm := CapabilityMetrics{
			Capability:         id,
			LastProvider:       s.lastProvider,
			TotalRequests:      s.totalRequests,
			SuccessfulRequests: s.successfulRequests,
			FailedRequests:     s.failedRequests,
			FallbackRequests:   s.fallbackRequests,
			LastError:          s.lastError,
			LastErrorAt:        s.lastErrorAt,
		}
		if s.totalRequests > 0 {
			cm.SuccessRate = float64(s.successfulRequests) / float64(s.totalRequests)
		}
		if p95, ok := s.p95LatencyMs(); ok {
			cm.P95LatencyMs = p95
		}
		if len(s.recentReasonCodes) > 0 {
			cm.RecentReasonCodes = make(map[string]int, len(s.recentReasonCodes))
			for code, n := range s.recentReasonCodes {
				cm.RecentReasonCodes[code] = n
			}
		}
		if d := m.suppressions[id]; d != nil && !d.Expired(now) {
			decision := *d
			cm.Suppression = &decision
			snap.ActiveDecisions++
		}
		snap.Capabilities[id] = cm

		totalRequests += s.totalRequests
		successful += s.successfulRequests
		fallbacks += s.fallbackRequests
	}

	if totalRequests > 0 {
		snap.OverallSuccess = float64(successful) / float64(totalRequests)
		snap.FallbackUsage = float64(fallbacks) / float64(totalRequests)
	} else {
		snap.OverallSuccess = 1.0
	}

	snap.Counters = m.counters
	snap.Counters.ProviderAttemptsByProvider = copyProviderCounts(m.counters.ProviderAttemptsByProvider)
	snap.Counters.ProviderAttemptsByCapability = copyCapabilityCounts(m.counters.ProviderAttemptsByCapability)
	return snap
}

func copyProviderCounts(in map[capability.ProviderID]int) map[capability.ProviderID]int {
	out := make(map[capability.ProviderID]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyCapabilityCounts(in map[capability.ID]int) map[capability.ID]int {
	out := make(map[capability.ID]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
