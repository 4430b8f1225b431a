// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package capability defines the typed contracts for machine-assistance
// requests: capability identifiers, request contexts, result envelopes and
// the registry binding contracts to providers. A capability ("port") is one
// kind of assistance request with a typed input/output contract; the engine
// never learns anything capability-specific beyond what the contract exposes.
package capability

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ID identifies one capability. IDs are stable and 1:1 with a Contract.
type ID string

const (
	DocumentIngest     ID = "document-ingest"
	EntityExtract      ID = "entity-extract"
	TaskCreation       ID = "task-creation"
	EstimateDuration   ID = "estimate-duration"
	WorkloadForecast   ID = "workload-forecast"
	StudyPlan          ID = "study-plan"
	SchedulePlacement  ID = "schedule-placement"
	ConflictResolution ID = "conflict-resolution"
)

// AllCapabilities lists every built-in capability in registration order.
func AllCapabilities() []ID {
	return []ID{
		DocumentIngest,
		EntityExtract,
		TaskCreation,
		EstimateDuration,
		WorkloadForecast,
		StudyPlan,
		SchedulePlacement,
		ConflictResolution,
	}
}

// ProviderID identifies an execution backend. Assigned by the registry at
// startup and immutable thereafter.
type ProviderID string

const (
	ProviderOnDeviceModel     ProviderID = "on-device-model"
	ProviderBundledHeuristic  ProviderID = "bundled-heuristic"
	ProviderUserRemote        ProviderID = "user-remote"
	ProviderFallbackHeuristic ProviderID = "fallback-heuristic"
)

// PrivacyLevel controls which providers may see a request and how hard the
// redaction pipeline scrubs it.
type PrivacyLevel string

const (
	PrivacyNormal       PrivacyLevel = "normal"
	PrivacySensitive    PrivacyLevel = "sensitive"
	PrivacyOnDeviceOnly PrivacyLevel = "on-device-only"
)

// RequestContext carries per-call metadata. Created per call, never persisted.
type RequestContext struct {
	RequestID           uuid.UUID    `json:"request_id"`
	Timestamp           time.Time    `json:"timestamp"`
	Privacy             PrivacyLevel `json:"privacy"`
	Locale              string       `json:"locale"`
	TimeZone            string       `json:"time_zone"`
	FeatureStateVersion int          `json:"feature_state_version"`
}

// NewRequestContext returns a context with a fresh request ID and the
// current wall clock. Callers override privacy and versions as needed.
func NewRequestContext() RequestContext {
	return RequestContext{
		RequestID: uuid.New(),
		Timestamp: time.Now(),
		Privacy:   PrivacyNormal,
		Locale:    "en_US",
		TimeZone:  "UTC",
	}
}

// Confidence is a score clamped to [0,1].
type Confidence float64

// NewConfidence clamps v into [0,1].
func NewConfidence(v float64) Confidence {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return Confidence(v)
}

// ProvenanceKind says where a result came from.
type ProvenanceKind string

const (
	ProvenanceProvider ProvenanceKind = "provider"
	ProvenanceFallback ProvenanceKind = "fallback"
	ProvenanceMixed    ProvenanceKind = "mixed"
)

// Provenance records which provider(s) or fallback produced a result.
type Provenance struct {
	Kind      ProvenanceKind `json:"kind"`
	Providers []ProviderID   `json:"providers"`
}

// ProviderProvenance tags a result as produced by a single provider.
func ProviderProvenance(id ProviderID) Provenance {
	return Provenance{Kind: ProvenanceProvider, Providers: []ProviderID{id}}
}

// FallbackProvenance tags a result as produced by the deterministic fallback.
func FallbackProvenance() Provenance {
	return Provenance{Kind: ProvenanceFallback, Providers: []ProviderID{ProviderFallbackHeuristic}}
}

// PrimaryProvider returns the first provider in the provenance set.
func (p Provenance) PrimaryProvider() ProviderID {
	if len(p.Providers) > 0 {
		return p.Providers[0]
	}
	return ProviderFallbackHeuristic
}

// Diagnostic carries reason codes, latency and free-form notes for a result.
type Diagnostic struct {
	ReasonCodes []string          `json:"reason_codes"`
	LatencyMs   int64             `json:"latency_ms"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// AddReasonCodes returns a copy of the diagnostic with codes appended.
func (d Diagnostic) AddReasonCodes(codes ...string) Diagnostic {
	merged := make([]string, 0, len(d.ReasonCodes)+len(codes))
	merged = append(merged, d.ReasonCodes...)
	merged = append(merged, codes...)
	d.ReasonCodes = merged
	return d
}

// ResultMetadata ties a result back to the request that produced it.
// InputHash must equal the canonical hash of the originating input.
type ResultMetadata struct {
	InputHash           string    `json:"input_hash"`
	ComputedAt          time.Time `json:"computed_at"`
	ComputedAtUptimeNs  int64     `json:"computed_at_uptime_ns"`
	FeatureStateVersion int       `json:"feature_state_version"`
}

// Result is the envelope every dispatch returns. Output is the capability's
// JSON-shaped output; use DecodeOutput to project it onto a concrete type.
type Result struct {
	Output     json.RawMessage `json:"output"`
	Confidence Confidence      `json:"confidence"`
	Provenance Provenance      `json:"provenance"`
	Diagnostic Diagnostic      `json:"diagnostic"`
	Metadata   ResultMetadata  `json:"metadata"`
}

// DecodeOutput unmarshals a result's output into a concrete output type.
func DecodeOutput[T any](res *Result) (T, error) {
	var out T
	err := json.Unmarshal(res.Output, &out)
	return out, err
}
