// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capability

import (
	"context"

	"github.com/goccy/go-json"
)

// Class groups capabilities by their time-budget profile.
type Class string

const (
	ClassEstimate  Class = "estimate"  // cheap estimates, ~200ms
	ClassSchedule  Class = "schedule"  // scheduling, ~300ms
	ClassForecast  Class = "forecast"  // workload forecasts, ~400ms
	ClassDecompose Class = "decompose" // task decomposition, ~500ms
	ClassParse     Class = "parse"     // document parsing, ~800ms
)

// Sensitivity classifies how much user content a capability's input carries.
// Document-grade capabilities get heavier redaction than metadata-grade ones.
type Sensitivity string

const (
	SensitivityMetadata Sensitivity = "metadata"
	SensitivityDocument Sensitivity = "document"
)

// MonotonicTriple names three output fields (gjson paths) that must satisfy
// min <= estimated <= max.
type MonotonicTriple struct {
	Min       string `json:"min" yaml:"min"`
	Estimated string `json:"estimated" yaml:"estimated"`
	Max       string `json:"max" yaml:"max"`
}

// OutputSchema declares which output fields carry durations, dates and
// confidences, plus any monotonic triples. The invariant validator checks
// these declarations instead of sniffing field names.
type OutputSchema struct {
	// DurationMinuteFields are gjson paths of integer minute counts,
	// bounded to [0, 10080] (one week).
	DurationMinuteFields []string `json:"duration_minute_fields,omitempty"`
	// DateFields are gjson paths of RFC 3339 timestamps, bounded to
	// [now-100y, now+10y].
	DateFields []string `json:"date_fields,omitempty"`
	// ConfidenceFields are gjson paths of scores bounded to [0, 1].
	ConfidenceFields []string `json:"confidence_fields,omitempty"`
	// MonotonicTriples are (min, estimated, max) relations.
	MonotonicTriples []MonotonicTriple `json:"monotonic_triples,omitempty"`
}

// ValidateFunc checks a JSON-shaped input or output against contract rules.
type ValidateFunc func(raw json.RawMessage) error

// Contract is the typed description of one capability.
type Contract struct {
	ID ID

	// Realtime capabilities default to fallback-first dispatch: a
	// latency-sensitive caller with an acceptable-quality heuristic should
	// never wait on a provider.
	Realtime bool

	// SupportsFallback reports whether a deterministic fallback exists.
	SupportsFallback bool

	// PreferredProviders ranks providers for this capability. Providers not
	// listed sort last in registration order.
	PreferredProviders []ProviderID

	Class       Class
	Sensitivity Sensitivity

	// HashExcludedKeys are input keys stripped before hashing, merged with
	// the canonicalizer's default volatile keys.
	HashExcludedKeys []string

	// UnorderedArrayKeys name input arrays whose element order never
	// affects the input hash.
	UnorderedArrayKeys []string

	ValidateInput  ValidateFunc
	ValidateOutput ValidateFunc

	Schema OutputSchema
}

// Provider is an execution backend. Implementations must honor context
// cancellation; the time-budget race relies on cooperative cancellation.
type Provider interface {
	ID() ProviderID
	IsAvailable() bool
	Supports(capability ID) bool
	Execute(ctx context.Context, capability ID, input json.RawMessage, rc RequestContext) (json.RawMessage, Diagnostic, error)
}
