// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package steering loads operator-authored dispatch rules from YAML files and
// evaluates them per request. Rules can deny a capability outright, force the
// deterministic fallback, or reorder provider preference. They run before any
// provider is touched.
package steering

import (
	"time"

	"github.com/traylinx/assistGate/internal/capability"
)

// Effect is what a matched rule does to the dispatch.
type Effect string

const (
	// EffectDeny rejects the request with a policy error.
	EffectDeny Effect = "deny"
	// EffectPreferFallback skips providers and runs the deterministic fallback.
	EffectPreferFallback Effect = "prefer-fallback"
	// EffectPreferProviders reorders provider preference for this request.
	EffectPreferProviders Effect = "prefer-providers"
)

// Rule is a single steering rule as authored in YAML.
type Rule struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Activation  ActivationRule `yaml:"activation" json:"activation"`
	Effect      Effect         `yaml:"effect" json:"effect"`
	// Providers applies when Effect is prefer-providers.
	Providers []capability.ProviderID `yaml:"providers,omitempty" json:"providers,omitempty"`
	Reason    string                  `yaml:"reason,omitempty" json:"reason,omitempty"`

	// FilePath is the source file the rule was loaded from, not part of YAML.
	FilePath string `yaml:"-" json:"-"`
}

// ActivationRule decides when a rule fires.
type ActivationRule struct {
	// Condition is an expression over DispatchContext, e.g.
	// `Capability == "document-ingest" && Privacy == "on-device-only"`.
	// Empty or "true" always matches.
	Condition string `yaml:"condition" json:"condition"`
	// Priority orders matched rules; higher wins. Deny beats everything at
	// equal priority.
	Priority int `yaml:"priority" json:"priority"`
}

// DispatchContext is the expression environment for rule conditions.
type DispatchContext struct {
	Capability string    `json:"capability"`
	Class      string    `json:"class"`
	Privacy    string    `json:"privacy"`
	Realtime   bool      `json:"realtime"`
	Locale     string    `json:"locale"`
	Hour       int       `json:"hour"`
	DayOfWeek  string    `json:"day_of_week"`
	Timestamp  time.Time `json:"timestamp"`
}

// Decision is the combined outcome of all matched rules for one request.
type Decision struct {
	Deny           bool
	PreferFallback bool
	Providers      []capability.ProviderID
	// MatchedRules lists the names of rules that fired, highest priority first.
	MatchedRules []string
	// Reason is taken from the highest-priority matched rule that set one.
	Reason string
}
