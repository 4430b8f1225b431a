// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package redact

import (
	"github.com/traylinx/assistGate/internal/capability"
)

// Policy chooses a redaction level from the request's privacy level and the
// capability's sensitivity class, and decides whether a specific provider
// needs redaction at all.
type Policy struct{}

// NewPolicy returns the default redaction policy.
func NewPolicy() *Policy {
	return &Policy{}
}

// LevelFor returns the redaction level for a capability/privacy pair.
// On-device-only privacy always forces aggressive.
func (p *Policy) LevelFor(sensitivity capability.Sensitivity, privacy capability.PrivacyLevel) Level {
	if privacy == capability.PrivacyOnDeviceOnly {
		return LevelAggressive
	}
	if privacy == capability.PrivacySensitive {
		return LevelModerate
	}
	if sensitivity == capability.SensitivityDocument {
		return LevelModerate
	}
	return LevelLight
}

// Allows reports whether a provider may see a request at the given privacy
// level. On-device-only requests never reach the user-supplied remote
// provider, regardless of redaction.
func (p *Policy) Allows(provider capability.ProviderID, privacy capability.PrivacyLevel) bool {
	if privacy == capability.PrivacyOnDeviceOnly {
		return provider != capability.ProviderUserRemote
	}
	return true
}

// ShouldRedact reports whether a provider requires redaction. The
// user-supplied remote provider is always redacted; local providers only see
// redaction for document-grade capabilities.
func (p *Policy) ShouldRedact(sensitivity capability.Sensitivity, provider capability.ProviderID) bool {
	if provider == capability.ProviderUserRemote {
		return true
	}
	return sensitivity == capability.SensitivityDocument
}
