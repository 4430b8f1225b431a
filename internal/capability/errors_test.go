// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capability

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	policy := PolicyDenied("kill switch: %s", EstimateDuration)
	assert.True(t, IsPolicyDenied(policy))
	assert.False(t, IsRateLimited(policy))
	assert.False(t, IsValidationFailed(policy))

	validation := &ValidationError{Capability: EstimateDuration, Reason: "bad input"}
	assert.True(t, IsValidationFailed(validation))
	assert.False(t, IsPolicyDenied(validation))

	unavailable := &CapabilityUnavailableError{Capability: DocumentIngest}
	assert.True(t, IsCapabilityUnavailable(unavailable))

	wrapped := fmt.Errorf("dispatch: %w", validation)
	assert.True(t, IsValidationFailed(wrapped))
}

func TestRateLimitedError_IsAlsoPolicyDenied(t *testing.T) {
	err := &RateLimitedError{Capability: TaskCreation, Reason: "capability window exhausted"}

	assert.True(t, IsRateLimited(err))
	assert.True(t, IsPolicyDenied(err))
	assert.False(t, IsValidationFailed(err))
	assert.Contains(t, err.Error(), "rate limited")
	assert.Contains(t, err.Error(), string(TaskCreation))
}
