// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"time"

	"github.com/traylinx/assistGate/internal/capability"
)

// NewUserRemote returns the user-configured remote provider. It is last in
// every preference order, excluded for on-device-only requests, and its
// inputs are always redacted before leaving the process.
func NewUserRemote(baseURL, apiKey string, timeout time.Duration) capability.Provider {
	return newHTTPProvider(capability.ProviderUserRemote, baseURL, apiKey, timeout, nil)
}
