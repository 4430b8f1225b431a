// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"time"

	"github.com/traylinx/assistGate/internal/capability"
)

// DefaultLocalModelURL is where the on-device model server listens.
const DefaultLocalModelURL = "http://localhost:11434"

// NewLocalModel returns the on-device model provider. It talks to a model
// server on localhost; no request data leaves the machine. An empty baseURL
// uses the default port.
func NewLocalModel(baseURL string, timeout time.Duration) capability.Provider {
	if baseURL == "" {
		baseURL = DefaultLocalModelURL
	}
	return newHTTPProvider(capability.ProviderOnDeviceModel, baseURL, "", timeout, nil)
}
