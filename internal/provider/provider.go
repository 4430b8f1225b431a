// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package provider implements the execution backends the registry hands to
// the engine: the bundled deterministic heuristics, an on-device model
// server reached over localhost HTTP, and the optional user-configured
// remote provider.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/traylinx/assistGate/internal/capability"
)

// wireRequest is the JSON body sent to HTTP providers.
type wireRequest struct {
	Capability capability.ID   `json:"capability"`
	Input      json.RawMessage `json:"input"`
	RequestID  string          `json:"request_id"`
	Locale     string          `json:"locale"`
	TimeZone   string          `json:"time_zone"`
}

// wireResponse is the JSON body HTTP providers return.
type wireResponse struct {
	Output      json.RawMessage   `json:"output"`
	ReasonCodes []string          `json:"reason_codes,omitempty"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// httpProvider is the shared HTTP transport for model-server providers.
type httpProvider struct {
	id      capability.ProviderID
	baseURL string
	apiKey  string
	client  *http.Client

	// Availability probes are cached so the dispatch path doesn't pay a
	// round trip per request.
	probeMu      sync.Mutex
	probeAt      time.Time
	probeResult  bool
	probeTTL     time.Duration
	capabilities map[capability.ID]bool
}

func newHTTPProvider(id capability.ProviderID, baseURL, apiKey string, timeout time.Duration, supported []capability.ID) *httpProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	caps := make(map[capability.ID]bool, len(supported))
	for _, c := range supported {
		caps[c] = true
	}
	return &httpProvider{
		id:           id,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: timeout},
		probeTTL:     30 * time.Second,
		capabilities: caps,
	}
}

func (p *httpProvider) ID() capability.ProviderID { return p.id }

func (p *httpProvider) Supports(id capability.ID) bool {
	if len(p.capabilities) == 0 {
		return true
	}
	return p.capabilities[id]
}

// IsAvailable probes the provider's health endpoint, caching the result.
func (p *httpProvider) IsAvailable() bool {
	p.probeMu.Lock()
	defer p.probeMu.Unlock()
	if time.Since(p.probeAt) < p.probeTTL {
		return p.probeResult
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		p.probeResult = false
		p.probeAt = time.Now()
		return false
	}
	resp, err := p.client.Do(req)
	if err == nil {
		resp.Body.Close()
	}
	p.probeResult = err == nil && resp.StatusCode < 500
	p.probeAt = time.Now()
	return p.probeResult
}

// Execute posts the input to the provider and decodes the response envelope.
func (p *httpProvider) Execute(ctx context.Context, id capability.ID, input json.RawMessage, rc capability.RequestContext) (json.RawMessage, capability.Diagnostic, error) {
	body, err := json.Marshal(wireRequest{
		Capability: id,
		Input:      input,
		RequestID:  rc.RequestID.String(),
		Locale:     rc.Locale,
		TimeZone:   rc.TimeZone,
	})
	if err != nil {
		return nil, capability.Diagnostic{}, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/capabilities/%s", p.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, capability.Diagnostic{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, capability.Diagnostic{}, &capability.ExecutionError{Capability: id, Provider: p.id, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, capability.Diagnostic{}, &capability.ExecutionError{Capability: id, Provider: p.id, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, capability.Diagnostic{}, &capability.ExecutionError{
			Capability: id,
			Provider:   p.id,
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200)),
		}
	}

	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, capability.Diagnostic{}, &capability.ExecutionError{
			Capability: id,
			Provider:   p.id,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return wire.Output, capability.Diagnostic{ReasonCodes: wire.ReasonCodes, Notes: wire.Notes}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
