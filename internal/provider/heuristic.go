// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/traylinx/assistGate/internal/capability"
	"github.com/traylinx/assistGate/internal/fallback"
)

// BundledHeuristic exposes the deterministic heuristics as a regular
// provider so they participate in ranking, breakers and health accounting
// like any other backend. The engine's fallback path uses the same
// heuristics directly; this provider exists for dispatches where the local
// model is down but assistance is still on.
type BundledHeuristic struct {
	engine *fallback.HeuristicEngine
}

// NewBundledHeuristic wraps a heuristic engine as a provider.
func NewBundledHeuristic(engine *fallback.HeuristicEngine) *BundledHeuristic {
	return &BundledHeuristic{engine: engine}
}

func (p *BundledHeuristic) ID() capability.ProviderID { return capability.ProviderBundledHeuristic }

func (p *BundledHeuristic) IsAvailable() bool { return true }

func (p *BundledHeuristic) Supports(id capability.ID) bool {
	return p.engine.CanFallback(id)
}

// Execute runs the heuristic and returns its raw output.
func (p *BundledHeuristic) Execute(ctx context.Context, id capability.ID, input json.RawMessage, rc capability.RequestContext) (json.RawMessage, capability.Diagnostic, error) {
	res, err := p.engine.ExecuteFallback(ctx, id, input, rc)
	if err != nil {
		return nil, capability.Diagnostic{}, err
	}
	return res.Output, res.Diagnostic, nil
}
