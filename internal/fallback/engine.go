// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fallback executes deterministic, provider-independent computations
// for capabilities when no provider is used. Every fallback must be a pure
// function of its input: the validator's determinism cache treats divergent
// outputs for the same input hash as a hard failure.
package fallback

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/traylinx/assistGate/internal/capability"
)

// Engine is the outbound fallback interface.
type Engine interface {
	CanFallback(id capability.ID) bool
	ExecuteFallback(ctx context.Context, id capability.ID, input json.RawMessage, rc capability.RequestContext) (*capability.Result, error)
}

// ReasonHeuristicFallback tags every result produced here.
const ReasonHeuristicFallback = "heuristic_fallback"

// heuristicFunc computes one capability's deterministic output.
type heuristicFunc func(input json.RawMessage) (interface{}, float64, error)

// HeuristicEngine implements Engine with bundled deterministic heuristics.
type HeuristicEngine struct {
	heuristics map[capability.ID]heuristicFunc
}

// NewHeuristicEngine registers the built-in heuristics.
func NewHeuristicEngine() *HeuristicEngine {
	return &HeuristicEngine{
		heuristics: map[capability.ID]heuristicFunc{
			capability.EstimateDuration:   estimateDuration,
			capability.TaskCreation:       decomposeTask,
			capability.WorkloadForecast:   forecastWorkload,
			capability.StudyPlan:          planStudy,
			capability.SchedulePlacement:  placeSchedule,
			capability.ConflictResolution: resolveConflicts,
		},
	}
}

// CanFallback reports whether a deterministic heuristic exists for id.
func (e *HeuristicEngine) CanFallback(id capability.ID) bool {
	_, ok := e.heuristics[id]
	return ok
}

// ExecuteFallback runs the heuristic and wraps it in a fallback-provenance
// result. The caller attaches metadata (input hash, timestamps).
func (e *HeuristicEngine) ExecuteFallback(ctx context.Context, id capability.ID, input json.RawMessage, rc capability.RequestContext) (*capability.Result, error) {
	fn, ok := e.heuristics[id]
	if !ok {
		return nil, &capability.CapabilityUnavailableError{Capability: id}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output, confidence, err := fn(input)
	if err != nil {
		return nil, &capability.ExecutionError{
			Capability: id,
			Provider:   capability.ProviderFallbackHeuristic,
			Err:        err,
		}
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return nil, &capability.ExecutionError{
			Capability: id,
			Provider:   capability.ProviderFallbackHeuristic,
			Err:        fmt.Errorf("encode output: %w", err),
		}
	}

	return &capability.Result{
		Output:     raw,
		Confidence: capability.NewConfidence(confidence),
		Provenance: capability.FallbackProvenance(),
		Diagnostic: capability.Diagnostic{
			ReasonCodes: []string{ReasonHeuristicFallback},
		},
	}, nil
}
