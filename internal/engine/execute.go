// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/assistGate/internal/canonical"
	"github.com/traylinx/assistGate/internal/capability"
	"github.com/traylinx/assistGate/internal/fallback"
	"github.com/traylinx/assistGate/internal/redact"
	"github.com/traylinx/assistGate/internal/reliability"
	"github.com/traylinx/assistGate/internal/replay"
)

// executeProviderFirst runs the best viable provider under the capability's
// time budget. Viability is preference order filtered by availability,
// privacy policy and circuit state.
func (e *Engine) executeProviderFirst(ctx context.Context, contract *capability.Contract, input json.RawMessage, rc capability.RequestContext, inputHash string, override []capability.ProviderID) (*capability.Result, int, error) {
	id := contract.ID

	candidates := e.registry.RankedProviders(id)
	if len(override) != 0 {
		candidates = reorder(candidates, override)
	}

	var provider capability.Provider
	for _, p := range candidates {
		if !e.redaction.Allows(p.ID(), rc.Privacy) {
			continue
		}
		if !e.circuits.CanUse(string(p.ID())) {
			continue
		}
		provider = p
		break
	}
	if provider == nil {
		return nil, 0, &capability.CapabilityUnavailableError{Capability: id}
	}

	finalInput, delta := e.applyRedaction(input, contract, provider.ID(), rc.Privacy)

	e.monitor.RecordProviderAttempt(id, provider.ID())

	budget := reliability.TimeBudget{
		Capability: id,
		Budget:     reliability.BudgetForClass(contract.Class),
	}
	start := time.Now()
	output, diag, err := budget.Execute(ctx, func(ctx context.Context) (json.RawMessage, capability.Diagnostic, error) {
		return provider.Execute(ctx, id, finalInput, rc)
	})
	if err != nil {
		e.circuits.RecordFailure(string(provider.ID()))
		e.limiter.RecordFailure(id)
		return nil, delta, err
	}
	latency := time.Since(start).Milliseconds()

	if err := contract.ValidateOutput(output); err != nil {
		e.circuits.RecordFailure(string(provider.ID()))
		e.limiter.RecordFailure(id)
		return nil, delta, &capability.ValidationError{Capability: id, Reason: "output: " + err.Error()}
	}

	e.circuits.RecordSuccess(string(provider.ID()))
	e.limiter.RecordSuccess(id)

	diag.LatencyMs = latency
	return &capability.Result{
		Output:     output,
		Confidence: capability.NewConfidence(providerConfidence),
		Provenance: capability.ProviderProvenance(provider.ID()),
		Diagnostic: diag,
		Metadata:   e.resultMetadata(inputHash, rc),
	}, delta, nil
}

// executeFallback runs the deterministic fallback and stamps engine metadata
// plus any degradation reason codes onto the result.
func (e *Engine) executeFallback(ctx context.Context, contract *capability.Contract, input json.RawMessage, rc capability.RequestContext, inputHash string, codes []string) (*capability.Result, error) {
	return runFallback(ctx, e.fallback, contract, input, rc, codes, e.resultMetadata(inputHash, rc))
}

// runFallback executes the deterministic fallback on the canonical form of
// the input. Hash-equal requests feed byte-identical bytes to the heuristics,
// so reordering an unordered array or changing a volatile key cannot make
// same-hash requests diverge on output.
func runFallback(ctx context.Context, eng fallback.Engine, contract *capability.Contract, input json.RawMessage, rc capability.RequestContext, codes []string, meta capability.ResultMetadata) (*capability.Result, error) {
	canonicalInput, err := canonical.Canonicalize(input, canonical.MergeExcluded(contract.HashExcludedKeys), contract.UnorderedArrayKeys)
	if err != nil {
		return nil, &capability.ValidationError{Capability: contract.ID, Reason: "canonicalize input: " + err.Error()}
	}

	start := time.Now()
	res, err := eng.ExecuteFallback(ctx, contract.ID, json.RawMessage(canonicalInput), rc)
	if err != nil {
		return nil, err
	}
	if err := contract.ValidateOutput(res.Output); err != nil {
		return nil, &capability.ValidationError{Capability: contract.ID, Reason: "fallback output: " + err.Error()}
	}
	res.Diagnostic.LatencyMs = time.Since(start).Milliseconds()
	if len(codes) > 0 {
		res.Diagnostic = res.Diagnostic.AddReasonCodes(codes...)
	}
	res.Metadata = meta
	return res, nil
}

func (e *Engine) resultMetadata(inputHash string, rc capability.RequestContext) capability.ResultMetadata {
	return capability.ResultMetadata{
		InputHash:           inputHash,
		ComputedAt:          e.now(),
		ComputedAtUptimeNs:  time.Since(e.startedAt).Nanoseconds(),
		FeatureStateVersion: rc.FeatureStateVersion,
	}
}

// applyRedaction scrubs the input for a provider when the policy demands it.
// Returns the input to send and the number of bytes removed.
func (e *Engine) applyRedaction(input json.RawMessage, contract *capability.Contract, provider capability.ProviderID, privacy capability.PrivacyLevel) (json.RawMessage, int) {
	if !e.redaction.ShouldRedact(contract.Sensitivity, provider) {
		return input, 0
	}
	level := e.redaction.LevelFor(contract.Sensitivity, privacy)
	redacted, result, err := redact.NewRedactor(level).RedactJSON(input)
	if err != nil {
		// Redaction failure must not leak the unredacted input.
		log.WithFields(log.Fields{
			"capability": contract.ID,
			"provider":   provider,
			"error":      err,
		}).Error("Redaction failed, sending empty input")
		return json.RawMessage("{}"), len(input)
	}
	return redacted, result.BytesRemoved
}

// recordSuccess emits health, audit and replay telemetry for a validated
// result. Replay persistence is fire and forget.
func (e *Engine) recordSuccess(ctx context.Context, contract *capability.Contract, input json.RawMessage, rc capability.RequestContext, inputHash string, res *capability.Result, usedFallback bool, redactionDelta int, excludedKeys []string) {
	id := contract.ID
	e.monitor.RecordRequest(id, res.Provenance.PrimaryProvider(),
		float64(res.Diagnostic.LatencyMs), true, usedFallback, res.Diagnostic.ReasonCodes, "")
	auditResult(e.audit, e.now, id, rc, inputHash, res, usedFallback, redactionDelta)

	if e.replay == nil || !e.replay.IsEnabled() {
		return
	}
	canonicalInput, err := canonical.Canonicalize(input, excludedKeys, contract.UnorderedArrayKeys)
	if err != nil {
		return
	}
	outputHash, err := canonical.OutputHash(res.Output)
	if err != nil {
		return
	}
	rec := &replay.Record{
		Timestamp:      e.now(),
		Capability:     id,
		InputHash:      inputHash,
		CanonicalInput: canonicalInput,
		Output:         res.Output,
		OutputHash:     outputHash,
		Provenance:     string(res.Provenance.Kind),
		Confidence:     float64(res.Confidence),
		FallbackUsed:   usedFallback,
		LatencyMs:      res.Diagnostic.LatencyMs,
	}
	go func() {
		if err := e.replay.Record(context.WithoutCancel(ctx), rec); err != nil {
			log.WithError(err).Debug("Replay record failed")
		}
	}()
}

// reorder sorts providers so that ids named in the override come first, in
// override order. Unnamed providers keep their relative order after them.
func reorder(providers []capability.Provider, override []capability.ProviderID) []capability.Provider {
	rank := func(id capability.ProviderID) int {
		for i, o := range override {
			if o == id {
				return i
			}
		}
		return len(override)
	}
	out := make([]capability.Provider, len(providers))
	copy(out, providers)
	// Insertion sort keeps it stable for the unnamed tail.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j-1].ID()) > rank(out[j].ID()); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
