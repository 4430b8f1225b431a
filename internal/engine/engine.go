// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine is the single dispatch path for capability requests. Every
// request passes the same guard sequence: kill switch, steering, input
// validation, rate limiting, health suppression, and only then provider
// execution under a time budget with deterministic fallback behind it.
//
// The kill switch is structural, not advisory: a suppressed dispatch is
// routed to a code path that holds no provider registry reference, so a
// regression cannot quietly call a provider while assistance is off.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/assistGate/internal/audit"
	"github.com/traylinx/assistGate/internal/canonical"
	"github.com/traylinx/assistGate/internal/capability"
	"github.com/traylinx/assistGate/internal/fallback"
	"github.com/traylinx/assistGate/internal/health"
	"github.com/traylinx/assistGate/internal/invariant"
	"github.com/traylinx/assistGate/internal/ratelimit"
	"github.com/traylinx/assistGate/internal/redact"
	"github.com/traylinx/assistGate/internal/reliability"
	"github.com/traylinx/assistGate/internal/replay"
	"github.com/traylinx/assistGate/internal/settings"
	"github.com/traylinx/assistGate/internal/steering"
)

// Reason codes attached when the engine degrades a dispatch.
const (
	ReasonTimeoutFallback        = "timeout_fallback"
	ReasonProviderFailedFallback = "provider_failed_fallback"
	ReasonAssistDisabled         = "assist_disabled"
	ReasonCapabilityDisabled     = "capability_disabled"
	ReasonSteeringFallback       = "steering_prefer_fallback"
)

// Provider results carry a fixed confidence; providers report quality through
// reason codes, not self-graded scores.
const providerConfidence = 0.75

// Options are the engine's dependencies. Registry, Settings, Limiter,
// Circuits, Validator, Monitor, Audit and Fallback are required; Steering and
// Replay are optional.
type Options struct {
	Registry  *capability.Registry
	Settings  *settings.Store
	Steering  *steering.Engine
	Redaction *redact.Policy
	Limiter   *ratelimit.Limiter
	Circuits  *reliability.ProviderReliability
	Validator *invariant.Validator
	Monitor   *health.Monitor
	Audit     *audit.Log
	Fallback  fallback.Engine
	Replay    *replay.Store
}

// Engine dispatches capability requests.
type Engine struct {
	registry  *capability.Registry
	settings  *settings.Store
	steering  *steering.Engine
	redaction *redact.Policy
	limiter   *ratelimit.Limiter
	circuits  *reliability.ProviderReliability
	validator *invariant.Validator
	monitor   *health.Monitor
	audit     *audit.Log
	fallback  fallback.Engine
	replay    *replay.Store

	startedAt time.Time
	now       func() time.Time
}

// New wires an engine from its dependencies.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Registry == nil:
		return nil, fmt.Errorf("engine: registry is required")
	case opts.Settings == nil:
		return nil, fmt.Errorf("engine: settings store is required")
	case opts.Limiter == nil:
		return nil, fmt.Errorf("engine: rate limiter is required")
	case opts.Circuits == nil:
		return nil, fmt.Errorf("engine: provider reliability is required")
	case opts.Validator == nil:
		return nil, fmt.Errorf("engine: invariant validator is required")
	case opts.Monitor == nil:
		return nil, fmt.Errorf("engine: health monitor is required")
	case opts.Audit == nil:
		return nil, fmt.Errorf("engine: audit log is required")
	case opts.Fallback == nil:
		return nil, fmt.Errorf("engine: fallback engine is required")
	}
	if opts.Redaction == nil {
		opts.Redaction = redact.NewPolicy()
	}
	return &Engine{
		registry:  opts.Registry,
		settings:  opts.Settings,
		steering:  opts.Steering,
		redaction: opts.Redaction,
		limiter:   opts.Limiter,
		circuits:  opts.Circuits,
		validator: opts.Validator,
		monitor:   opts.Monitor,
		audit:     opts.Audit,
		fallback:  opts.Fallback,
		replay:    opts.Replay,
		startedAt: time.Now(),
		now:       time.Now,
	}, nil
}

// SetNowFunc overrides the clock for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.now = now
}

type strategy int

const (
	providerFirst strategy = iota
	fallbackFirst
)

// Dispatch runs one capability request through the full guard sequence and
// returns a validated result.
func (e *Engine) Dispatch(ctx context.Context, id capability.ID, input json.RawMessage, rc capability.RequestContext) (*capability.Result, error) {
	contract := e.registry.Contract(id)
	if contract == nil {
		return nil, &capability.CapabilityUnavailableError{Capability: id}
	}

	// Kill switch. The suppressed path below never sees the registry.
	snap := e.settings.Current()
	if !snap.AssistEnabled {
		return dispatchSuppressed(ctx, e.suppressedDeps(), contract, input, rc, ReasonAssistDisabled)
	}
	if !snap.CapabilityEnabled(id) {
		return dispatchSuppressed(ctx, e.suppressedDeps(), contract, input, rc, ReasonCapabilityDisabled)
	}

	var steer steering.Decision
	if e.steering != nil {
		steer = e.steering.Decide(id, contract.Class, rc, contract.Realtime)
		if steer.Deny {
			err := capability.PolicyDenied("steering denied %s: %s", id, steer.Reason)
			auditDenied(e.audit, e.now, id, rc, "", err)
			return nil, err
		}
	}

	// Rate policy gates before the input is even inspected; a request that is
	// both over quota and malformed reads as a policy denial.
	if d := e.limiter.Allow(id); !d.Allowed {
		err := &capability.RateLimitedError{Capability: id, Reason: d.Reason}
		auditDenied(e.audit, e.now, id, rc, "", err)
		return nil, err
	}

	if err := contract.ValidateInput(input); err != nil {
		return nil, &capability.ValidationError{Capability: id, Reason: fmt.Sprintf("input: %v", err)}
	}

	excluded := canonical.MergeExcluded(contract.HashExcludedKeys)
	inputHash, err := canonical.Hash(input, excluded, contract.UnorderedArrayKeys)
	if err != nil {
		return nil, &capability.ValidationError{Capability: id, Reason: fmt.Sprintf("canonicalize input: %v", err)}
	}

	strat, strategyCodes, err := e.determineStrategy(contract, steer)
	if err != nil {
		e.audit.Append(audit.Entry{
			Timestamp:  e.now(),
			RequestID:  rc.RequestID,
			Capability: id,
			Event:      audit.EventSuppressed,
			ErrorCode:  err.Error(),
			InputHash:  inputHash,
		})
		return nil, err
	}

	var res *capability.Result
	usedFallback := false
	redactionDelta := 0

	switch strat {
	case fallbackFirst:
		usedFallback = true
		res, err = e.executeFallback(ctx, contract, input, rc, inputHash, strategyCodes)
		if err != nil {
			e.auditExecutionFailed(id, rc, inputHash, usedFallback, err)
			e.recordFailure(id, rc, usedFallback, err)
			return nil, err
		}

	case providerFirst:
		res, redactionDelta, err = e.executeProviderFirst(ctx, contract, input, rc, inputHash, steer.Providers)
		if err != nil {
			if isTransient(err) && contract.SupportsFallback && e.fallback.CanFallback(id) {
				code := ReasonProviderFailedFallback
				if reliability.IsTimeout(err) {
					code = ReasonTimeoutFallback
				}
				usedFallback = true
				res, err = e.executeFallback(ctx, contract, input, rc, inputHash, []string{code})
			}
			if err != nil {
				e.auditExecutionFailed(id, rc, inputHash, usedFallback, err)
				e.recordFailure(id, rc, usedFallback, err)
				return nil, err
			}
		}
	}

	if err := e.validator.Validate(contract, inputHash, res); err != nil {
		auditValidationFailed(e.audit, e.now, id, rc, inputHash, res, err)
		e.recordFailure(id, rc, usedFallback, err)
		return nil, err
	}

	e.recordSuccess(ctx, contract, input, rc, inputHash, res, usedFallback, redactionDelta, excluded)
	return res, nil
}

// suppressedDeps are the only collaborators reachable while assistance is
// off. The struct has no provider registry or circuit field, so the
// suppressed branch cannot reach provider selection even by regression.
type suppressedDeps struct {
	fallback  fallback.Engine
	validator *invariant.Validator
	monitor   *health.Monitor
	audit     *audit.Log
	now       func() time.Time
	startedAt time.Time
}

func (e *Engine) suppressedDeps() suppressedDeps {
	return suppressedDeps{
		fallback:  e.fallback,
		validator: e.validator,
		monitor:   e.monitor,
		audit:     e.audit,
		now:       e.now,
		startedAt: e.startedAt,
	}
}

// dispatchSuppressed handles kill-switch-off dispatches. It is a free
// function over suppressedDeps rather than an Engine method so the provider
// registry is out of scope, not merely unused.
func dispatchSuppressed(ctx context.Context, deps suppressedDeps, contract *capability.Contract, input json.RawMessage, rc capability.RequestContext, reason string) (*capability.Result, error) {
	id := contract.ID
	deps.monitor.RecordKillSwitchSuppression(reason)
	deps.audit.Append(audit.Entry{
		Timestamp:  deps.now(),
		RequestID:  rc.RequestID,
		Capability: id,
		Event:      audit.EventSuppressed,
		ErrorCode:  reason,
	})

	if !contract.SupportsFallback || !deps.fallback.CanFallback(id) {
		return nil, capability.PolicyDenied("%s: %s", reason, id)
	}

	if err := contract.ValidateInput(input); err != nil {
		return nil, &capability.ValidationError{Capability: id, Reason: fmt.Sprintf("input: %v", err)}
	}
	inputHash, err := canonical.Hash(input, canonical.MergeExcluded(contract.HashExcludedKeys), contract.UnorderedArrayKeys)
	if err != nil {
		return nil, &capability.ValidationError{Capability: id, Reason: fmt.Sprintf("canonicalize input: %v", err)}
	}

	meta := capability.ResultMetadata{
		InputHash:           inputHash,
		ComputedAt:          deps.now(),
		ComputedAtUptimeNs:  time.Since(deps.startedAt).Nanoseconds(),
		FeatureStateVersion: rc.FeatureStateVersion,
	}
	res, err := runFallback(ctx, deps.fallback, contract, input, rc, []string{reason}, meta)
	if err != nil {
		deps.audit.Append(audit.Entry{
			Timestamp:    deps.now(),
			RequestID:    rc.RequestID,
			Capability:   id,
			Event:        audit.EventExecutionFailed,
			ErrorCode:    err.Error(),
			InputHash:    inputHash,
			FallbackUsed: true,
		})
		return nil, err
	}
	if err := deps.validator.Validate(contract, inputHash, res); err != nil {
		auditValidationFailed(deps.audit, deps.now, id, rc, inputHash, res, err)
		return nil, err
	}

	deps.monitor.RecordFallbackOnly()
	deps.monitor.RecordRequest(id, capability.ProviderFallbackHeuristic,
		float64(res.Diagnostic.LatencyMs), true, true, res.Diagnostic.ReasonCodes, "")
	auditResult(deps.audit, deps.now, id, rc, inputHash, res, true, 0)
	return res, nil
}

// determineStrategy picks the execution order. Health suppression and
// steering override the contract default; realtime capabilities answer from
// the deterministic fallback for instant response. A suppressed capability
// with no fallback is unavailable rather than provider-attempted.
func (e *Engine) determineStrategy(contract *capability.Contract, steer steering.Decision) (strategy, []string, error) {
	canFall := contract.SupportsFallback && e.fallback.CanFallback(contract.ID)
	if s := e.monitor.Suppression(contract.ID); s != nil {
		if !canFall {
			return providerFirst, nil, &capability.CapabilityUnavailableError{Capability: contract.ID}
		}
		return fallbackFirst, s.ReasonCodes, nil
	}
	if !canFall {
		return providerFirst, nil, nil
	}
	if steer.PreferFallback {
		return fallbackFirst, []string{ReasonSteeringFallback}, nil
	}
	if contract.Realtime {
		return fallbackFirst, nil, nil
	}
	return providerFirst, nil, nil
}

func isTransient(err error) bool {
	return !capability.IsPolicyDenied(err) && !capability.IsValidationFailed(err)
}

func auditDenied(l *audit.Log, now func() time.Time, id capability.ID, rc capability.RequestContext, inputHash string, err error) {
	l.Append(audit.Entry{
		Timestamp:  now(),
		RequestID:  rc.RequestID,
		Capability: id,
		Event:      audit.EventPolicyDenied,
		ErrorCode:  err.Error(),
		InputHash:  inputHash,
	})
}

func auditValidationFailed(l *audit.Log, now func() time.Time, id capability.ID, rc capability.RequestContext, inputHash string, res *capability.Result, err error) {
	entry := audit.Entry{
		Timestamp:  now(),
		RequestID:  rc.RequestID,
		Capability: id,
		Event:      audit.EventValidationFailed,
		ErrorCode:  err.Error(),
		InputHash:  inputHash,
	}
	if res != nil {
		entry.Provider = res.Provenance.PrimaryProvider()
		if h, hashErr := canonical.OutputHash(res.Output); hashErr == nil {
			entry.OutputHash = h
		}
	}
	l.Append(entry)
}

// auditExecutionFailed records a dispatch that propagates an execution error
// to the caller. Denials and validation failures have their own events; this
// one covers the "nothing could answer" outcome.
func (e *Engine) auditExecutionFailed(id capability.ID, rc capability.RequestContext, inputHash string, usedFallback bool, err error) {
	e.audit.Append(audit.Entry{
		Timestamp:    e.now(),
		RequestID:    rc.RequestID,
		Capability:   id,
		Event:        audit.EventExecutionFailed,
		ErrorCode:    err.Error(),
		InputHash:    inputHash,
		FallbackUsed: usedFallback,
	})
}

func (e *Engine) recordFailure(id capability.ID, rc capability.RequestContext, usedFallback bool, err error) {
	e.monitor.RecordRequest(id, "", 0, false, usedFallback, nil, err.Error())
	log.WithFields(log.Fields{
		"capability": id,
		"request_id": rc.RequestID,
		"error":      err,
	}).Warn("Dispatch failed")
}

func auditResult(l *audit.Log, now func() time.Time, id capability.ID, rc capability.RequestContext, inputHash string, res *capability.Result, usedFallback bool, redactionDelta int) {
	event := audit.EventProviderAttempted
	if usedFallback {
		event = audit.EventFallbackUsed
	}
	entry := audit.Entry{
		Timestamp:      now(),
		RequestID:      rc.RequestID,
		Capability:     id,
		Provider:       res.Provenance.PrimaryProvider(),
		Event:          event,
		FallbackUsed:   usedFallback,
		LatencyMs:      res.Diagnostic.LatencyMs,
		Success:        true,
		Confidence:     float64(res.Confidence),
		InputHash:      inputHash,
		RedactionDelta: redactionDelta,
	}
	if h, err := canonical.OutputHash(res.Output); err == nil {
		entry.OutputHash = h
	}
	l.Append(entry)
}
