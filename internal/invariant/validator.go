// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package invariant validates every dispatch result before it is returned,
// independent of provenance. A violation is surfaced as an error even when a
// usable result was computed: an invalid result is worse than none.
package invariant

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/traylinx/assistGate/internal/canonical"
	"github.com/traylinx/assistGate/internal/capability"
)

const (
	// MinutesUpperBound is one week; no single duration field may exceed it.
	MinutesUpperBound = 10080
	// ReasonCodeThreshold is the confidence below which a result must carry
	// at least one reason code explaining itself.
	ReasonCodeThreshold = 0.6

	datePastBoundYears   = 100
	dateFutureBoundYears = 10
)

// Validator holds the fallback determinism cache: (capability, input hash) →
// output hash. The same input hash must always map to the same fallback
// output hash; divergence is a hard validation failure. This is the single
// determinism policy for the whole pipeline.
type Validator struct {
	mu              sync.Mutex
	fallbackOutputs map[string]string
	now             func() time.Time
}

// NewValidator returns a validator with an empty determinism cache.
func NewValidator() *Validator {
	return &Validator{
		fallbackOutputs: make(map[string]string),
		now:             time.Now,
	}
}

// SetNowFunc overrides the clock used for date bounds. Tests only.
func (v *Validator) SetNowFunc(now func() time.Time) {
	v.now = now
}

// Validate checks bounds, monotonic relations, reason codes, metadata
// consistency and fallback idempotency for one result.
func (v *Validator) Validate(c *capability.Contract, inputHash string, res *capability.Result) error {
	if res.Metadata.InputHash != inputHash {
		return &capability.ValidationError{
			Capability: c.ID,
			Reason:     fmt.Sprintf("metadata input hash %q does not match request hash %q", res.Metadata.InputHash, inputHash),
		}
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		return &capability.ValidationError{
			Capability: c.ID,
			Reason:     fmt.Sprintf("confidence %v outside [0,1]", res.Confidence),
		}
	}
	if err := v.validateBounds(c, res.Output); err != nil {
		return err
	}
	if err := v.validateMonotonic(c, res.Output); err != nil {
		return err
	}
	if err := v.validateReasonCodes(c, res); err != nil {
		return err
	}
	return v.validateFallbackIdempotency(c, inputHash, res)
}

func (v *Validator) validateBounds(c *capability.Contract, output json.RawMessage) error {
	for _, path := range c.Schema.DurationMinuteFields {
		for _, val := range resolve(output, path) {
			minutes := val.Int()
			if minutes < 0 || minutes > MinutesUpperBound {
				return &capability.ValidationError{
					Capability: c.ID,
					Reason:     fmt.Sprintf("duration field %q = %d outside [0, %d]", path, minutes, MinutesUpperBound),
				}
			}
		}
	}

	now := v.now()
	pastBound := now.AddDate(-datePastBoundYears, 0, 0)
	futureBound := now.AddDate(dateFutureBoundYears, 0, 0)
	for _, path := range c.Schema.DateFields {
		for _, val := range resolve(output, path) {
			if val.String() == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, val.String())
			if err != nil {
				return &capability.ValidationError{
					Capability: c.ID,
					Reason:     fmt.Sprintf("date field %q is not RFC 3339: %q", path, val.String()),
				}
			}
			if t.Before(pastBound) || t.After(futureBound) {
				return &capability.ValidationError{
					Capability: c.ID,
					Reason:     fmt.Sprintf("date field %q = %s outside [-%dy, +%dy] of now", path, val.String(), datePastBoundYears, dateFutureBoundYears),
				}
			}
		}
	}

	for _, path := range c.Schema.ConfidenceFields {
		for _, val := range resolve(output, path) {
			f := val.Float()
			if f < 0 || f > 1 {
				return &capability.ValidationError{
					Capability: c.ID,
					Reason:     fmt.Sprintf("confidence field %q = %v outside [0,1]", path, f),
				}
			}
		}
	}
	return nil
}

func (v *Validator) validateMonotonic(c *capability.Contract, output json.RawMessage) error {
	for _, triple := range c.Schema.MonotonicTriples {
		minVal := gjson.GetBytes(output, triple.Min)
		estVal := gjson.GetBytes(output, triple.Estimated)
		maxVal := gjson.GetBytes(output, triple.Max)
		if !minVal.Exists() || !estVal.Exists() || !maxVal.Exists() {
			continue
		}
		if minVal.Int() > estVal.Int() {
			return &capability.ValidationError{
				Capability: c.ID,
				Reason:     fmt.Sprintf("monotonic violation: %s (%d) > %s (%d)", triple.Min, minVal.Int(), triple.Estimated, estVal.Int()),
			}
		}
		if estVal.Int() > maxVal.Int() {
			return &capability.ValidationError{
				Capability: c.ID,
				Reason:     fmt.Sprintf("monotonic violation: %s (%d) > %s (%d)", triple.Estimated, estVal.Int(), triple.Max, maxVal.Int()),
			}
		}
	}
	return nil
}

func (v *Validator) validateReasonCodes(c *capability.Contract, res *capability.Result) error {
	if float64(res.Confidence) < ReasonCodeThreshold && len(res.Diagnostic.ReasonCodes) == 0 {
		return &capability.ValidationError{
			Capability: c.ID,
			Reason:     fmt.Sprintf("confidence %.2f below %.2f with no reason codes", float64(res.Confidence), ReasonCodeThreshold),
		}
	}
	return nil
}

func (v *Validator) validateFallbackIdempotency(c *capability.Contract, inputHash string, res *capability.Result) error {
	if res.Provenance.Kind != capability.ProvenanceFallback {
		return nil
	}
	outputHash, err := canonical.OutputHash(res.Output)
	if err != nil {
		return &capability.ValidationError{
			Capability: c.ID,
			Reason:     fmt.Sprintf("output hash: %v", err),
		}
	}
	key := string(c.ID) + "|" + inputHash

	v.mu.Lock()
	defer v.mu.Unlock()
	if prior, ok := v.fallbackOutputs[key]; ok && prior != outputHash {
		return &capability.ValidationError{
			Capability: c.ID,
			Reason:     fmt.Sprintf("non-deterministic fallback: input hash %s produced divergent outputs", inputHash),
		}
	}
	v.fallbackOutputs[key] = outputHash
	return nil
}

// resolve evaluates a gjson path that may include "#" wildcards and returns
// the flattened scalar results.
func resolve(output json.RawMessage, path string) []gjson.Result {
	val := gjson.GetBytes(output, path)
	if !val.Exists() {
		return nil
	}
	if val.IsArray() {
		return val.Array()
	}
	return []gjson.Result{val}
}
