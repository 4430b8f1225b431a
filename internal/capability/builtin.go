// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capability

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Built-in contracts. Validation checks shape and obvious nonsense; semantic
// quality is the invariant validator's job.

func requireString(raw json.RawMessage, path string) error {
	v := gjson.GetBytes(raw, path)
	if !v.Exists() || v.Type != gjson.String || v.String() == "" {
		return fmt.Errorf("missing or empty field %q", path)
	}
	return nil
}

func requireUnitInterval(raw json.RawMessage, path string) error {
	v := gjson.GetBytes(raw, path)
	if !v.Exists() {
		return fmt.Errorf("missing field %q", path)
	}
	if f := v.Float(); f < 0 || f > 1 {
		return fmt.Errorf("field %q out of [0,1]: %v", path, f)
	}
	return nil
}

func validJSON(raw json.RawMessage) error {
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("malformed JSON")
	}
	return nil
}

// BuiltinContracts returns the contract set for the built-in capabilities.
// Provider preference puts the on-device model first everywhere; the
// user-supplied remote provider is last so it is only reached when local
// options are unavailable or open-circuited.
func BuiltinContracts() []*Contract {
	preferLocal := []ProviderID{ProviderOnDeviceModel, ProviderBundledHeuristic, ProviderUserRemote}

	return []*Contract{
		{
			ID:                 DocumentIngest,
			Class:              ClassParse,
			Sensitivity:        SensitivityDocument,
			SupportsFallback:   false,
			PreferredProviders: preferLocal,
			HashExcludedKeys:   []string{"source_url"},
			ValidateInput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				return requireString(raw, "text")
			},
			ValidateOutput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				if !gjson.GetBytes(raw, "segments").IsArray() {
					return fmt.Errorf("segments must be an array")
				}
				return nil
			},
			Schema: OutputSchema{
				ConfidenceFields: []string{"parse_confidence"},
			},
		},
		{
			ID:                 EntityExtract,
			Class:              ClassParse,
			Sensitivity:        SensitivityDocument,
			SupportsFallback:   false,
			PreferredProviders: preferLocal,
			UnorderedArrayKeys: []string{"hints"},
			ValidateInput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				return requireString(raw, "text")
			},
			ValidateOutput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				if !gjson.GetBytes(raw, "entities").IsArray() {
					return fmt.Errorf("entities must be an array")
				}
				return nil
			},
			Schema: OutputSchema{
				DateFields:       []string{"entities.#.due_date"},
				ConfidenceFields: []string{"entities.#.confidence"},
			},
		},
		{
			ID:                 TaskCreation,
			Class:              ClassDecompose,
			Sensitivity:        SensitivityDocument,
			SupportsFallback:   true,
			PreferredProviders: preferLocal,
			UnorderedArrayKeys: []string{"existing_tasks"},
			ValidateInput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				return requireString(raw, "title")
			},
			ValidateOutput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				if !gjson.GetBytes(raw, "subtasks").IsArray() {
					return fmt.Errorf("subtasks must be an array")
				}
				return nil
			},
			Schema: OutputSchema{
				DurationMinuteFields: []string{"subtasks.#.estimated_minutes"},
			},
		},
		{
			ID:                 EstimateDuration,
			Class:              ClassEstimate,
			Sensitivity:        SensitivityMetadata,
			Realtime:           true,
			SupportsFallback:   true,
			PreferredProviders: preferLocal,
			HashExcludedKeys:   []string{"due_date"},
			ValidateInput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				if err := requireString(raw, "title"); err != nil {
					return err
				}
				if err := requireUnitInterval(raw, "importance"); err != nil {
					return err
				}
				return requireUnitInterval(raw, "difficulty")
			},
			ValidateOutput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				for _, f := range []string{"min_minutes", "estimated_minutes", "max_minutes"} {
					if !gjson.GetBytes(raw, f).Exists() {
						return fmt.Errorf("missing field %q", f)
					}
				}
				return nil
			},
			Schema: OutputSchema{
				DurationMinuteFields: []string{"min_minutes", "estimated_minutes", "max_minutes"},
				MonotonicTriples: []MonotonicTriple{
					{Min: "min_minutes", Estimated: "estimated_minutes", Max: "max_minutes"},
				},
			},
		},
		{
			ID:                 WorkloadForecast,
			Class:              ClassForecast,
			Sensitivity:        SensitivityMetadata,
			SupportsFallback:   true,
			PreferredProviders: preferLocal,
			UnorderedArrayKeys: []string{"tasks"},
			ValidateInput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				if !gjson.GetBytes(raw, "tasks").IsArray() {
					return fmt.Errorf("tasks must be an array")
				}
				return nil
			},
			ValidateOutput: validJSON,
			Schema: OutputSchema{
				DurationMinuteFields: []string{"total_minutes", "daily_minutes.#.minutes"},
				DateFields:           []string{"horizon_end"},
			},
		},
		{
			ID:                 StudyPlan,
			Class:              ClassSchedule,
			Sensitivity:        SensitivityMetadata,
			Realtime:           true,
			SupportsFallback:   true,
			PreferredProviders: preferLocal,
			UnorderedArrayKeys: []string{"assignments"},
			ValidateInput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				if !gjson.GetBytes(raw, "assignments").IsArray() {
					return fmt.Errorf("assignments must be an array")
				}
				return nil
			},
			ValidateOutput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				if !gjson.GetBytes(raw, "sessions").IsArray() {
					return fmt.Errorf("sessions must be an array")
				}
				return nil
			},
			Schema: OutputSchema{
				DurationMinuteFields: []string{"sessions.#.minutes"},
				DateFields:           []string{"sessions.#.starts_at"},
			},
		},
		{
			ID:                 SchedulePlacement,
			Class:              ClassSchedule,
			Sensitivity:        SensitivityMetadata,
			Realtime:           true,
			SupportsFallback:   true,
			PreferredProviders: preferLocal,
			UnorderedArrayKeys: []string{"busy_blocks"},
			ValidateInput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				if !gjson.GetBytes(raw, "duration_minutes").Exists() {
					return fmt.Errorf("missing field %q", "duration_minutes")
				}
				return nil
			},
			ValidateOutput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				return requireString(raw, "starts_at")
			},
			Schema: OutputSchema{
				DurationMinuteFields: []string{"duration_minutes"},
				DateFields:           []string{"starts_at"},
			},
		},
		{
			ID:                 ConflictResolution,
			Class:              ClassSchedule,
			Sensitivity:        SensitivityMetadata,
			Realtime:           true,
			SupportsFallback:   true,
			PreferredProviders: preferLocal,
			UnorderedArrayKeys: []string{"conflicts"},
			ValidateInput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				if !gjson.GetBytes(raw, "conflicts").IsArray() {
					return fmt.Errorf("conflicts must be an array")
				}
				return nil
			},
			ValidateOutput: func(raw json.RawMessage) error {
				if err := validJSON(raw); err != nil {
					return err
				}
				if !gjson.GetBytes(raw, "resolutions").IsArray() {
					return fmt.Errorf("resolutions must be an array")
				}
				return nil
			},
			Schema: OutputSchema{
				DateFields: []string{"resolutions.#.new_start"},
			},
		},
	}
}
