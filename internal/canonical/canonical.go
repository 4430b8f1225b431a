// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package canonical converts JSON-shaped inputs into a stable canonical form
// and hashes it. Identical semantic requests must hash identically regardless
// of volatile fields, key order or the ordering of declared unordered arrays;
// the hash is the sole key used for idempotency and staleness checks.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// DefaultVolatileKeys are stripped from every input before hashing, at any
// nesting depth. Contracts merge capability-specific exclusions on top.
var DefaultVolatileKeys = []string{
	"request_id",
	"requestId",
	"timestamp",
	"timestamps",
	"now",
	"view_id",
	"viewId",
	"created_at",
	"updated_at",
}

// Canonicalize strips excluded keys, sorts unordered arrays by their
// canonical element JSON, and serializes with sorted object keys.
func Canonicalize(raw json.RawMessage, excludedKeys, unorderedArrayKeys []string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}

	excluded := toSet(excludedKeys)
	unordered := toSet(unorderedArrayKeys)
	v = transform(v, excluded, unordered)

	// Maps marshal with sorted keys, which is the canonical ordering.
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// Hash canonicalizes raw and returns "sha256:<hex>" over the canonical bytes.
// The contract's exclusions are merged with DefaultVolatileKeys by the caller
// via MergeExcluded.
func Hash(raw json.RawMessage, excludedKeys, unorderedArrayKeys []string) (string, error) {
	canonical, err := Canonicalize(raw, excludedKeys, unorderedArrayKeys)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("sha256:%x", sum), nil
}

// OutputHash hashes an output with no exclusions beyond key ordering.
func OutputHash(raw json.RawMessage) (string, error) {
	return Hash(raw, nil, nil)
}

// MergeExcluded appends capability-specific exclusions to the default
// volatile key set.
func MergeExcluded(extra []string) []string {
	merged := make([]string, 0, len(DefaultVolatileKeys)+len(extra))
	merged = append(merged, DefaultVolatileKeys...)
	merged = append(merged, extra...)
	return merged
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// transform walks the decoded value, stripping excluded keys at any depth.
// Arrays named by an unordered key are sorted after each element has itself
// been canonicalized.
func transform(v interface{}, excluded, unordered map[string]bool) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if excluded[k] {
				continue
			}
			child = transform(child, excluded, unordered)
			if arr, ok := child.([]interface{}); ok && unordered[k] {
				child = sortCanonically(arr)
			}
			out[k] = child
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = transform(child, excluded, unordered)
		}
		return out
	default:
		return v
	}
}

// sortCanonically orders array elements by their own canonical JSON string,
// so that element order never affects the hash.
func sortCanonically(arr []interface{}) []interface{} {
	type keyed struct {
		key  string
		elem interface{}
	}
	keyedElems := make([]keyed, len(arr))
	for i, elem := range arr {
		b, err := json.Marshal(elem)
		if err != nil {
			keyedElems[i] = keyed{key: fmt.Sprintf("%v", elem), elem: elem}
			continue
		}
		keyedElems[i] = keyed{key: string(b), elem: elem}
	}
	sort.SliceStable(keyedElems, func(i, j int) bool {
		return keyedElems[i].key < keyedElems[j].key
	})
	out := make([]interface{}, len(arr))
	for i, ke := range keyedElems {
		out[i] = ke.elem
	}
	return out
}
