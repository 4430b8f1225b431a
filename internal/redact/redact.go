// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package redact scrubs PII from JSON-shaped payloads before any data leaves
// the device. Redaction operates on every string leaf and preserves the JSON
// structure so downstream parsing still succeeds.
package redact

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Level is the redaction aggressiveness.
type Level string

const (
	// LevelLight strips obvious PII: emails, phone numbers, SSNs, credit cards.
	LevelLight Level = "light"
	// LevelModerate adds structured ID patterns (student/employee IDs).
	LevelModerate Level = "moderate"
	// LevelAggressive adds street addresses and dates of birth.
	LevelAggressive Level = "aggressive"
)

type pattern struct {
	name        string
	re          *regexp.Regexp
	replacement string
	minLevel    int
}

func levelRank(l Level) int {
	switch l {
	case LevelModerate:
		return 1
	case LevelAggressive:
		return 2
	default:
		return 0
	}
}

var patterns = []pattern{
	{
		name:        "email",
		re:          regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		replacement: "[EMAIL]",
		minLevel:    0,
	},
	{
		name:        "phone",
		re:          regexp.MustCompile(`(\+?1[-.\s]?)?(\([2-9][0-9]{2}\)|[2-9][0-9]{2})[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`),
		replacement: "[PHONE]",
		minLevel:    0,
	},
	{
		name:        "ssn",
		re:          regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		replacement: "[SSN]",
		minLevel:    0,
	},
	{
		name:        "credit_card",
		re:          regexp.MustCompile(`\b(\d{4}[-\s]?){3}\d{4}\b`),
		replacement: "[CREDIT_CARD]",
		minLevel:    0,
	},
	{
		name:        "structured_id",
		re:          regexp.MustCompile(`\b[A-Z]{1,3}\d{5,9}\b`),
		replacement: "[ID]",
		minLevel:    1,
	},
	{
		name:        "address",
		re:          regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Za-z0-9\s.,\-]+(Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\b`),
		replacement: "[ADDRESS]",
		minLevel:    2,
	},
	{
		name:        "date_of_birth",
		re:          regexp.MustCompile(`\b(0[1-9]|1[0-2])/(0[1-9]|[12][0-9]|3[01])/(19|20)\d{2}\b`),
		replacement: "[DATE]",
		minLevel:    2,
	},
}

// Result reports what a redaction pass removed. The difference between pre-
// and post-redaction payload size is monitored as a signal of over- or
// under-redaction.
type Result struct {
	BytesRemoved  int            `json:"bytes_removed"`
	PatternCounts map[string]int `json:"pattern_counts"`
}

// Redactor applies the pattern set for one level.
type Redactor struct {
	level Level
}

// NewRedactor returns a redactor at the given level.
func NewRedactor(level Level) *Redactor {
	return &Redactor{level: level}
}

// RedactText scrubs a single string and reports what was removed.
func (r *Redactor) RedactText(text string) (string, Result) {
	res := Result{PatternCounts: make(map[string]int)}
	rank := levelRank(r.level)
	out := text
	for _, p := range patterns {
		if p.minLevel > rank {
			continue
		}
		matches := p.re.FindAllString(out, -1)
		if len(matches) == 0 {
			continue
		}
		removed := 0
		for _, m := range matches {
			removed += len(m) - len(p.replacement)
		}
		out = p.re.ReplaceAllString(out, p.replacement)
		res.PatternCounts[p.name] += len(matches)
		res.BytesRemoved += removed
	}
	return out, res
}

// RedactJSON scrubs every string leaf of a JSON document, preserving
// structure. Keys are never rewritten, only values.
func (r *Redactor) RedactJSON(raw json.RawMessage) (json.RawMessage, Result, error) {
	total := Result{PatternCounts: make(map[string]int)}
	out := raw

	var leaves []string
	collectStringLeaves(gjson.ParseBytes(raw), "", &leaves)

	for _, path := range leaves {
		val := gjson.GetBytes(out, path)
		redacted, res := r.RedactText(val.String())
		if res.BytesRemoved == 0 && len(res.PatternCounts) == 0 {
			continue
		}
		var err error
		out, err = sjson.SetBytes(out, path, redacted)
		if err != nil {
			return nil, total, err
		}
		total.BytesRemoved += res.BytesRemoved
		for name, n := range res.PatternCounts {
			total.PatternCounts[name] += n
		}
	}
	return out, total, nil
}

func collectStringLeaves(v gjson.Result, prefix string, paths *[]string) {
	switch {
	case v.IsObject():
		v.ForEach(func(key, value gjson.Result) bool {
			childPath := escapePathKey(key.String())
			if prefix != "" {
				childPath = prefix + "." + childPath
			}
			collectStringLeaves(value, childPath, paths)
			return true
		})
	case v.IsArray():
		i := 0
		v.ForEach(func(_, value gjson.Result) bool {
			childPath := strconv.Itoa(i)
			if prefix != "" {
				childPath = prefix + "." + childPath
			}
			collectStringLeaves(value, childPath, paths)
			i++
			return true
		})
	case v.Type == gjson.String:
		if prefix != "" {
			*paths = append(*paths, prefix)
		}
	}
}

// escapePathKey makes an object key safe to use as a gjson/sjson path
// component. Unescaped keys containing separators or wildcards would be
// unaddressable, and their values would silently skip redaction.
func escapePathKey(key string) string {
	if !strings.ContainsAny(key, `.*?\|#@`) {
		return key
	}
	var b strings.Builder
	b.Grow(len(key) + 4)
	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
