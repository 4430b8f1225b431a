// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fallback

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// All heuristics below must stay pure functions of their input bytes. No
// clocks, no randomness, no map-order iteration into output slices.

const (
	baseEstimateMinutes = 30
	sessionMinutes      = 45
	placementGranular   = 15 * time.Minute
)

// estimateDuration derives a triple from difficulty, importance, page count
// and a few title keywords. Rounded to 5-minute steps so repeated runs and
// float drift cannot produce distinct hashes.
func estimateDuration(input json.RawMessage) (interface{}, float64, error) {
	difficulty := gjson.GetBytes(input, "difficulty").Float()
	importance := gjson.GetBytes(input, "importance").Float()
	pages := gjson.GetBytes(input, "pages").Float()
	title := strings.ToLower(gjson.GetBytes(input, "title").String())

	est := float64(baseEstimateMinutes) + difficulty*90 + pages*3
	switch {
	case strings.Contains(title, "exam") || strings.Contains(title, "final"):
		est *= 1.5
	case strings.Contains(title, "essay") || strings.Contains(title, "paper"):
		est *= 1.3
	case strings.Contains(title, "quiz"):
		est *= 0.7
	}
	est = roundTo5(est)
	min := roundTo5(est * 0.6)
	max := roundTo5(est * 1.6)
	if min < 5 {
		min = 5
	}
	if max <= est {
		max = est + 5
	}
	if min > est {
		min = est
	}

	confidence := 0.45 + 0.1*importance
	if pages > 0 {
		confidence += 0.05
	}

	return map[string]interface{}{
		"min_minutes":       min,
		"estimated_minutes": est,
		"max_minutes":       max,
	}, confidence, nil
}

// decomposeTask splits a task into a fixed plan/do/review scaffold, scaled by
// the total estimate when one is supplied.
func decomposeTask(input json.RawMessage) (interface{}, float64, error) {
	title := gjson.GetBytes(input, "title").String()
	total := gjson.GetBytes(input, "estimated_minutes").Float()
	if total <= 0 {
		total = 60
	}

	steps := []struct {
		label string
		share float64
	}{
		{"Plan: " + title, 0.2},
		{"Work on: " + title, 0.6},
		{"Review: " + title, 0.2},
	}
	subtasks := make([]map[string]interface{}, 0, len(steps))
	for i, s := range steps {
		subtasks = append(subtasks, map[string]interface{}{
			"title":             s.label,
			"order":             i + 1,
			"estimated_minutes": roundTo5(total * s.share),
		})
	}
	return map[string]interface{}{"subtasks": subtasks}, 0.5, nil
}

// forecastWorkload sums task estimates per due date. Horizon end is the
// latest due date seen, so the output depends only on the input.
func forecastWorkload(input json.RawMessage) (interface{}, float64, error) {
	perDay := map[string]float64{}
	var total float64
	var horizonEnd string

	tasks := gjson.GetBytes(input, "tasks")
	tasks.ForEach(func(_, task gjson.Result) bool {
		minutes := task.Get("estimated_minutes").Float()
		day, ok := dayOf(task.Get("due_date").String())
		if !ok || minutes <= 0 {
			return true
		}
		perDay[day] += minutes
		total += minutes
		if end := day + "T23:59:59Z"; end > horizonEnd {
			horizonEnd = end
		}
		return true
	})

	days := make([]string, 0, len(perDay))
	for d := range perDay {
		days = append(days, d)
	}
	sort.Strings(days)

	daily := make([]map[string]interface{}, 0, len(days))
	var peakDay string
	var peakMinutes float64
	for _, d := range days {
		daily = append(daily, map[string]interface{}{
			"date":    d,
			"minutes": perDay[d],
		})
		if perDay[d] > peakMinutes {
			peakDay, peakMinutes = d, perDay[d]
		}
	}

	out := map[string]interface{}{
		"total_minutes": total,
		"daily_minutes": daily,
	}
	if horizonEnd != "" {
		out["horizon_end"] = horizonEnd
	}
	if peakDay != "" {
		out["peak_date"] = peakDay
		out["peak_minutes"] = peakMinutes
	}
	return out, 0.6, nil
}

// planStudy spreads each assignment's minutes over evening sessions in the
// days leading up to its due date, most recent session last.
func planStudy(input json.RawMessage) (interface{}, float64, error) {
	type session struct {
		startsAt   time.Time
		minutes    float64
		assignment string
	}
	var sessions []session

	var parseErr error
	gjson.GetBytes(input, "assignments").ForEach(func(_, a gjson.Result) bool {
		title := a.Get("title").String()
		minutes := a.Get("estimated_minutes").Float()
		if minutes <= 0 {
			minutes = sessionMinutes
		}
		due, err := time.Parse(time.RFC3339, a.Get("due_date").String())
		if err != nil {
			parseErr = fmt.Errorf("assignment %q: bad due_date: %w", title, err)
			return false
		}
		// Evening slots, working backwards from the day before the deadline.
		n := int(math.Ceil(minutes / sessionMinutes))
		for i := 0; i < n; i++ {
			day := due.AddDate(0, 0, -(i + 1))
			slot := time.Date(day.Year(), day.Month(), day.Day(), 18, 0, 0, 0, time.UTC)
			m := math.Min(sessionMinutes, minutes-float64(i)*sessionMinutes)
			sessions = append(sessions, session{slot, m, title})
		}
		return true
	})
	if parseErr != nil {
		return nil, 0, parseErr
	}

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].startsAt.Equal(sessions[j].startsAt) {
			return sessions[i].startsAt.Before(sessions[j].startsAt)
		}
		return sessions[i].assignment < sessions[j].assignment
	})

	out := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, map[string]interface{}{
			"starts_at":  s.startsAt.Format(time.RFC3339),
			"minutes":    s.minutes,
			"assignment": s.assignment,
		})
	}
	return map[string]interface{}{"sessions": out}, 0.55, nil
}

// placeSchedule finds the earliest free gap in the window, scanning on a
// 15-minute grid.
func placeSchedule(input json.RawMessage) (interface{}, float64, error) {
	duration := time.Duration(gjson.GetBytes(input, "duration_minutes").Float()) * time.Minute
	if duration <= 0 {
		return nil, 0, fmt.Errorf("duration_minutes must be positive")
	}
	windowStart, err := time.Parse(time.RFC3339, gjson.GetBytes(input, "window_start").String())
	if err != nil {
		return nil, 0, fmt.Errorf("bad window_start: %w", err)
	}
	windowEnd := windowStart.AddDate(0, 0, 7)
	if raw := gjson.GetBytes(input, "window_end").String(); raw != "" {
		if windowEnd, err = time.Parse(time.RFC3339, raw); err != nil {
			return nil, 0, fmt.Errorf("bad window_end: %w", err)
		}
	}

	type block struct{ start, end time.Time }
	var busy []block
	var parseErr error
	gjson.GetBytes(input, "busy_blocks").ForEach(func(_, b gjson.Result) bool {
		s, errS := time.Parse(time.RFC3339, b.Get("starts_at").String())
		e, errE := time.Parse(time.RFC3339, b.Get("ends_at").String())
		if errS != nil || errE != nil {
			parseErr = fmt.Errorf("bad busy block %q", b.Raw)
			return false
		}
		busy = append(busy, block{s, e})
		return true
	})
	if parseErr != nil {
		return nil, 0, parseErr
	}

	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(placementGranular) {
		end := t.Add(duration)
		free := true
		for _, b := range busy {
			if t.Before(b.end) && b.start.Before(end) {
				free = false
				break
			}
		}
		if free {
			return map[string]interface{}{
				"starts_at":        t.Format(time.RFC3339),
				"ends_at":          end.Format(time.RFC3339),
				"duration_minutes": duration.Minutes(),
			}, 0.6, nil
		}
	}
	return nil, 0, fmt.Errorf("no free slot of %s in window", duration)
}

// resolveConflicts keeps the higher-priority event of each conflicting pair
// and pushes the other to start when the kept one ends. Ties keep the earlier
// event, then the lexically smaller id, so the outcome never depends on
// input ordering alone.
func resolveConflicts(input json.RawMessage) (interface{}, float64, error) {
	resolutions := make([]map[string]interface{}, 0)
	var parseErr error

	gjson.GetBytes(input, "conflicts").ForEach(func(_, c gjson.Result) bool {
		a, b := c.Get("events.0"), c.Get("events.1")
		if !a.Exists() || !b.Exists() {
			parseErr = fmt.Errorf("conflict needs two events: %q", c.Raw)
			return false
		}
		keep, move := a, b
		switch {
		case a.Get("priority").Float() > b.Get("priority").Float():
		case b.Get("priority").Float() > a.Get("priority").Float():
			keep, move = b, a
		case b.Get("starts_at").String() < a.Get("starts_at").String():
			keep, move = b, a
		case a.Get("starts_at").String() == b.Get("starts_at").String() &&
			b.Get("id").String() < a.Get("id").String():
			keep, move = b, a
		}

		keepEnd, err := time.Parse(time.RFC3339, keep.Get("ends_at").String())
		if err != nil {
			parseErr = fmt.Errorf("event %q: bad ends_at: %w", keep.Get("id").String(), err)
			return false
		}
		resolutions = append(resolutions,
			map[string]interface{}{
				"id":     keep.Get("id").String(),
				"action": "keep",
			},
			map[string]interface{}{
				"id":        move.Get("id").String(),
				"action":    "move",
				"new_start": keepEnd.Format(time.RFC3339),
			},
		)
		return true
	})
	if parseErr != nil {
		return nil, 0, parseErr
	}
	return map[string]interface{}{"resolutions": resolutions}, 0.55, nil
}

func roundTo5(v float64) float64 {
	return math.Round(v/5) * 5
}

// dayOf truncates an RFC3339 timestamp or plain date to YYYY-MM-DD.
func dayOf(raw string) (string, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Format("2006-01-02"), true
	}
	if _, err := time.Parse("2006-01-02", raw); err == nil {
		return raw, true
	}
	return "", false
}
