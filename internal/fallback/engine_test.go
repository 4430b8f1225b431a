// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fallback

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/traylinx/assistGate/internal/capability"
)

func run(t *testing.T, id capability.ID, input string) *capability.Result {
	t.Helper()
	e := NewHeuristicEngine()
	res, err := e.ExecuteFallback(context.Background(), id, json.RawMessage(input), capability.RequestContext{})
	require.NoError(t, err)
	return res
}

func TestCanFallback(t *testing.T) {
	e := NewHeuristicEngine()
	assert.True(t, e.CanFallback(capability.EstimateDuration))
	assert.True(t, e.CanFallback(capability.ConflictResolution))
	assert.False(t, e.CanFallback(capability.DocumentIngest))
	assert.False(t, e.CanFallback(capability.EntityExtract))
}

func TestExecuteFallback_UnknownCapability(t *testing.T) {
	e := NewHeuristicEngine()
	_, err := e.ExecuteFallback(context.Background(), capability.DocumentIngest, json.RawMessage(`{}`), capability.RequestContext{})
	assert.True(t, capability.IsCapabilityUnavailable(err))
}

func TestExecuteFallback_Provenance(t *testing.T) {
	res := run(t, capability.EstimateDuration, `{"title":"reading","difficulty":0.5}`)
	assert.Equal(t, capability.ProvenanceFallback, res.Provenance.Kind)
	assert.Contains(t, res.Diagnostic.ReasonCodes, ReasonHeuristicFallback)
}

func TestEstimateDuration_Shape(t *testing.T) {
	res := run(t, capability.EstimateDuration, `{"title":"chapter reading","difficulty":0.5,"importance":0.5,"pages":10}`)

	min := gjson.GetBytes(res.Output, "min_minutes").Float()
	est := gjson.GetBytes(res.Output, "estimated_minutes").Float()
	max := gjson.GetBytes(res.Output, "max_minutes").Float()

	// 30 + 0.5*90 + 10*3 = 105.
	assert.Equal(t, 105.0, est)
	assert.LessOrEqual(t, min, est)
	assert.LessOrEqual(t, est, max)
	assert.InDelta(t, 0.55, float64(res.Confidence), 1e-9)
}

func TestEstimateDuration_TitleKeywords(t *testing.T) {
	base := run(t, capability.EstimateDuration, `{"title":"reading","difficulty":0.5}`)
	exam := run(t, capability.EstimateDuration, `{"title":"Final Exam prep","difficulty":0.5}`)
	quiz := run(t, capability.EstimateDuration, `{"title":"pop quiz","difficulty":0.5}`)

	baseEst := gjson.GetBytes(base.Output, "estimated_minutes").Float()
	assert.Greater(t, gjson.GetBytes(exam.Output, "estimated_minutes").Float(), baseEst)
	assert.Less(t, gjson.GetBytes(quiz.Output, "estimated_minutes").Float(), baseEst)
}

func TestDecomposeTask_Shares(t *testing.T) {
	res := run(t, capability.TaskCreation, `{"title":"write report","estimated_minutes":100}`)

	subtasks := gjson.GetBytes(res.Output, "subtasks").Array()
	require.Len(t, subtasks, 3)
	assert.Equal(t, "Plan: write report", subtasks[0].Get("title").String())
	assert.Equal(t, 20.0, subtasks[0].Get("estimated_minutes").Float())
	assert.Equal(t, 60.0, subtasks[1].Get("estimated_minutes").Float())
	assert.Equal(t, 20.0, subtasks[2].Get("estimated_minutes").Float())
	assert.Equal(t, int64(3), subtasks[2].Get("order").Int())
}

func TestForecastWorkload_SortedDays(t *testing.T) {
	res := run(t, capability.WorkloadForecast, `{"tasks":[
		{"estimated_minutes":60,"due_date":"2026-09-03"},
		{"estimated_minutes":30,"due_date":"2026-09-01"},
		{"estimated_minutes":90,"due_date":"2026-09-03T10:00:00Z"}
	]}`)

	assert.Equal(t, 180.0, gjson.GetBytes(res.Output, "total_minutes").Float())
	daily := gjson.GetBytes(res.Output, "daily_minutes").Array()
	require.Len(t, daily, 2)
	assert.Equal(t, "2026-09-01", daily[0].Get("date").String())
	assert.Equal(t, "2026-09-03", daily[1].Get("date").String())
	assert.Equal(t, 150.0, daily[1].Get("minutes").Float())
	assert.Equal(t, "2026-09-03", gjson.GetBytes(res.Output, "peak_date").String())
	assert.Equal(t, "2026-09-03T23:59:59Z", gjson.GetBytes(res.Output, "horizon_end").String())
}

func TestPlanStudy_EveningSessions(t *testing.T) {
	res := run(t, capability.StudyPlan, `{"assignments":[
		{"title":"essay","estimated_minutes":90,"due_date":"2026-09-10T09:00:00Z"}
	]}`)

	sessions := gjson.GetBytes(res.Output, "sessions").Array()
	require.Len(t, sessions, 2)
	// Two 45-minute evening slots, earliest first.
	assert.Equal(t, "2026-09-08T18:00:00Z", sessions[0].Get("starts_at").String())
	assert.Equal(t, "2026-09-09T18:00:00Z", sessions[1].Get("starts_at").String())
	assert.Equal(t, 45.0, sessions[0].Get("minutes").Float())
}

func TestPlanStudy_BadDueDate(t *testing.T) {
	e := NewHeuristicEngine()
	_, err := e.ExecuteFallback(context.Background(), capability.StudyPlan,
		json.RawMessage(`{"assignments":[{"title":"x","due_date":"soon"}]}`), capability.RequestContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad due_date")
}

func TestPlaceSchedule_EarliestGap(t *testing.T) {
	res := run(t, capability.SchedulePlacement, `{
		"duration_minutes": 60,
		"window_start": "2026-09-01T09:00:00Z",
		"window_end": "2026-09-01T17:00:00Z",
		"busy_blocks": [
			{"starts_at":"2026-09-01T09:00:00Z","ends_at":"2026-09-01T10:30:00Z"},
			{"starts_at":"2026-09-01T11:00:00Z","ends_at":"2026-09-01T12:00:00Z"}
		]
	}`)

	// The 10:30-11:00 gap is too small; first fit is after the second block.
	assert.Equal(t, "2026-09-01T12:00:00Z", gjson.GetBytes(res.Output, "starts_at").String())
	assert.Equal(t, "2026-09-01T13:00:00Z", gjson.GetBytes(res.Output, "ends_at").String())
}

func TestPlaceSchedule_NoSlot(t *testing.T) {
	e := NewHeuristicEngine()
	_, err := e.ExecuteFallback(context.Background(), capability.SchedulePlacement, json.RawMessage(`{
		"duration_minutes": 120,
		"window_start": "2026-09-01T09:00:00Z",
		"window_end": "2026-09-01T10:00:00Z"
	}`), capability.RequestContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no free slot")
}

func TestResolveConflicts_PriorityWins(t *testing.T) {
	res := run(t, capability.ConflictResolution, `{"conflicts":[{"events":[
		{"id":"a","priority":1,"starts_at":"2026-09-01T09:00:00Z","ends_at":"2026-09-01T10:00:00Z"},
		{"id":"b","priority":3,"starts_at":"2026-09-01T09:30:00Z","ends_at":"2026-09-01T10:30:00Z"}
	]}]}`)

	resolutions := gjson.GetBytes(res.Output, "resolutions").Array()
	require.Len(t, resolutions, 2)
	assert.Equal(t, "b", resolutions[0].Get("id").String())
	assert.Equal(t, "keep", resolutions[0].Get("action").String())
	assert.Equal(t, "a", resolutions[1].Get("id").String())
	assert.Equal(t, "move", resolutions[1].Get("action").String())
	assert.Equal(t, "2026-09-01T10:30:00Z", resolutions[1].Get("new_start").String())
}

func TestResolveConflicts_TieBreaksStable(t *testing.T) {
	// Equal priority and start time: the lexically smaller id is kept,
	// regardless of input order.
	forward := run(t, capability.ConflictResolution, `{"conflicts":[{"events":[
		{"id":"a","priority":1,"starts_at":"2026-09-01T09:00:00Z","ends_at":"2026-09-01T10:00:00Z"},
		{"id":"b","priority":1,"starts_at":"2026-09-01T09:00:00Z","ends_at":"2026-09-01T10:00:00Z"}
	]}]}`)
	reversed := run(t, capability.ConflictResolution, `{"conflicts":[{"events":[
		{"id":"b","priority":1,"starts_at":"2026-09-01T09:00:00Z","ends_at":"2026-09-01T10:00:00Z"},
		{"id":"a","priority":1,"starts_at":"2026-09-01T09:00:00Z","ends_at":"2026-09-01T10:00:00Z"}
	]}]}`)

	for _, res := range []*capability.Result{forward, reversed} {
		resolutions := gjson.GetBytes(res.Output, "resolutions").Array()
		require.Len(t, resolutions, 2)
		assert.Equal(t, "a", resolutions[0].Get("id").String())
		assert.Equal(t, "keep", resolutions[0].Get("action").String())
	}
}

func TestHeuristics_Deterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	e := NewHeuristicEngine()
	properties.Property("identical input bytes yield identical output bytes", prop.ForAll(
		func(difficulty, importance float64, pages int, title string) bool {
			input, err := json.Marshal(map[string]interface{}{
				"title":      title,
				"difficulty": difficulty,
				"importance": importance,
				"pages":      pages,
			})
			if err != nil {
				return false
			}
			first, err1 := e.ExecuteFallback(context.Background(), capability.EstimateDuration, input, capability.RequestContext{})
			second, err2 := e.ExecuteFallback(context.Background(), capability.EstimateDuration, input, capability.RequestContext{})
			if err1 != nil || err2 != nil {
				return false
			}
			return string(first.Output) == string(second.Output)
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 500),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestEstimateDuration_MonotonicInDifficulty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	e := NewHeuristicEngine()
	estimate := func(difficulty float64) float64 {
		input, _ := json.Marshal(map[string]interface{}{"title": "reading", "difficulty": difficulty})
		res, err := e.ExecuteFallback(context.Background(), capability.EstimateDuration, input, capability.RequestContext{})
		if err != nil {
			return -1
		}
		return gjson.GetBytes(res.Output, "estimated_minutes").Float()
	}

	properties.Property("harder tasks never estimate shorter", prop.ForAll(
		func(lo, hi float64) bool {
			if lo > hi {
				lo, hi = hi, lo
			}
			return estimate(lo) <= estimate(hi)
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
