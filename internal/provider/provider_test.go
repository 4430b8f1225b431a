// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/traylinx/assistGate/internal/capability"
	"github.com/traylinx/assistGate/internal/fallback"
)

func TestHTTPProvider_Execute(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":{"subtasks":[]},"reason_codes":["model_v2"],"notes":{"model":"tiny"}}`))
	}))
	defer server.Close()

	p := newHTTPProvider(capability.ProviderUserRemote, server.URL, "sekrit", time.Second, nil)

	rc := capability.NewRequestContext()
	rc.Locale = "en-US"
	output, diag, err := p.Execute(context.Background(), capability.TaskCreation,
		json.RawMessage(`{"title":"write report"}`), rc)
	require.NoError(t, err)

	assert.Equal(t, "Bearer sekrit", gotAuth)
	assert.Equal(t, "/v1/capabilities/task-creation", gotPath)
	assert.Equal(t, "task-creation", gjson.GetBytes(gotBody, "capability").String())
	assert.Equal(t, "write report", gjson.GetBytes(gotBody, "input.title").String())
	assert.Equal(t, "en-US", gjson.GetBytes(gotBody, "locale").String())

	assert.JSONEq(t, `{"subtasks":[]}`, string(output))
	assert.Equal(t, []string{"model_v2"}, diag.ReasonCodes)
	assert.Equal(t, "tiny", diag.Notes["model"])
}

func TestHTTPProvider_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"output":{}}`))
	}))
	defer server.Close()

	p := NewLocalModel(server.URL, time.Second)
	_, _, err := p.Execute(context.Background(), capability.TaskCreation, json.RawMessage(`{}`), capability.NewRequestContext())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestHTTPProvider_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := newHTTPProvider(capability.ProviderOnDeviceModel, server.URL, "", time.Second, nil)
	_, _, err := p.Execute(context.Background(), capability.TaskCreation, json.RawMessage(`{}`), capability.NewRequestContext())
	require.Error(t, err)

	var execErr *capability.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, capability.ProviderOnDeviceModel, execErr.Provider)
	assert.Contains(t, err.Error(), "status 503")
}

func TestHTTPProvider_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	p := newHTTPProvider(capability.ProviderOnDeviceModel, server.URL, "", time.Second, nil)
	_, _, err := p.Execute(context.Background(), capability.TaskCreation, json.RawMessage(`{}`), capability.NewRequestContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestHTTPProvider_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	p := newHTTPProvider(capability.ProviderOnDeviceModel, server.URL, "", 10*time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := p.Execute(ctx, capability.TaskCreation, json.RawMessage(`{}`), capability.NewRequestContext())
	assert.Error(t, err)
}

func TestHTTPProvider_AvailabilityProbeCached(t *testing.T) {
	var probes int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			probes++
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	p := newHTTPProvider(capability.ProviderOnDeviceModel, server.URL, "", time.Second, nil)
	assert.True(t, p.IsAvailable())
	assert.True(t, p.IsAvailable())
	assert.Equal(t, 1, probes, "second check should hit the cache")
}

func TestHTTPProvider_UnavailableWhenDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	p := newHTTPProvider(capability.ProviderOnDeviceModel, server.URL, "", time.Second, nil)
	assert.False(t, p.IsAvailable())
}

func TestHTTPProvider_SupportsFilter(t *testing.T) {
	p := newHTTPProvider(capability.ProviderUserRemote, "http://example.invalid", "", time.Second,
		[]capability.ID{capability.TaskCreation})
	assert.True(t, p.Supports(capability.TaskCreation))
	assert.False(t, p.Supports(capability.DocumentIngest))

	open := newHTTPProvider(capability.ProviderUserRemote, "http://example.invalid", "", time.Second, nil)
	assert.True(t, open.Supports(capability.DocumentIngest))
}

func TestBundledHeuristic(t *testing.T) {
	p := NewBundledHeuristic(fallback.NewHeuristicEngine())

	assert.Equal(t, capability.ProviderBundledHeuristic, p.ID())
	assert.True(t, p.IsAvailable())
	assert.True(t, p.Supports(capability.EstimateDuration))
	assert.False(t, p.Supports(capability.DocumentIngest))

	output, diag, err := p.Execute(context.Background(), capability.EstimateDuration,
		json.RawMessage(`{"title":"reading","difficulty":0.5}`), capability.NewRequestContext())
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(output, "estimated_minutes").Exists())
	assert.Contains(t, diag.ReasonCodes, fallback.ReasonHeuristicFallback)
}
