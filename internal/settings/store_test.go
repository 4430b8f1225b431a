// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/assistGate/internal/capability"
)

func TestStore_Defaults(t *testing.T) {
	s := NewStore()
	snap := s.Current()
	assert.True(t, snap.AssistEnabled)
	assert.True(t, snap.CapabilityEnabled(capability.EstimateDuration))
}

func TestStore_KillSwitch(t *testing.T) {
	s := NewStore()
	s.SetAssistEnabled(false)
	assert.False(t, s.Current().AssistEnabled)

	s.SetAssistEnabled(true)
	assert.True(t, s.Current().AssistEnabled)
}

func TestStore_CapabilityToggle(t *testing.T) {
	s := NewStore()
	s.SetCapabilityEnabled(capability.StudyPlan, false)

	snap := s.Current()
	assert.False(t, snap.CapabilityEnabled(capability.StudyPlan))
	assert.True(t, snap.CapabilityEnabled(capability.EstimateDuration))

	s.SetCapabilityEnabled(capability.StudyPlan, true)
	assert.True(t, s.Current().CapabilityEnabled(capability.StudyPlan))
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore()
	snap := s.Current()
	snap.DisabledCapabilities[capability.StudyPlan] = true
	assert.True(t, s.Current().CapabilityEnabled(capability.StudyPlan))
}

func TestFileStore_LoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := "assist-enabled: false\ndisabled-capabilities:\n  - study-plan\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	snap := s.Current()
	assert.False(t, snap.AssistEnabled)
	assert.False(t, snap.CapabilityEnabled(capability.StudyPlan))
	assert.True(t, snap.CapabilityEnabled(capability.EstimateDuration))
}

func TestFileStore_MissingFileMeansDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Current().AssistEnabled)
}

func TestFileStore_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assist-enabled: true\n"), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()
	require.True(t, s.Current().AssistEnabled)

	require.NoError(t, os.WriteFile(path, []byte("assist-enabled: false\n"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !s.Current().AssistEnabled {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("kill switch flip was not picked up from the file")
}

func TestFileStore_KeepsSnapshotOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assist-enabled: false\n"), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()
	require.False(t, s.Current().AssistEnabled)

	require.NoError(t, os.WriteFile(path, []byte(": not yaml {{{\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.False(t, s.Current().AssistEnabled)
}
