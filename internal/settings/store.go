// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package settings holds the global kill switch and per-capability toggles.
// The store is read on every dispatch and never cached longer than one call;
// a file-backed store reloads on change via fsnotify so flipping the kill
// switch takes effect on the very next request.
package settings

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/traylinx/assistGate/internal/capability"
)

// Snapshot is one consistent read of the toggles.
type Snapshot struct {
	// AssistEnabled is the global kill switch. When false no provider may
	// be selected or invoked.
	AssistEnabled bool `json:"assist_enabled"`
	// DisabledCapabilities are administratively switched-off capabilities.
	DisabledCapabilities map[capability.ID]bool `json:"disabled_capabilities"`
}

// CapabilityEnabled reports whether a capability is administratively on.
func (s Snapshot) CapabilityEnabled(id capability.ID) bool {
	return !s.DisabledCapabilities[id]
}

// fileFormat is the on-disk YAML shape.
type fileFormat struct {
	AssistEnabled        bool            `yaml:"assist-enabled"`
	DisabledCapabilities []capability.ID `yaml:"disabled-capabilities"`
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	snap     Snapshot
	path     string
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stop     chan struct{}
}

// NewStore returns an in-memory store with assistance enabled.
func NewStore() *Store {
	return &Store{
		snap: Snapshot{
			AssistEnabled:        true,
			DisabledCapabilities: make(map[capability.ID]bool),
		},
		stop: make(chan struct{}),
	}
}

// NewFileStore loads path and watches it for changes. A missing file means
// defaults (enabled, nothing disabled) until it appears.
func NewFileStore(path string) (*Store, error) {
	s := NewStore()
	s.path = path
	s.loadFile()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s.watcher = w
	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	go s.watch()
	return s, nil
}

// Current returns the toggles as of now. Called once per dispatch.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Snapshot{
		AssistEnabled:        s.snap.AssistEnabled,
		DisabledCapabilities: make(map[capability.ID]bool, len(s.snap.DisabledCapabilities)),
	}
	for id, off := range s.snap.DisabledCapabilities {
		out.DisabledCapabilities[id] = off
	}
	return out
}

// SetAssistEnabled flips the kill switch.
func (s *Store) SetAssistEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.AssistEnabled = enabled
}

// SetCapabilityEnabled toggles one capability.
func (s *Store) SetCapabilityEnabled(id capability.ID, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		delete(s.snap.DisabledCapabilities, id)
	} else {
		s.snap.DisabledCapabilities[id] = true
	}
}

// Close stops the file watcher, if any.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.watcher != nil {
			s.watcher.Close()
		}
	})
}

func (s *Store) watch() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Name == s.path && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				s.loadFile()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("settings watcher error")
		case <-s.stop:
			return
		}
	}
}

func (s *Store) loadFile() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warn("settings read failed")
		}
		return
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		log.WithError(err).Warn("settings parse failed, keeping previous snapshot")
		return
	}

	disabled := make(map[capability.ID]bool, len(f.DisabledCapabilities))
	for _, id := range f.DisabledCapabilities {
		disabled[id] = true
	}

	s.mu.Lock()
	s.snap = Snapshot{
		AssistEnabled:        f.AssistEnabled,
		DisabledCapabilities: disabled,
	}
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"assist_enabled": f.AssistEnabled,
		"disabled":       len(f.DisabledCapabilities),
	}).Info("settings reloaded")
}
