// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package steering

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/traylinx/assistGate/internal/capability"
)

// Engine loads steering rules from a directory and evaluates them per
// dispatch. An empty or missing directory means steering is inert and every
// Decide returns a zero Decision.
type Engine struct {
	rulesDir  string
	evaluator *ConditionEvaluator

	mu    sync.RWMutex
	rules []*Rule

	watcher     *fsnotify.Watcher
	stopWatcher chan struct{}
	now         func() time.Time
}

// NewEngine creates an engine rooted at rulesDir. Call LoadRules before use.
func NewEngine(rulesDir string) *Engine {
	return &Engine{
		rulesDir:    rulesDir,
		evaluator:   NewConditionEvaluator(),
		stopWatcher: make(chan struct{}),
		now:         time.Now,
	}
}

// LoadRules reads every .yaml/.yml file under the rules directory. A file
// that fails to parse or compile is skipped with a warning so one bad rule
// cannot take steering down.
func (e *Engine) LoadRules() error {
	if e.rulesDir == "" {
		return nil
	}
	if _, err := os.Stat(e.rulesDir); os.IsNotExist(err) {
		return nil
	}

	var loaded []*Rule
	err := filepath.Walk(e.rulesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isRuleFile(path) {
			return nil
		}
		rule, err := e.loadRuleFile(path)
		if err != nil {
			log.WithFields(log.Fields{"file": path, "error": err}).Warn("Skipping invalid steering rule")
			return nil
		}
		loaded = append(loaded, rule)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk steering rules: %w", err)
	}

	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].Activation.Priority > loaded[j].Activation.Priority
	})

	e.mu.Lock()
	e.rules = loaded
	e.mu.Unlock()

	log.WithFields(log.Fields{"count": len(loaded), "dir": e.rulesDir}).Info("Loaded steering rules")
	return nil
}

func (e *Engine) loadRuleFile(path string) (*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rule Rule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if rule.Name == "" {
		return nil, fmt.Errorf("rule has no name")
	}
	switch rule.Effect {
	case EffectDeny, EffectPreferFallback:
	case EffectPreferProviders:
		if len(rule.Providers) == 0 {
			return nil, fmt.Errorf("prefer-providers rule lists no providers")
		}
	default:
		return nil, fmt.Errorf("unknown effect %q", rule.Effect)
	}
	if err := e.evaluator.Compile(rule.Activation.Condition); err != nil {
		return nil, err
	}
	rule.FilePath = path
	return &rule, nil
}

// Decide evaluates all rules against one dispatch. Rules are tried in
// priority order; deny short-circuits, prefer-fallback and provider
// reordering combine (first matched provider list wins).
func (e *Engine) Decide(id capability.ID, class capability.Class, rc capability.RequestContext, realtime bool) Decision {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	if len(rules) == 0 {
		return Decision{}
	}

	now := e.now()
	ctx := DispatchContext{
		Capability: string(id),
		Class:      string(class),
		Privacy:    string(rc.Privacy),
		Realtime:   realtime,
		Locale:     rc.Locale,
		Hour:       now.Hour(),
		DayOfWeek:  now.Weekday().String()[:3],
		Timestamp:  now,
	}

	var decision Decision
	for _, rule := range rules {
		matched, err := e.evaluator.Evaluate(rule.Activation.Condition, ctx)
		if err != nil {
			log.WithFields(log.Fields{"rule": rule.Name, "error": err}).Warn("Steering rule evaluation failed")
			continue
		}
		if !matched {
			continue
		}
		decision.MatchedRules = append(decision.MatchedRules, rule.Name)
		if decision.Reason == "" && rule.Reason != "" {
			decision.Reason = rule.Reason
		}
		switch rule.Effect {
		case EffectDeny:
			decision.Deny = true
			return decision
		case EffectPreferFallback:
			decision.PreferFallback = true
		case EffectPreferProviders:
			if decision.Providers == nil {
				decision.Providers = rule.Providers
			}
		}
	}
	return decision
}

// Rules returns a snapshot of the loaded rules, highest priority first.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// StartWatching reloads rules when files under the rules directory change.
func (e *Engine) StartWatching() error {
	if e.rulesDir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(e.rulesDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", e.rulesDir, err)
	}
	e.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isRuleFile(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := e.LoadRules(); err != nil {
						log.WithError(err).Warn("Steering rule reload failed")
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("Steering watcher error")
			case <-e.stopWatcher:
				return
			}
		}
	}()
	return nil
}

// Stop shuts down the file watcher.
func (e *Engine) Stop() {
	close(e.stopWatcher)
	if e.watcher != nil {
		e.watcher.Close()
	}
}

// SetNowFunc overrides the clock for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.now = now
}

func isRuleFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
