// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package audit keeps an append-only and size-bounded record of every
// dispatch decision. Entries are hash-identified, never
// content-identified: raw request or response data cannot appear here by
// construction because the entry type has no field for it.
package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/assistGate/internal/capability"
)

// EventType classifies the dispatch decision point that produced an entry.
type EventType string

const (
	EventSuppressed        EventType = "suppressed"
	EventProviderAttempted EventType = "provider-attempted"
	EventFallbackUsed      EventType = "fallback-used"
	EventPolicyDenied      EventType = "policy-denied"
	EventValidationFailed  EventType = "validation-failed"
	EventExecutionFailed   EventType = "execution-failed"
)

// Entry is one hash-identified dispatch event.
type Entry struct {
	Timestamp      time.Time             `json:"timestamp"`
	RequestID      uuid.UUID             `json:"request_id"`
	Capability     capability.ID         `json:"capability"`
	Provider       capability.ProviderID `json:"provider,omitempty"`
	Event          EventType             `json:"event"`
	FallbackUsed   bool                  `json:"fallback_used"`
	LatencyMs      int64                 `json:"latency_ms"`
	Success        bool                  `json:"success"`
	ErrorCode      string                `json:"error_code,omitempty"`
	Confidence     float64               `json:"confidence,omitempty"`
	InputHash      string                `json:"input_hash"`
	OutputHash     string                `json:"output_hash,omitempty"`
	RedactionDelta int                   `json:"redaction_delta"`
}

// Config tunes the log.
type Config struct {
	// Path is the JSONL file. Empty disables persistence (in-memory only).
	Path string `yaml:"path" json:"path"`
	// MaxEntries bounds the in-memory ring buffer.
	MaxEntries int `yaml:"max-entries" json:"max_entries"`
	// MaxFileBytes bounds the serialized size; exceeding it halves the log.
	MaxFileBytes int `yaml:"max-file-bytes" json:"max_file_bytes"`
}

// DefaultConfig returns a 1000-entry ring with a 5MB file budget.
func DefaultConfig() Config {
	return Config{MaxEntries: 1000, MaxFileBytes: 5_000_000}
}

func (c *Config) normalize() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1000
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 5_000_000
	}
}

// Log is safe for concurrent use. Appends never block the dispatch path:
// entries go to a buffered channel drained by a background goroutine that
// owns the ring buffer and the file.
type Log struct {
	cfg Config

	mu      sync.Mutex
	entries []Entry

	incoming  chan Entry
	flushed   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLog starts the background writer. Existing persisted entries are loaded
// first so restarts keep history.
func NewLog(cfg Config) *Log {
	cfg.normalize()
	l := &Log{
		cfg:      cfg,
		incoming: make(chan Entry, 256),
		flushed:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	l.load()
	l.wg.Add(1)
	go l.run()
	return l
}

// Append records an entry. Never blocks: if the channel is full the entry is
// dropped and counted in an error log, which is preferable to stalling a
// dispatch for bookkeeping.
func (l *Log) Append(e Entry) {
	select {
	case l.incoming <- e:
	default:
		log.WithField("capability", e.Capability).Warn("audit channel full, entry dropped")
	}
}

// Recent returns up to limit most recent entries, newest last.
func (l *Log) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]Entry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

// Stats summarizes the in-memory entries.
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{ByCapability: make(map[capability.ID]int)}
	var latencyTotal int64
	for _, e := range l.entries {
		s.TotalEntries++
		if e.Success {
			s.Successful++
		}
		if e.FallbackUsed {
			s.FallbackUsed++
		}
		latencyTotal += e.LatencyMs
		s.ByCapability[e.Capability]++
	}
	if s.TotalEntries > 0 {
		s.AverageLatencyMs = latencyTotal / int64(s.TotalEntries)
	}
	return s
}

// Close drains pending entries, flushes to disk and stops the writer. Safe
// to call more than once.
func (l *Log) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}

func (l *Log) run() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.incoming:
			l.append(e)
			l.persist()
		case <-l.done:
			for {
				select {
				case e := <-l.incoming:
					l.append(e)
				default:
					l.persist()
					return
				}
			}
		}
	}
}

func (l *Log) append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.cfg.MaxEntries {
		l.entries = l.entries[len(l.entries)-l.cfg.MaxEntries:]
	}
}

// persist writes the full ring as JSONL and replaces the file atomically.
// If the serialized size exceeds the budget, the log keeps the most recent
// half and retries.
func (l *Log) persist() {
	if l.cfg.Path == "" {
		return
	}

	for {
		l.mu.Lock()
		entries := make([]Entry, len(l.entries))
		copy(entries, l.entries)
		l.mu.Unlock()

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				log.WithError(err).Error("audit encode failed")
				return
			}
		}

		if buf.Len() > l.cfg.MaxFileBytes && len(entries) > 1 {
			l.mu.Lock()
			if len(l.entries) > 1 {
				l.entries = l.entries[len(l.entries)/2:]
			}
			l.mu.Unlock()
			continue
		}

		if err := writeAtomic(l.cfg.Path, buf.Bytes()); err != nil {
			log.WithError(err).Error("audit persist failed")
		}
		return
	}
}

func (l *Log) load() {
	if l.cfg.Path == "" {
		return
	}
	data, err := os.ReadFile(l.cfg.Path)
	if err != nil {
		return
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		l.entries = append(l.entries, e)
	}
	if len(l.entries) > l.cfg.MaxEntries {
		l.entries = l.entries[len(l.entries)-l.cfg.MaxEntries:]
	}
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".audit-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Stats summarizes the audit ring.
type Stats struct {
	TotalEntries     int                   `json:"total_entries"`
	Successful       int                   `json:"successful"`
	FallbackUsed     int                   `json:"fallback_used"`
	AverageLatencyMs int64                 `json:"average_latency_ms"`
	ByCapability     map[capability.ID]int `json:"by_capability"`
}
